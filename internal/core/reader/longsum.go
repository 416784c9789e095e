package reader

import (
	"github.com/dcrodman/muxnet/internal/core/cursor"
)

// LongSumReader decodes a stream long-sum request: an int32 operand count
// followed by that many int64 operands. A negative count or one larger than
// the configured maximum is Malformed.
type LongSumReader struct {
	state
	max      int
	count    *IntReader
	counted  bool
	want     int
	operand  *LongReader
	operands []int64
}

func NewLongSumReader(maxOperands int) *LongSumReader {
	return &LongSumReader{
		max:     maxOperands,
		count:   NewIntReader(),
		operand: NewLongReader(),
	}
}

func (r *LongSumReader) Process(in *cursor.Cursor) Status {
	r.checkProcess()

	if !r.counted {
		if st := r.count.Process(in); st != Done {
			return r.set(st)
		}
		n := int(r.count.Get())
		if n < 0 || n > r.max {
			return r.set(Malformed)
		}
		r.counted = true
		r.want = n
		r.operands = make([]int64, 0, n)
	}

	for len(r.operands) < r.want {
		if st := r.operand.Process(in); st != Done {
			return r.set(st)
		}
		r.operands = append(r.operands, r.operand.Get())
		r.operand.Reset()
	}
	return r.set(Done)
}

func (r *LongSumReader) Get() []int64 {
	r.checkGet()
	return r.operands
}

func (r *LongSumReader) Reset() {
	r.count.Reset()
	r.operand.Reset()
	r.counted = false
	r.want = 0
	r.operands = nil
	r.status = NeedMoreData
}
