package reader

import (
	"bytes"
	"encoding/binary"

	"github.com/dcrodman/muxnet/internal/core/cursor"
)

// IntReader decodes a big-endian int32. It never reports Malformed.
type IntReader struct {
	state
	scratch [4]byte
	f       fixed
	value   int32
}

func NewIntReader() *IntReader {
	r := &IntReader{}
	r.f.buf = r.scratch[:]
	return r
}

func (r *IntReader) Process(in *cursor.Cursor) Status {
	r.checkProcess()
	return drain(in, func() Status {
		if !r.f.fill(in) {
			return NeedMoreData
		}
		r.value = int32(binary.BigEndian.Uint32(r.scratch[:]))
		return r.set(Done)
	})
}

func (r *IntReader) Get() int32 {
	r.checkGet()
	return r.value
}

func (r *IntReader) Reset() {
	r.f.reset()
	r.status = NeedMoreData
}

// LongReader decodes a big-endian int64. It never reports Malformed.
type LongReader struct {
	state
	scratch [8]byte
	f       fixed
	value   int64
}

func NewLongReader() *LongReader {
	r := &LongReader{}
	r.f.buf = r.scratch[:]
	return r
}

func (r *LongReader) Process(in *cursor.Cursor) Status {
	r.checkProcess()
	return drain(in, func() Status {
		if !r.f.fill(in) {
			return NeedMoreData
		}
		r.value = int64(binary.BigEndian.Uint64(r.scratch[:]))
		return r.set(Done)
	})
}

func (r *LongReader) Get() int64 {
	r.checkGet()
	return r.value
}

func (r *LongReader) Reset() {
	r.f.reset()
	r.status = NeedMoreData
}

// BytesReader reads exactly n bytes, such as an HTTP body with a known
// Content-Length.
type BytesReader struct {
	state
	f fixed
}

func NewBytesReader(n int) *BytesReader {
	return &BytesReader{f: fixed{buf: make([]byte, n)}}
}

func (r *BytesReader) Process(in *cursor.Cursor) Status {
	r.checkProcess()
	return drain(in, func() Status {
		if !r.f.fill(in) {
			return NeedMoreData
		}
		return r.set(Done)
	})
}

// Get returns a copy of the bytes read.
func (r *BytesReader) Get() []byte {
	r.checkGet()
	return bytes.Clone(r.f.buf)
}

func (r *BytesReader) Reset() {
	r.f.reset()
	r.status = NeedMoreData
}
