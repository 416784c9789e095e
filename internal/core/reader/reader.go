// Package reader contains the incremental decoders used on inbound connection
// buffers. A decoder can be fed arbitrarily fragmented input across any number
// of Process calls and reports explicitly when a value is complete.
//
// Every decoder takes its input cursor in Accumulate mode and hands it back in
// Accumulate mode holding whatever bytes it did not consume, so several
// decoders can be chained over one buffer fill.
package reader

import (
	"fmt"

	"github.com/dcrodman/muxnet/internal/core/cursor"
)

// Status is the outcome of a Process call.
type Status int

const (
	// NeedMoreData means every available byte was consumed and the value is
	// not complete yet.
	NeedMoreData Status = iota
	// Done means a value is available from Get. Bytes following the value are
	// left in the cursor.
	Done
	// Malformed means the input violates the format. The connection it came
	// from should be closed.
	Malformed
)

func (s Status) String() string {
	switch s {
	case NeedMoreData:
		return "NeedMoreData"
	case Done:
		return "Done"
	case Malformed:
		return "Malformed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Reader is an incremental decoder of values of type T.
//
// Process must not be called again once it has returned Done or Malformed
// until Reset is called, and Get may only be called after Done. Both mistakes
// panic.
type Reader[T any] interface {
	Process(in *cursor.Cursor) Status
	Get() T
	Reset()
}

// state tracks the lifecycle shared by every reader.
type state struct {
	status Status
}

func (s *state) checkProcess() {
	if s.status != NeedMoreData {
		panic(fmt.Sprintf("reader: Process called after %v without Reset", s.status))
	}
}

func (s *state) checkGet() {
	if s.status != Done {
		panic(fmt.Sprintf("reader: Get called in state %v", s.status))
	}
}

func (s *state) set(st Status) Status {
	s.status = st
	return st
}

// drain runs fn with in flipped to Drain mode and compacts it afterwards.
func drain(in *cursor.Cursor, fn func() Status) Status {
	if err := in.Flip(); err != nil {
		panic(fmt.Sprintf("reader: input cursor must be in accumulate mode: %v", err))
	}
	defer func() { _ = in.Compact() }()
	return fn()
}

// fixed accumulates exactly len(buf) bytes.
type fixed struct {
	buf []byte
	n   int
}

// fill copies as many unread bytes of in as still fit and reports whether buf
// is now full. in must be in Drain mode.
func (f *fixed) fill(in *cursor.Cursor) bool {
	k := copy(f.buf[f.n:], in.Unread())
	_ = in.Skip(k)
	f.n += k
	return f.n == len(f.buf)
}

func (f *fixed) reset() { f.n = 0 }
