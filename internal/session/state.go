// Package session tracks the reliable long-sum sessions received over UDP.
// Each (peer, session id) pair accumulates operands by index; a retransmitted
// operand is never counted twice and the final sum is reported exactly once.
package session

import (
	"errors"
	"fmt"
	"math/bits"
)

// MaxTotal bounds the number of operands a single session may declare.
const MaxTotal = 1 << 20

var (
	ErrIndexOutOfRange = errors.New("session: operand index out of range")
	ErrInvalidTotal    = errors.New("session: invalid operand total")
	ErrTotalMismatch   = errors.New("session: operand total differs from the session's")
)

// Key identifies a session.
type Key struct {
	Peer string
	ID   int64
}

func (k Key) String() string { return fmt.Sprintf("%s#%d", k.Peer, k.ID) }

// State is the progress of one session.
type State struct {
	Key
	Total int64
	Sum   int64
	Count int64

	received  []uint64
	completed bool
}

func newState(key Key, total int64) (*State, error) {
	if total <= 0 || total > MaxTotal {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTotal, total)
	}
	return &State{
		Key:      key,
		Total:    total,
		received: make([]uint64, (total+63)/64),
	}, nil
}

// Received reports whether the operand at index has been counted.
func (s *State) Received(index int64) bool {
	if index < 0 || index >= s.Total {
		return false
	}
	return s.received[index/64]&(1<<(index%64)) != 0
}

// Complete reports whether every operand has been received.
func (s *State) Complete() bool { return s.completed }

// Update counts value as the operand at index. It returns the final sum and
// true on the call that supplies the last missing operand, and false on every
// other call. Duplicate indexes are ignored.
func (s *State) Update(index, value int64) (int64, bool, error) {
	if index < 0 || index >= s.Total {
		return 0, false, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, s.Total)
	}
	if s.Received(index) {
		return 0, false, nil
	}
	s.received[index/64] |= 1 << (index % 64)
	s.Sum += value
	s.Count++

	if s.Count == s.Total {
		s.completed = true
		return s.Sum, true, nil
	}
	return 0, false, nil
}

// Missing returns the number of operands not yet received.
func (s *State) Missing() int64 {
	var have int
	for _, w := range s.received {
		have += bits.OnesCount64(w)
	}
	return s.Total - int64(have)
}
