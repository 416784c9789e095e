package session

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultIdleTimeout is how long a session is kept after its last operand.
const DefaultIdleTimeout = 5 * time.Minute

// Tracker holds the sessions of one server. Sessions that receive nothing for
// the idle timeout are dropped by Sweep, whether complete or not.
//
// The cache runs no janitor goroutine: the owning loop calls Sweep, so the
// loop stays the only goroutine that touches session state.
type Tracker struct {
	sessions *cache.Cache
	logger   *zap.SugaredLogger
}

func New(idle time.Duration, logger *zap.SugaredLogger) *Tracker {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	t := &Tracker{
		sessions: cache.New(idle, 0),
		logger:   logger,
	}
	t.sessions.OnEvicted(func(key string, v interface{}) {
		s := v.(*State)
		if !s.completed {
			t.logger.Debugf("dropping incomplete session %s (%d of %d operands missing)", key, s.Missing(), s.Total)
		}
	})
	return t
}

// Get returns the session of peer with the given id, creating it when it does
// not exist. Every call counts as activity and restarts the idle timeout.
func (t *Tracker) Get(peer string, id, total int64) (*State, error) {
	key := Key{Peer: peer, ID: id}
	if v, ok := t.sessions.Get(key.String()); ok {
		s := v.(*State)
		if s.Total != total {
			return nil, fmt.Errorf("%w: session %s has %d, got %d", ErrTotalMismatch, key, s.Total, total)
		}
		t.sessions.SetDefault(key.String(), s)
		return s, nil
	}

	s, err := newState(key, total)
	if err != nil {
		return nil, err
	}
	t.sessions.SetDefault(key.String(), s)
	return s, nil
}

// Remove forgets a session and reports whether it existed.
func (t *Tracker) Remove(peer string, id int64) bool {
	key := Key{Peer: peer, ID: id}.String()
	_, ok := t.sessions.Get(key)
	t.sessions.Delete(key)
	return ok
}

// Sweep drops the sessions that have been idle for longer than the timeout
// and returns how many were dropped.
func (t *Tracker) Sweep() int {
	before := t.sessions.ItemCount()
	t.sessions.DeleteExpired()
	return before - t.sessions.ItemCount()
}

// Len returns the number of live sessions.
func (t *Tracker) Len() int {
	return len(t.sessions.Items())
}
