package reactor

import "time"

// Timer is consulted by the loop on every iteration. The loop never sleeps
// past the earliest deadline of its timers and calls Expire once that
// deadline has passed. Deadlines must come from the monotonic clock, which is
// what time.Now and Time.Add produce.
type Timer interface {
	// Deadline reports when the timer next wants to run, if at all.
	Deadline() (time.Time, bool)
	Expire(now time.Time)
}

// ticker runs a function at a fixed interval.
type ticker struct {
	every time.Duration
	next  time.Time
	fn    func(now time.Time)
}

// Every returns a Timer that calls fn every interval, starting one interval
// from now.
func Every(interval time.Duration, fn func(now time.Time)) Timer {
	return &ticker{every: interval, next: time.Now().Add(interval), fn: fn}
}

func (t *ticker) Deadline() (time.Time, bool) { return t.next, true }

func (t *ticker) Expire(now time.Time) {
	t.fn(now)
	t.next = now.Add(t.every)
}

// oneShot runs a function once.
type oneShot struct {
	at    time.Time
	fn    func(now time.Time)
	fired bool
}

// After returns a Timer that calls fn once, d from now.
func After(d time.Duration, fn func(now time.Time)) Timer {
	return &oneShot{at: time.Now().Add(d), fn: fn}
}

func (t *oneShot) Deadline() (time.Time, bool) { return t.at, !t.fired }

func (t *oneShot) Expire(now time.Time) {
	t.fired = true
	t.fn(now)
}

// nextTimeout returns how long the loop may wait before a timer is due, or -1
// when no timer has a deadline.
func nextTimeout(timers []Timer, now time.Time) time.Duration {
	timeout := time.Duration(-1)
	for _, t := range timers {
		deadline, ok := t.Deadline()
		if !ok {
			continue
		}
		d := max(deadline.Sub(now), 0)
		if timeout < 0 || d < timeout {
			timeout = d
		}
	}
	return timeout
}
