package reactor

import "time"

// RetryState is the state of a Retransmitter.
type RetryState int

const (
	// Sending means the next units are due now.
	Sending RetryState = iota
	// Receiving means units are in flight and a timeout is pending.
	Receiving
	// Finished means the exchange is over.
	Finished
)

func (s RetryState) String() string {
	switch s {
	case Sending:
		return "Sending"
	case Receiving:
		return "Receiving"
	case Finished:
		return "Finished"
	}
	return "RetryState(?)"
}

// Retransmitter is a Timer driving a request/response exchange over an
// unreliable transport. In Sending it is due immediately and calls send; it
// then waits in Receiving until the timeout has passed since that send, at
// which point it calls send again. Whoever processes the responses moves it
// back to Sending with Resend or ends it with Finish.
//
// A retransmission never cancels what is in flight, so the peer must tolerate
// duplicates.
type Retransmitter struct {
	timeout time.Duration
	send    func(retry bool)
	state   RetryState
	sentAt  time.Time
	retries int
}

// NewRetransmitter returns a Retransmitter in the Sending state. send is told
// whether the call is a retransmission caused by a timeout.
func NewRetransmitter(timeout time.Duration, send func(retry bool)) *Retransmitter {
	return &Retransmitter{timeout: timeout, send: send}
}

func (r *Retransmitter) State() RetryState { return r.state }

// Retries returns the number of sends caused by a timeout.
func (r *Retransmitter) Retries() int { return r.retries }

func (r *Retransmitter) Deadline() (time.Time, bool) {
	switch r.state {
	case Sending:
		return time.Time{}, true
	case Receiving:
		return r.sentAt.Add(r.timeout), true
	}
	return time.Time{}, false
}

func (r *Retransmitter) Expire(now time.Time) {
	if r.state == Finished {
		return
	}
	retry := r.state == Receiving
	if retry {
		r.retries++
	}
	r.sentAt = now
	r.state = Receiving
	r.send(retry)
}

// Resend makes the next units due immediately.
func (r *Retransmitter) Resend() {
	if r.state != Finished {
		r.state = Sending
	}
}

func (r *Retransmitter) Finish() { r.state = Finished }
