package reactor

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRetransmitter(t *testing.T) {
	var sends []bool
	r := NewRetransmitter(100*time.Millisecond, func(retry bool) { sends = append(sends, retry) })
	t0 := time.Now()

	steps := []struct {
		name         string
		do           func()
		wantState    RetryState
		wantDeadline time.Time
		wantDue      bool
		wantRetries  int
	}{
		{name: "new", do: func() {}, wantState: Sending, wantDue: true},
		{name: "first send", do: func() { r.Expire(t0) }, wantState: Receiving, wantDeadline: t0.Add(100 * time.Millisecond), wantDue: true},
		{name: "timeout", do: func() { r.Expire(t0.Add(100 * time.Millisecond)) }, wantState: Receiving, wantDeadline: t0.Add(200 * time.Millisecond), wantDue: true, wantRetries: 1},
		{name: "progress", do: r.Resend, wantState: Sending, wantDue: true, wantRetries: 1},
		{name: "next send", do: func() { r.Expire(t0.Add(150 * time.Millisecond)) }, wantState: Receiving, wantDeadline: t0.Add(250 * time.Millisecond), wantDue: true, wantRetries: 1},
		{name: "finish", do: r.Finish, wantState: Finished, wantRetries: 1},
		{name: "expire after finish", do: func() { r.Expire(t0.Add(time.Second)) }, wantState: Finished, wantRetries: 1},
		{name: "resend after finish", do: r.Resend, wantState: Finished, wantRetries: 1},
	}
	for _, step := range steps {
		step.do()
		if got := r.State(); got != step.wantState {
			t.Errorf("%s: State() want = %v, got = %v", step.name, step.wantState, got)
		}
		deadline, due := r.Deadline()
		if due != step.wantDue || !deadline.Equal(step.wantDeadline) {
			t.Errorf("%s: Deadline() want = (%v, %v), got = (%v, %v)", step.name, step.wantDeadline, step.wantDue, deadline, due)
		}
		if got := r.Retries(); got != step.wantRetries {
			t.Errorf("%s: Retries() want = %d, got = %d", step.name, step.wantRetries, got)
		}
	}
	if diff := cmp.Diff([]bool{false, true, false}, sends); diff != "" {
		t.Errorf("wrong sends; diff:\n%s", diff)
	}
}

func TestNextTimeout_Retransmitter(t *testing.T) {
	now := time.Now()
	r := NewRetransmitter(time.Second, func(bool) {})
	if got := nextTimeout([]Timer{r}, now); got != 0 {
		t.Errorf("nextTimeout() while Sending want = 0, got = %v", got)
	}
	r.Expire(now)
	if got := nextTimeout([]Timer{r}, now); got != time.Second {
		t.Errorf("nextTimeout() while Receiving want = %v, got = %v", time.Second, got)
	}
	r.Finish()
	if got := nextTimeout([]Timer{r}, now); got != -1 {
		t.Errorf("nextTimeout() once Finished want = -1, got = %v", got)
	}
}
