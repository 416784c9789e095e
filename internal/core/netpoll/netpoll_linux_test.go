//go:build linux

package netpoll

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

func newTestPoller(t *testing.T) *Poller {
	t.Helper()
	p, err := Open(16)
	if err != nil {
		t.Fatalf("error opening poller: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// waitFor polls until fd is reported with all of the wanted interest.
func waitFor(t *testing.T, p *Poller, fd int, want Interest) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var got Interest
		if err := p.Wait(100*time.Millisecond, func(rfd int, ready Interest) {
			if rfd == fd {
				got |= ready
			}
		}); err != nil {
			t.Fatalf("Wait() returned an unexpected error: %v", err)
		}
		if got&want == want {
			return
		}
	}
	t.Fatalf("fd %d never became %v", fd, want)
}

func TestPoller_Wakeup(t *testing.T) {
	p := newTestPoller(t)

	// Repeated wake-ups coalesce and never block.
	for i := 0; i < 3; i++ {
		if err := p.Wakeup(); err != nil {
			t.Fatalf("Wakeup() returned an unexpected error: %v", err)
		}
	}

	start := time.Now()
	calls := 0
	if err := p.Wait(-1, func(int, Interest) { calls++ }); err != nil {
		t.Fatalf("Wait() returned an unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait() after Wakeup() took %v", elapsed)
	}
	if calls != 0 {
		t.Errorf("Wait() reported %d descriptors for a wake-up", calls)
	}

	// The wake-up was consumed, so the next Wait times out.
	if err := p.Wait(10*time.Millisecond, func(int, Interest) { calls++ }); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("Wait() reported %d descriptors after draining the wake-up", calls)
	}
}

func TestStream_RoundTrip(t *testing.T) {
	p := newTestPoller(t)

	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("error listening: %v", err)
	}
	defer ln.Close()
	if err := p.Add(ln.FD(), Readable); err != nil {
		t.Fatal(err)
	}

	client, err := DialTCP(ln.Addr().String())
	if err != nil {
		t.Fatalf("error dialing: %v", err)
	}
	defer client.Close()
	if err := p.Add(client.FD(), Writable); err != nil {
		t.Fatal(err)
	}
	waitFor(t, p, client.FD(), Writable)
	if err := client.FinishConnect(); err != nil {
		t.Fatalf("FinishConnect() returned an unexpected error: %v", err)
	}

	waitFor(t, p, ln.FD(), Readable)
	server, err := ln.Accept()
	if err != nil || server == nil {
		t.Fatalf("Accept() want a connection, got = %v (%v)", server, err)
	}
	defer server.Close()
	if next, err := ln.Accept(); next != nil || err != nil {
		t.Errorf("second Accept() want = nil, nil, got = %v, %v", next, err)
	}

	// Nothing has been sent yet, so a read would block.
	buf := make([]byte, 16)
	if n, err := server.Read(buf); n != 0 || err != nil {
		t.Errorf("Read() on an idle stream want = 0, nil, got = %d, %v", n, err)
	}

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("Write() returned an unexpected error: %v", err)
	}
	if err := unix.Shutdown(client.FD(), unix.SHUT_WR); err != nil {
		t.Fatalf("error shutting down the sending side: %v", err)
	}

	if err := p.Add(server.FD(), Readable); err != nil {
		t.Fatal(err)
	}
	waitFor(t, p, server.FD(), Readable)
	n, err := server.Read(buf)
	if err != nil {
		t.Fatalf("Read() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff([]byte("ping"), buf[:n]); diff != "" {
		t.Errorf("Read() returned the wrong bytes; diff:\n%s", diff)
	}
	waitFor(t, p, server.FD(), Readable)
	if _, err := server.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Read() after the peer closed want = %v, got = %v", io.EOF, err)
	}
}

func TestDatagram_RoundTrip(t *testing.T) {
	p := newTestPoller(t)

	server, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("error binding server: %v", err)
	}
	defer server.Close()
	client, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("error binding client: %v", err)
	}
	defer client.Close()

	buf := make([]byte, 64)
	if n, from, err := server.RecvFrom(buf); n != 0 || from != nil || err != nil {
		t.Errorf("RecvFrom() on an idle socket want = 0, nil, nil, got = %d, %v, %v", n, from, err)
	}

	if ok, err := client.SendTo([]byte("hello"), server.Addr()); !ok || err != nil {
		t.Fatalf("SendTo() want = true, nil, got = %v, %v", ok, err)
	}
	if err := p.Add(server.FD(), Readable); err != nil {
		t.Fatal(err)
	}
	waitFor(t, p, server.FD(), Readable)

	n, from, err := server.RecvFrom(buf)
	if err != nil {
		t.Fatalf("RecvFrom() returned an unexpected error: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("RecvFrom() want = hello, got = %q", buf[:n])
	}
	if from.Port != client.Addr().Port {
		t.Errorf("RecvFrom() sender port want = %d, got = %d", client.Addr().Port, from.Port)
	}
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "descriptor exhaustion", err: unix.EMFILE, want: true},
		{name: "aborted handshake", err: unix.ECONNABORTED, want: true},
		{name: "bad descriptor", err: unix.EBADF, want: false},
		{name: "not an errno", err: io.EOF, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporary(tt.err); got != tt.want {
				t.Errorf("IsTemporary(%v) want = %v, got = %v", tt.err, tt.want, got)
			}
		})
	}
}
