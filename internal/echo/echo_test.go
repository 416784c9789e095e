package echo

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core/reactor"
)

func newTestServer(t *testing.T) (*reactor.Loop, string, <-chan error) {
	t.Helper()
	loop, err := reactor.NewLoop(reactor.Config{Name: "ECHO", BufferSize: 64}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("error creating loop: %v", err)
	}
	s := &Server{Name: "ECHO", Logger: zap.NewNop().Sugar()}
	addr, err := s.Init(loop, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("error initializing server: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()
	return loop, addr.String(), done
}

func TestEcho(t *testing.T) {
	defer leaktest.Check(t)()
	loop, addr, done := newTestServer(t)

	payload := make([]byte, 100_000)
	rand.New(rand.NewSource(1)).Read(payload)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("error connecting to server: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	// Writing everything before reading anything fills both directions and
	// exercises the server's backpressure.
	go func() {
		conn.Write(payload)
		conn.(*net.TCPConn).CloseWrite()
	}()

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("error reading echoed bytes: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("echoed %d bytes that differ from the %d sent", len(got), len(payload))
	}

	loop.ShutdownNow()
	<-done
}

func TestUDPServer(t *testing.T) {
	tests := []struct {
		name  string
		plus  bool
		ports int
		want  []byte
	}{
		{name: "echo", want: []byte{0, 1, 'a', 255}},
		{name: "plus", plus: true, want: []byte{1, 2, 'b', 0}},
		{name: "port range", plus: true, ports: 3, want: []byte{1, 2, 'b', 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer leaktest.Check(t)()
			loop, err := reactor.NewLoop(reactor.Config{Name: "ECHOUDP"}, zap.NewNop().Sugar())
			if err != nil {
				t.Fatalf("error creating loop: %v", err)
			}
			s := &UDPServer{Name: "ECHOUDP", Plus: tt.plus, Ports: tt.ports, Logger: zap.NewNop().Sugar()}
			if _, err := s.Init(loop, "127.0.0.1:0"); err != nil {
				t.Fatalf("error initializing server: %v", err)
			}
			done := make(chan error, 1)
			go func() { done <- loop.Run(context.Background()) }()
			defer func() {
				loop.ShutdownNow()
				<-done
			}()

			addrs := s.Addrs()
			if len(addrs) != max(tt.ports, 1) {
				t.Fatalf("Addrs() want %d addresses, got = %v", max(tt.ports, 1), addrs)
			}
			buf := make([]byte, 64)
			for _, addr := range addrs {
				conn, err := net.DialUDP("udp", nil, addr)
				if err != nil {
					t.Fatal(err)
				}
				_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
				if _, err := conn.Write([]byte{0, 1, 'a', 255}); err != nil {
					t.Fatal(err)
				}
				n, err := conn.Read(buf)
				conn.Close()
				if err != nil {
					t.Fatalf("error reading answer from %v: %v", addr, err)
				}
				if diff := cmp.Diff(tt.want, buf[:n]); diff != "" {
					t.Errorf("wrong answer from %v; diff:\n%s", addr, diff)
				}
			}

			report := make(chan string, len(addrs))
			loop.Submit(func() {
				for _, p := range s.endpoints {
					report <- p.Report()
				}
			})
			for _, addr := range addrs {
				want := addr.String() + ": 1 datagrams echoed (4 bytes)"
				if got := <-report; got != want {
					t.Errorf("Report() want = %q, got = %q", want, got)
				}
			}
		})
	}
}

func TestUDPServer_PortRangeOutOfBounds(t *testing.T) {
	loop, err := reactor.NewLoop(reactor.Config{Name: "ECHOUDP"}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()
	s := &UDPServer{Name: "ECHOUDP", Ports: 2, Logger: zap.NewNop().Sugar()}
	if _, err := s.Init(loop, "127.0.0.1:65535"); err == nil {
		t.Error("Init() with a range past port 65535 want error, got nil")
	}
}
