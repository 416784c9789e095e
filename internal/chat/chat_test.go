package chat

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core/reactor"
	"github.com/dcrodman/muxnet/internal/packets"
)

func startTestServer(t *testing.T) (*Server, *reactor.Loop, string, <-chan error) {
	t.Helper()
	loop, err := reactor.NewLoop(reactor.Config{Name: "CHAT"}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("error creating loop: %v", err)
	}
	s := &Server{Name: "CHAT", Logger: zap.NewNop().Sugar()}
	addr, err := s.Init(loop, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("error initializing server: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()
	return s, loop, addr.String(), done
}

// waitForConns blocks until the loop has n live connections.
func waitForConns(t *testing.T, loop *reactor.Loop, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got := make(chan int, 1)
		loop.Submit(func() { got <- loop.Stats().Connections })
		if <-got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server never reached %d connections", n)
}

func readMessage(conn net.Conn) (packets.ChatMessage, error) {
	readString := func() (string, error) {
		var size [4]byte
		if _, err := io.ReadFull(conn, size[:]); err != nil {
			return "", err
		}
		n := int(size[0])<<24 | int(size[1])<<16 | int(size[2])<<8 | int(size[3])
		b := make([]byte, n)
		if _, err := io.ReadFull(conn, b); err != nil {
			return "", err
		}
		return string(b), nil
	}
	login, err := readString()
	if err != nil {
		return packets.ChatMessage{}, err
	}
	text, err := readString()
	return packets.ChatMessage{Login: login, Text: text}, err
}

func TestServer_BroadcastExcludesOrigin(t *testing.T) {
	defer leaktest.Check(t)()
	s, loop, addr, done := startTestServer(t)

	var peers []net.Conn
	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("error connecting to server: %v", err)
		}
		defer conn.Close()
		peers = append(peers, conn)
	}
	waitForConns(t, loop, 3)
	alice, bob, carol := peers[0], peers[1], peers[2]

	want := packets.ChatMessage{Login: "alice", Text: "hi"}
	if _, err := alice.Write(want.Append(nil)); err != nil {
		t.Fatal(err)
	}

	for name, peer := range map[string]net.Conn{"bob": bob, "carol": carol} {
		_ = peer.SetReadDeadline(time.Now().Add(5 * time.Second))
		got, err := readMessage(peer)
		if err != nil {
			t.Fatalf("%s: error reading broadcast: %v", name, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s received the wrong message; diff:\n%s", name, diff)
		}
	}

	// Bob's reply reaches alice, which proves alice's stream holds nothing
	// before it.
	reply := packets.ChatMessage{Login: "bob", Text: "hello alice"}
	if _, err := bob.Write(reply.Append(nil)); err != nil {
		t.Fatal(err)
	}
	_ = alice.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := readMessage(alice)
	if err != nil {
		t.Fatalf("alice: error reading broadcast: %v", err)
	}
	if diff := cmp.Diff(reply, got); diff != "" {
		t.Errorf("alice received the wrong message; diff:\n%s", diff)
	}

	// Carol gets bob's reply too, and nothing else is pending for anyone.
	_ = carol.SetReadDeadline(time.Now().Add(5 * time.Second))
	if got, err := readMessage(carol); err != nil || got != reply {
		t.Errorf("carol want = %+v, got = %+v (%v)", reply, got, err)
	}
	for _, peer := range peers {
		_ = peer.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		var b [1]byte
		if _, err := peer.Read(b[:]); !errors.Is(err, os.ErrDeadlineExceeded) {
			t.Errorf("unexpected extra data or error: %v", err)
		}
	}

	delivered := make(chan uint64, 1)
	loop.Submit(func() { delivered <- s.Delivered() })
	if n := <-delivered; n != 4 {
		t.Errorf("Delivered() want = 4, got = %d", n)
	}

	loop.ShutdownNow()
	<-done
}

func TestServer_MalformedClosesOnlySender(t *testing.T) {
	defer leaktest.Check(t)()
	_, loop, addr, done := startTestServer(t)

	good, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer good.Close()
	bad, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer bad.Close()
	waitForConns(t, loop, 2)

	// A negative login length.
	if _, err := bad.Write([]byte{0x80, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	_ = bad.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := bad.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("read from malformed sender want = %v, got = %v", io.EOF, err)
	}
	waitForConns(t, loop, 1)

	loop.ShutdownNow()
	<-done
}

func TestClient(t *testing.T) {
	defer leaktest.Check(t)()
	_, serverLoop, addr, serverDone := startTestServer(t)

	peer, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()

	clientLoop, err := reactor.NewLoop(reactor.Config{Name: "alice"}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	received := make(chan packets.ChatMessage, 1)
	client := &Client{
		Login:     "alice",
		Logger:    zap.NewNop().Sugar(),
		OnMessage: func(msg packets.ChatMessage) { received <- msg },
	}
	if err := client.Init(clientLoop, addr); err != nil {
		t.Fatalf("error initializing client: %v", err)
	}
	clientDone := make(chan error, 1)
	go func() { clientDone <- clientLoop.Run(context.Background()) }()
	waitForConns(t, serverLoop, 2)

	// Console text becomes a message.
	clientLoop.Execute("good morning")
	_ = peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := readMessage(peer)
	if err != nil {
		t.Fatalf("error reading client message: %v", err)
	}
	if diff := cmp.Diff(packets.ChatMessage{Login: "alice", Text: "good morning"}, got); diff != "" {
		t.Errorf("peer received the wrong message; diff:\n%s", diff)
	}

	reply := packets.ChatMessage{Login: "bob", Text: "morning"}
	if _, err := peer.Write(reply.Append(nil)); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-received:
		if diff := cmp.Diff(reply, msg); diff != "" {
			t.Errorf("client received the wrong message; diff:\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client never received the reply")
	}

	// The client loop ends once the server goes away.
	serverLoop.ShutdownNow()
	<-serverDone
	select {
	case err := <-clientDone:
		if err != nil {
			t.Errorf("client Run() returned an unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client loop did not exit after the server closed")
	}
}
