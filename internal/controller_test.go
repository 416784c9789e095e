package internal

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core"
	"github.com/dcrodman/muxnet/internal/core/data"
	"github.com/dcrodman/muxnet/internal/core/reactor"
	"github.com/dcrodman/muxnet/internal/packets"
)

// freePort returns a port nothing is listening on for network.
func freePort(t *testing.T, network string) int {
	t.Helper()
	if network == "udp" {
		conn, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		return conn.LocalAddr().(*net.UDPAddr).Port
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	cfg, err := core.LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("error loading default config: %v", err)
	}
	cfg.Hostname = "127.0.0.1"
	cfg.ChatServer.Port = 0
	cfg.EchoServer.Port = 0
	cfg.EchoUDPServer.Port = 0
	cfg.SumServer.Port = 0
	cfg.LongSumUDPServer.Port = 0
	cfg.UpperUDPServer.Port = 0
	return cfg
}

// openFDs returns the number of descriptors the process has open.
func openFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot count descriptors: %v", err)
	}
	return len(entries)
}

func dialRetry(t *testing.T, network, address string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial(network, address)
		if err == nil {
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("error connecting to %s: %v", address, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestController(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.EchoServer.Port = freePort(t, "tcp")
	cfg.LongSumUDPServer.Port = freePort(t, "udp")
	cfg.EchoUDPServer.Port = freePort(t, "udp")
	cfg.EchoUDPServer.Plus = true
	cfg.Database.Engine = "sqlite"
	cfg.Database.Filename = "results.db"

	console, commands := io.Pipe()
	defer commands.Close()
	c := &Controller{Config: cfg, DataDir: dir, Console: console, Logger: zap.NewNop().Sugar()}
	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	echo := dialRetry(t, "tcp", cfg.ListenAddress(cfg.EchoServer.Port))
	if _, err := echo.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	if _, err := io.ReadFull(echo, buf[:4]); err != nil {
		t.Fatalf("error reading echo: %v", err)
	}
	if got := string(buf[:4]); got != "ping" {
		t.Errorf("echo want = %q, got = %q", "ping", got)
	}
	echo.Close()

	// The UDP server may not be bound yet, so the operand is sent until the
	// result comes back.
	udp := dialRetry(t, "udp", cfg.ListenAddress(cfg.LongSumUDPServer.Port))
	defer udp.Close()
	var res packets.Datagram
	for res == nil {
		if _, err := udp.Write(packets.Op{SessionID: 9, Index: 0, Total: 1, Value: 42}.Append(nil)); err != nil {
			t.Fatal(err)
		}
		_ = udp.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		for {
			n, err := udp.Read(buf)
			if err != nil {
				break
			}
			if d, err := packets.DecodeLongSum(buf[:n]); err == nil && d.Type() == packets.ResType {
				res = d
				break
			}
		}
	}
	if diff := cmp.Diff(packets.Res{SessionID: 9, Sum: 42}, res); diff != "" {
		t.Errorf("wrong result; diff:\n%s", diff)
	}

	plus := dialRetry(t, "udp", cfg.ListenAddress(cfg.EchoUDPServer.Port))
	defer plus.Close()
	for {
		if _, err := plus.Write([]byte("HAL")); err != nil {
			t.Fatal(err)
		}
		_ = plus.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if n, err := plus.Read(buf); err == nil {
			if got := string(buf[:n]); got != "IBM" {
				t.Errorf("plus echo want = IBM, got = %q", got)
			}
			break
		}
	}

	if _, err := io.WriteString(commands, "INFO\nSHUTDOWN\n"); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() returned an unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("servers did not shut down")
	}
	commands.Close()

	db, err := data.Open(data.Options{Engine: "sqlite", Filename: filepath.Join(dir, "results.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer data.Shutdown(db)
	results, err := data.FindResultsByPeer(db, udp.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Sum != 42 || results[0].SessionID != 9 {
		t.Errorf("ledger want one result of 42 for session 9, got = %+v", results)
	}
}

func TestController_NoServers(t *testing.T) {
	c := &Controller{Config: testConfig(t), Logger: zap.NewNop().Sugar()}
	if err := c.Start(context.Background()); err == nil {
		t.Error("Start() with every server disabled want error, got nil")
	}
}

func TestController_PortInUse(t *testing.T) {
	defer leaktest.Check(t)()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	// CHAT is started before ECHO fails and must be released.
	cfg := testConfig(t)
	cfg.ChatServer.Port = freePort(t, "tcp")
	cfg.EchoServer.Port = ln.Addr().(*net.TCPAddr).Port
	c := &Controller{Config: cfg, Logger: zap.NewNop().Sugar()}
	before := openFDs(t)
	if err := c.Start(context.Background()); err == nil {
		t.Error("Start() with a port in use want error, got nil")
	}
	if after := openFDs(t); after != before {
		t.Errorf("open descriptors want = %d, got = %d", before, after)
	}
}

type failingBackend struct{}

func (failingBackend) Identifier() string { return "FAIL" }

func (failingBackend) Init(loop *reactor.Loop, address string) (net.Addr, error) {
	if _, err := loop.Listen("127.0.0.1:0", nil); err != nil {
		return nil, err
	}
	return nil, errors.New("no good")
}

func TestFrontend_StartFailureReleasesLoop(t *testing.T) {
	cfg := testConfig(t)
	before := openFDs(t)
	for range 10 {
		f := &frontend{Address: "127.0.0.1:0", Backend: failingBackend{}, Config: cfg, Logger: zap.NewNop().Sugar()}
		if err := f.Start(); err == nil {
			t.Fatal("Start() with a failing backend want error, got nil")
		}
	}
	if after := openFDs(t); after != before {
		t.Errorf("open descriptors want = %d, got = %d", before, after)
	}
}

func TestController_ContextCancellation(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := testConfig(t)
	cfg.ChatServer.Port = freePort(t, "tcp")
	cfg.UpperUDPServer.Port = freePort(t, "udp")
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{Config: cfg, Logger: zap.NewNop().Sugar()}
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	conn := dialRetry(t, "tcp", cfg.ListenAddress(cfg.ChatServer.Port))
	conn.Close()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned an unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("servers did not shut down")
	}
}
