// Package reactor implements a single-threaded, readiness-driven event loop
// and the per-connection context it dispatches to.
//
// Exactly one goroutine runs a Loop. Every Conn, Endpoint and Timer registered
// with it is only touched from that goroutine; other goroutines talk to the
// loop through Submit and Execute, which queue work and wake it up.
package reactor

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/creachadair/mds/queue"
	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core/netpoll"
)

// Endpoint is anything with a descriptor the loop can poll: connections,
// listeners and datagram sockets.
type Endpoint interface {
	FD() int
	// Interest is re-evaluated after every event and timer run. An empty
	// interest removes and closes the endpoint.
	Interest() netpoll.Interest
	HandleEvent(ready netpoll.Interest) error
	Close() error
}

// Reporter is implemented by endpoints that have something to add to the
// output of the INFO command.
type Reporter interface {
	Report() string
}

type Config struct {
	// Name tags every log line of the loop, e.g. "CHAT".
	Name string
	// Capacity of each connection's inbound and outbound cursor.
	BufferSize int
	// Maximum number of descriptors reported per poll.
	PollEvents int
	// Connections accepted beyond this number are closed immediately. Zero
	// means no limit.
	MaxConnections int
	// Log every decoded inbound value at debug level.
	PacketLogging bool
	// How long a graceful shutdown waits for connections to close before
	// closing them. Zero means DefaultShutdownGrace and a negative value waits
	// indefinitely.
	ShutdownGrace time.Duration
}

const (
	DefaultBufferSize    = 1024
	DefaultShutdownGrace = 10 * time.Second
)

// Stats are the connection counters of a loop.
type Stats struct {
	Connections int
	Accepted    uint64
	Rejected    uint64
	Closed      uint64
}

type registration struct {
	ep       Endpoint
	interest netpoll.Interest
	conn     *Conn
	// Listeners and bound datagram sockets are closed by Shutdown, and an
	// error from one of them ends the loop.
	server bool
}

// Loop polls its endpoints and dispatches readiness to them.
type Loop struct {
	cfg    Config
	logger *zap.SugaredLogger
	poller *netpoll.Poller

	endpoints map[int]*registration
	conns     map[uint64]*Conn
	timers    []Timer
	nextID    uint64
	stats     Stats
	onText    func(string)

	draining bool
	stopped  bool
	fatal    error

	mu       sync.Mutex
	commands *queue.Queue[func()]
	closed   bool
}

func NewLoop(cfg Config, logger *zap.SugaredLogger) (*Loop, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	poller, err := netpoll.Open(cfg.PollEvents)
	if err != nil {
		return nil, fmt.Errorf("error creating poller for %s: %w", cfg.Name, err)
	}
	return &Loop{
		cfg:       cfg,
		logger:    logger,
		poller:    poller,
		endpoints: make(map[int]*registration),
		conns:     make(map[uint64]*Conn),
		commands:  queue.New[func()](),
	}, nil
}

func (l *Loop) Name() string { return l.cfg.Name }

// Listen accepts TCP connections on address, creating each connection's
// handler with newHandler.
func (l *Loop) Listen(address string, newHandler func(c *Conn) Handler) (*net.TCPAddr, error) {
	ln, err := netpoll.ListenTCP(address)
	if err != nil {
		return nil, fmt.Errorf("error listening on %s: %w", address, err)
	}
	a := &acceptor{loop: l, ln: ln, newHandler: newHandler}
	if err := l.register(a, nil, true); err != nil {
		ln.Close()
		return nil, err
	}
	l.logger.Infof("[%s] waiting for connections on %v", l.cfg.Name, ln.Addr())
	return ln.Addr(), nil
}

// Connect starts a TCP connection to address served by handler. Frames may be
// queued on the returned Conn straight away; they are sent once the
// connection is established.
func (l *Loop) Connect(address string, handler Handler) (*Conn, error) {
	s, err := netpoll.DialTCP(address)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", address, err)
	}
	c := l.newConn(s)
	c.handler = handler
	if err := l.register(c, c, false); err != nil {
		s.Close()
		return nil, err
	}
	return c, nil
}

// AddEndpoint registers a bound endpoint such as a datagram socket. An error
// returned from its HandleEvent ends the loop.
func (l *Loop) AddEndpoint(ep Endpoint) error {
	return l.register(ep, nil, true)
}

// AddTimer adds a timer consulted on every iteration of the loop.
func (l *Loop) AddTimer(t Timer) {
	l.timers = append(l.timers, t)
}

// HandleText sets the function run with every console line that is not a
// command. It must be called before Run.
func (l *Loop) HandleText(fn func(text string)) {
	l.onText = fn
}

// Conns calls fn for every live connection, in no particular order.
func (l *Loop) Conns(fn func(c *Conn)) {
	for _, c := range l.conns {
		if !c.closed {
			fn(c)
		}
	}
}

// Stats returns the loop's counters. It must be called from the loop.
func (l *Loop) Stats() Stats {
	s := l.stats
	s.Connections = len(l.conns)
	return s
}

func (l *Loop) newConn(t Transport) *Conn {
	l.nextID++
	c := newConn(l.nextID, t, l.cfg.BufferSize, l, l.logger)
	c.debug = l.cfg.PacketLogging
	return c
}

func (l *Loop) register(ep Endpoint, c *Conn, server bool) error {
	fd := ep.FD()
	interest := ep.Interest()
	if err := l.poller.Add(fd, interest); err != nil {
		return fmt.Errorf("error registering descriptor %d: %w", fd, err)
	}
	l.endpoints[fd] = &registration{ep: ep, interest: interest, conn: c, server: server}
	if c != nil {
		l.conns[c.id] = c
	}
	return nil
}

// update brings the registered interest of ep in line with what it wants,
// removing it when it wants nothing.
func (l *Loop) update(ep Endpoint) {
	r, ok := l.endpoints[ep.FD()]
	if !ok || r.ep != ep {
		return
	}
	want := ep.Interest()
	if want == 0 {
		l.remove(r)
		return
	}
	if want == r.interest {
		return
	}
	if err := l.poller.Modify(ep.FD(), want); err != nil {
		l.logger.Warnf("[%s] failed to update interest of %v: %v", l.cfg.Name, ep, err)
		l.remove(r)
		return
	}
	r.interest = want
}

func (l *Loop) remove(r *registration) {
	fd := r.ep.FD()
	if l.endpoints[fd] != r {
		return
	}
	delete(l.endpoints, fd)
	// The descriptor may already be closed, in which case the kernel has
	// dropped it from the poller.
	_ = l.poller.Remove(fd)
	if err := r.ep.Close(); err != nil {
		l.logger.Debugf("[%s] error closing %v: %v", l.cfg.Name, r.ep, err)
	}

	if c := r.conn; c != nil {
		delete(l.conns, c.id)
		l.stats.Closed++
		if h, ok := c.handler.(CloseHandler); ok {
			h.OnClose(c)
		}
		l.logger.Infof("[%s] disconnected client %s", l.cfg.Name, c)
	}
}

// Run polls and dispatches until the loop is stopped, a graceful shutdown
// completes or a listener fails. Cancelling ctx starts a graceful shutdown,
// which closes the remaining connections once the shutdown grace has passed.
// Every endpoint is closed when Run returns.
func (l *Loop) Run(ctx context.Context) error {
	defer l.closeAll()
	stop := context.AfterFunc(ctx, l.Shutdown)
	defer stop()

	for !l.finished() {
		timeout := nextTimeout(l.timers, time.Now())
		if err := l.poller.Wait(timeout, l.dispatch); err != nil {
			return fmt.Errorf("[%s] polling failed: %w", l.cfg.Name, err)
		}
		if l.fatal != nil {
			return l.fatal
		}
		l.runCommands()
		l.runTimers()
	}
	return nil
}

func (l *Loop) finished() bool {
	return l.stopped || (l.draining && len(l.conns) == 0)
}

func (l *Loop) dispatch(fd int, ready netpoll.Interest) {
	r, ok := l.endpoints[fd]
	if !ok {
		return
	}
	if err := l.handle(r, ready); err != nil {
		if r.server {
			l.fatal = fmt.Errorf("[%s] endpoint failed: %w", l.cfg.Name, err)
			return
		}
		l.logger.Warnf("[%s] error in client communication with %v: %v", l.cfg.Name, r.ep, err)
		l.remove(r)
		return
	}
	l.update(r.ep)
}

// handle runs the event handler, turning a panic into an error so that a
// misbehaving connection only takes itself down.
func (l *Loop) handle(r *registration, ready netpoll.Interest) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v, trace: %s", p, debug.Stack())
		}
	}()
	return r.ep.HandleEvent(ready)
}

func (l *Loop) runTimers() {
	now := time.Now()
	for _, t := range l.timers {
		if deadline, ok := t.Deadline(); ok && !now.Before(deadline) {
			t.Expire(now)
		}
	}
	for _, r := range l.endpoints {
		if r.conn == nil {
			l.update(r.ep)
		}
	}
}

// Submit queues fn to run on the loop's goroutine and wakes the loop. It is
// safe to call from any goroutine and reports false once the loop has ended.
func (l *Loop) Submit(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.commands.Add(fn)
	if err := l.poller.Wakeup(); err != nil {
		l.logger.Warnf("[%s] failed to wake up loop: %v", l.cfg.Name, err)
	}
	return true
}

func (l *Loop) runCommands() {
	for {
		l.mu.Lock()
		fn, ok := l.commands.Pop()
		l.mu.Unlock()
		if !ok {
			return
		}
		fn()
	}
}

// Execute parses a console line and runs it on the loop. It is safe to call
// from any goroutine.
func (l *Loop) Execute(line string) {
	cmd, text := ParseCommand(line)
	l.Submit(func() { l.execute(cmd, text) })
}

func (l *Loop) execute(cmd Command, text string) {
	switch cmd {
	case Info:
		s := l.Stats()
		l.logger.Infof("[%s] %d connected clients (accepted %d, rejected %d, closed %d)",
			l.cfg.Name, s.Connections, s.Accepted, s.Rejected, s.Closed)
		for _, r := range l.endpoints {
			if rep, ok := r.ep.(Reporter); ok {
				l.logger.Infof("[%s] %s", l.cfg.Name, rep.Report())
			}
		}
	case Shutdown:
		l.shutdown()
	case ShutdownNow:
		l.shutdownNow()
	default:
		if l.onText != nil {
			l.onText(text)
		} else {
			l.logger.Warnf("[%s] unknown command: %q", l.cfg.Name, text)
		}
	}
}

// Shutdown stops accepting connections and closes bound endpoints. The loop
// ends once every connection has closed or the shutdown grace has passed,
// whichever comes first. Shutting down a loop that is already draining closes
// everything at once. Safe to call from any goroutine.
func (l *Loop) Shutdown() { l.Submit(l.shutdown) }

// ShutdownNow closes everything and ends the loop. Safe to call from any
// goroutine.
func (l *Loop) ShutdownNow() { l.Submit(l.shutdownNow) }

// Stop ends the loop after the current iteration. Safe to call from any
// goroutine.
func (l *Loop) Stop() { l.Submit(func() { l.stopped = true }) }

func (l *Loop) shutdown() {
	if l.draining {
		l.shutdownNow()
		return
	}
	l.draining = true
	l.logger.Infof("[%s] shutting down (waiting for %d connections to close)", l.cfg.Name, len(l.conns))
	for _, r := range l.endpoints {
		if r.server {
			l.remove(r)
		}
	}
	if l.cfg.ShutdownGrace > 0 {
		l.AddTimer(After(l.cfg.ShutdownGrace, func(time.Time) {
			if l.finished() {
				return
			}
			l.logger.Warnf("[%s] %d connections still open after %v", l.cfg.Name, len(l.conns), l.cfg.ShutdownGrace)
			l.shutdownNow()
		}))
	}
}

func (l *Loop) shutdownNow() {
	if l.stopped {
		return
	}
	l.logger.Infof("[%s] shutting down now (closing %d connections)", l.cfg.Name, len(l.conns))
	for _, r := range l.endpoints {
		l.remove(r)
	}
	l.stopped = true
}

// Close releases a loop that will never run, closing whatever was registered
// with it. It must not be called once Run has been called.
func (l *Loop) Close() {
	l.closeAll()
}

func (l *Loop) closeAll() {
	for _, r := range l.endpoints {
		l.remove(r)
	}
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	if err := l.poller.Close(); err != nil {
		l.logger.Warnf("[%s] error closing poller: %v", l.cfg.Name, err)
	}
	l.logger.Infof("[%s] exited", l.cfg.Name)
}

// acceptor registers a listening socket with the loop.
type acceptor struct {
	loop       *Loop
	ln         *netpoll.Listener
	newHandler func(c *Conn) Handler
}

func (a *acceptor) FD() int                    { return a.ln.FD() }
func (a *acceptor) Interest() netpoll.Interest { return netpoll.Readable }
func (a *acceptor) Close() error               { return a.ln.Close() }
func (a *acceptor) String() string             { return a.ln.Addr().String() }

// HandleEvent accepts every pending connection. Running out of descriptors is
// logged and retried on the next event; any other accept error is fatal.
func (a *acceptor) HandleEvent(netpoll.Interest) error {
	l := a.loop
	for {
		s, err := a.ln.Accept()
		if err != nil {
			if netpoll.IsTemporary(err) {
				l.logger.Warnf("[%s] failed to accept connection: %v", l.cfg.Name, err)
				return nil
			}
			return err
		}
		if s == nil {
			return nil
		}

		if l.cfg.MaxConnections > 0 && len(l.conns) >= l.cfg.MaxConnections {
			l.stats.Rejected++
			l.logger.Infof("[%s] rejected connection from %s: server full", l.cfg.Name, s.RemoteAddr())
			s.Close()
			continue
		}

		c := l.newConn(s)
		c.handler = a.newHandler(c)
		if err := l.register(c, c, false); err != nil {
			l.logger.Warnf("[%s] failed to register connection from %s: %v", l.cfg.Name, s.RemoteAddr(), err)
			s.Close()
			continue
		}
		l.stats.Accepted++
		l.logger.Infof("[%s] accepted connection from %s", l.cfg.Name, c)
	}
}
