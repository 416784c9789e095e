package reactor

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/creachadair/mds/queue"
	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core/cursor"
	"github.com/dcrodman/muxnet/internal/core/netpoll"
)

var (
	// ErrMalformed closes a connection whose peer violated the protocol.
	ErrMalformed = errors.New("reactor: malformed input")
	// ErrClosed is returned when queueing on a closed connection.
	ErrClosed = errors.New("reactor: connection closed")
)

// Transport is the non-blocking byte stream under a Conn. Read and Write
// return zero bytes and a nil error when they would block, and Read returns
// io.EOF at the end of the stream.
type Transport interface {
	FD() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() net.Addr
}

// connector is implemented by transports whose connection is still being
// established.
type connector interface {
	Connecting() bool
	FinishConnect() error
}

// Encoder is a message that can be queued on a Conn.
type Encoder interface {
	Append(dst []byte) []byte
}

// registrar is the narrow view of the loop a Conn needs: a way to report
// that its interest may have changed.
type registrar interface {
	update(ep Endpoint)
}

type nopRegistrar struct{}

func (nopRegistrar) update(Endpoint) {}

// Conn is the per-connection context: it owns the transport, the inbound and
// outbound cursors and the queue of frames waiting to be sent, and derives
// the readiness interest of the connection from their state.
//
// A Conn is only ever touched by the goroutine running its Loop.
type Conn struct {
	id      uint64
	t       Transport
	handler Handler
	reg     registrar
	logger  *zap.SugaredLogger
	debug   bool

	in  *cursor.Cursor
	out *cursor.Cursor

	// Frames not yet copied to out. pending is the unsent remainder of the
	// frame at the head of the queue.
	queue   *queue.Queue[[]byte]
	pending []byte

	connecting bool
	halfClosed bool
	closed     bool
}

func newConn(id uint64, t Transport, bufferSize int, reg registrar, logger *zap.SugaredLogger) *Conn {
	c := &Conn{
		id:     id,
		t:      t,
		reg:    reg,
		logger: logger,
		in:     cursor.New(bufferSize),
		out:    cursor.New(bufferSize),
		queue:  queue.New[[]byte](),
	}
	if cn, ok := t.(connector); ok {
		c.connecting = cn.Connecting()
	}
	return c
}

func (c *Conn) ID() uint64           { return c.id }
func (c *Conn) FD() int              { return c.t.FD() }
func (c *Conn) RemoteAddr() net.Addr { return c.t.RemoteAddr() }
func (c *Conn) HalfClosed() bool     { return c.halfClosed }
func (c *Conn) Closed() bool         { return c.closed }

// Logger returns the logger of the loop that owns the connection.
func (c *Conn) Logger() *zap.SugaredLogger { return c.logger }

// Out exposes the outbound cursor for handlers that copy bytes straight from
// the inbound cursor, such as echo. It is in Accumulate mode.
func (c *Conn) Out() *cursor.Cursor { return c.out }

func (c *Conn) String() string {
	return fmt.Sprintf("%s#%d", c.t.RemoteAddr(), c.id)
}

// Interest returns the readiness the connection is waiting for: reading while
// the peer has not finished sending and there is room in the inbound cursor,
// writing while anything is left to send. An empty interest means the
// connection is finished and must be closed.
func (c *Conn) Interest() netpoll.Interest {
	if c.closed {
		return 0
	}
	if c.connecting {
		return netpoll.Writable
	}
	var i netpoll.Interest
	if !c.halfClosed && c.in.Remaining() > 0 {
		i |= netpoll.Readable
	}
	if c.out.Len() > 0 || len(c.pending) > 0 || !c.queue.IsEmpty() {
		i |= netpoll.Writable
	}
	return i
}

// HandleEvent dispatches readiness to the connection, writing before reading.
func (c *Conn) HandleEvent(ready netpoll.Interest) error {
	if ready&netpoll.Writable != 0 {
		if err := c.OnWritable(); err != nil {
			return err
		}
	}
	if ready&netpoll.Readable != 0 && !c.closed && !c.connecting {
		if err := c.OnReadable(); err != nil {
			return err
		}
	}
	return nil
}

// OnReadable reads what the transport has into the inbound cursor and hands
// it to the handler.
func (c *Conn) OnReadable() error {
	if c.halfClosed {
		return nil
	}
	if _, err := c.in.ReadFrom(c.t.Read); errors.Is(err, io.EOF) {
		c.halfClosed = true
	} else if err != nil {
		return err
	}
	return c.process()
}

func (c *Conn) process() error {
	if c.handler == nil {
		return nil
	}
	if err := c.handler.Process(c, c.in); err != nil {
		return err
	}
	if c.in.Mode() != cursor.Accumulate {
		return fmt.Errorf("handler left the inbound cursor in %v mode", c.in.Mode())
	}
	return nil
}

// OnWritable sends as much of the outbound cursor as the transport accepts,
// refills it from the queue and gives the handler a chance to consume input
// it previously left behind for lack of outbound space.
func (c *Conn) OnWritable() error {
	if c.connecting {
		if err := c.t.(connector).FinishConnect(); err != nil {
			return err
		}
		c.connecting = false
	}

	if c.out.Len() > 0 {
		if err := c.out.Flip(); err != nil {
			return err
		}
		_, err := c.out.WriteTo(c.t.Write)
		_ = c.out.Compact()
		if err != nil {
			return err
		}
	}
	c.refill()

	if c.in.Len() > 0 {
		return c.process()
	}
	return nil
}

// refill copies queued frames into the outbound cursor until it is full or
// the queue is empty. A frame larger than the free space is copied in pieces.
func (c *Conn) refill() {
	for c.out.Remaining() > 0 {
		if len(c.pending) == 0 {
			frame, ok := c.queue.Pop()
			if !ok {
				return
			}
			c.pending = frame
			continue
		}
		n := min(len(c.pending), c.out.Remaining())
		_ = c.out.Put(c.pending[:n])
		c.pending = c.pending[n:]
	}
}

// Queue appends an encoded frame to the outbound queue. The frame must not be
// modified afterwards.
func (c *Conn) Queue(frame []byte) error {
	if c.closed {
		return ErrClosed
	}
	c.queue.Add(frame)
	c.refill()
	c.reg.update(c)
	return nil
}

// QueueMessage encodes m and queues it.
func (c *Conn) QueueMessage(m Encoder) error {
	return c.Queue(m.Append(nil))
}

// Close closes the transport immediately, dropping anything not yet sent.
// Closing an already closed connection does nothing.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.t.Close()
	c.reg.update(c)
	return err
}

// Shutdown stops reading from the connection. It closes once everything
// queued has been sent.
func (c *Conn) Shutdown() {
	c.halfClosed = true
	c.reg.update(c)
}
