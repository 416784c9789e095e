package reactor

import (
	"fmt"
	"net"

	"github.com/creachadair/mds/queue"
	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core/debug"
	"github.com/dcrodman/muxnet/internal/core/netpoll"
)

// MaxDatagramSize is the largest datagram a PacketConn receives in full.
const MaxDatagramSize = 64 * 1024

// maxReadsPerEvent bounds the datagrams handled per readiness event so one
// busy socket cannot starve the rest of the loop.
const maxReadsPerEvent = 64

// PacketHandler implements a datagram protocol. payload is only valid for the
// duration of the call.
type PacketHandler interface {
	HandlePacket(p *PacketConn, from *net.UDPAddr, payload []byte) error
}

// PacketHandlerFunc adapts a function to the PacketHandler interface.
type PacketHandlerFunc func(p *PacketConn, from *net.UDPAddr, payload []byte) error

func (f PacketHandlerFunc) HandlePacket(p *PacketConn, from *net.UDPAddr, payload []byte) error {
	return f(p, from, payload)
}

type datagram struct {
	to      *net.UDPAddr
	payload []byte
}

// PacketConn is the datagram counterpart of Conn: one bound UDP socket, the
// handler fed with every datagram it receives and the queue of datagrams
// waiting for the socket to accept them.
type PacketConn struct {
	sock    *netpoll.Datagram
	handler PacketHandler
	reg     registrar
	logger  *zap.SugaredLogger
	name    string

	buf    []byte
	queue  *queue.Queue[datagram]
	head   *datagram
	closed bool
	dump   bool
}

// ListenPacket binds a UDP socket to address and feeds every datagram it
// receives to h. A receive error ends the loop; send errors only drop the
// datagram concerned.
func (l *Loop) ListenPacket(address string, h PacketHandler) (*PacketConn, error) {
	sock, err := netpoll.ListenUDP(address)
	if err != nil {
		return nil, fmt.Errorf("error binding %s: %w", address, err)
	}
	p := &PacketConn{
		sock:    sock,
		handler: h,
		reg:     l,
		logger:  l.logger,
		name:    l.cfg.Name,
		buf:     make([]byte, MaxDatagramSize),
		queue:   queue.New[datagram](),
		dump:    l.cfg.PacketLogging,
	}
	if err := l.register(p, nil, true); err != nil {
		sock.Close()
		return nil, err
	}
	l.logger.Infof("[%s] waiting for datagrams on %v", l.cfg.Name, sock.Addr())
	return p, nil
}

// DialPacket resolves remote and binds an ephemeral UDP socket of the same
// address family to talk to it.
func (l *Loop) DialPacket(remote string, h PacketHandler) (*PacketConn, *net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, nil, fmt.Errorf("error resolving %s: %w", remote, err)
	}
	local := ":0"
	if raddr.IP != nil && raddr.IP.To4() == nil {
		local = "[::]:0"
	}
	p, err := l.ListenPacket(local, h)
	if err != nil {
		return nil, nil, err
	}
	return p, raddr, nil
}

func (p *PacketConn) FD() int                    { return p.sock.FD() }
func (p *PacketConn) LocalAddr() *net.UDPAddr    { return p.sock.Addr() }
func (p *PacketConn) Logger() *zap.SugaredLogger { return p.logger }

func (p *PacketConn) String() string { return p.sock.Addr().String() }

func (p *PacketConn) Interest() netpoll.Interest {
	if p.closed {
		return 0
	}
	interest := netpoll.Readable
	if p.head != nil || !p.queue.IsEmpty() {
		interest |= netpoll.Writable
	}
	return interest
}

// Report delegates to the handler when it has something to say about itself.
func (p *PacketConn) Report() string {
	if r, ok := p.handler.(Reporter); ok {
		return r.Report()
	}
	return fmt.Sprintf("bound to %v, idle", p.sock.Addr())
}

func (p *PacketConn) HandleEvent(ready netpoll.Interest) error {
	if ready&netpoll.Writable != 0 {
		p.flush()
	}
	if ready&netpoll.Readable != 0 && !p.closed {
		for i := 0; i < maxReadsPerEvent; i++ {
			n, from, err := p.sock.RecvFrom(p.buf)
			if err != nil {
				return err
			}
			if from == nil {
				return nil
			}
			if p.dump {
				p.logger.Debugf("[%s] %d bytes from %v:\n%s", p.name, n, from, debug.Dump(p.buf[:n]))
			}
			if err := p.handler.HandlePacket(p, from, p.buf[:n]); err != nil {
				return err
			}
			if p.closed {
				return nil
			}
		}
	}
	return nil
}

// flush sends queued datagrams until the queue is empty or the socket buffer
// is full.
func (p *PacketConn) flush() {
	for {
		if p.head == nil {
			d, ok := p.queue.Pop()
			if !ok {
				return
			}
			p.head = &d
		}
		sent, err := p.sock.SendTo(p.head.payload, p.head.to)
		if err != nil {
			p.logger.Warnf("[%s] dropping datagram to %v: %v", p.name, p.head.to, err)
		} else if !sent {
			return
		}
		p.head = nil
	}
}

// Send queues payload for delivery to to. The payload must not be modified
// afterwards.
func (p *PacketConn) Send(to *net.UDPAddr, payload []byte) error {
	if p.closed {
		return ErrClosed
	}
	p.queue.Add(datagram{to: to, payload: payload})
	p.flush()
	p.reg.update(p)
	return nil
}

// SendMessage encodes m and queues it for to.
func (p *PacketConn) SendMessage(to *net.UDPAddr, m Encoder) error {
	return p.Send(to, m.Append(nil))
}

func (p *PacketConn) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.sock.Close()
	p.reg.update(p)
	return err
}
