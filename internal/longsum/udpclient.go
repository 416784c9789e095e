package longsum

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core/reactor"
	"github.com/dcrodman/muxnet/internal/packets"
)

// DefaultTimeout is how long the datagram clients wait for an answer before
// sending again.
const DefaultTimeout = 300 * time.Millisecond

var ErrNoOperands = errors.New("longsum: a session needs at least one operand")

// UDPClient runs one reliable long-sum session. Every operand not yet
// acknowledged is sent again whenever the timeout passes without an answer.
// Once the sum has arrived the session is cleaned, again until acknowledged,
// and the loop is stopped.
type UDPClient struct {
	Logger  *zap.SugaredLogger
	Timeout time.Duration

	sessionID int64
	operands  []int64
	acked     []bool
	sum       int64
	haveSum   bool

	p      *reactor.PacketConn
	server *net.UDPAddr
	retry  *reactor.Retransmitter
	stop   func()
}

// Init binds a socket for talking to the server at address and schedules
// the first burst of operands.
func (c *UDPClient) Init(loop *reactor.Loop, address string, sessionID int64, operands []int64) error {
	if len(operands) == 0 {
		return ErrNoOperands
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p, server, err := loop.DialPacket(address, c)
	if err != nil {
		return err
	}
	c.p, c.server, c.stop = p, server, loop.Stop
	c.sessionID = sessionID
	c.operands = operands
	c.acked = make([]bool, len(operands))
	c.retry = reactor.NewRetransmitter(timeout, c.send)
	loop.AddTimer(c.retry)
	return nil
}

func (c *UDPClient) send(retry bool) {
	if retry {
		c.Logger.Debugf("no answer from %v within the timeout, sending again", c.server)
	}
	if c.haveSum {
		c.queue(packets.Clean{SessionID: c.sessionID})
		return
	}

	total := int64(len(c.operands))
	sent := false
	for i, v := range c.operands {
		if c.acked[i] {
			continue
		}
		c.queue(packets.Op{SessionID: c.sessionID, Index: int64(i), Total: total, Value: v})
		sent = true
	}
	if !sent {
		// Every operand was acknowledged but the result was lost; any operand
		// makes the server send it again.
		c.queue(packets.Op{SessionID: c.sessionID, Index: 0, Total: total, Value: c.operands[0]})
	}
}

func (c *UDPClient) queue(d packets.Datagram) {
	if err := c.p.SendMessage(c.server, d); err != nil {
		c.Logger.Warnf("failed to send %T: %v", d, err)
	}
}

func (c *UDPClient) HandlePacket(_ *reactor.PacketConn, from *net.UDPAddr, payload []byte) error {
	d, err := packets.DecodeLongSum(payload)
	if err != nil {
		c.Logger.Debugf("dropping datagram from %v: %v", from, err)
		return nil
	}

	switch d := d.(type) {
	case packets.Ack:
		if d.SessionID == c.sessionID && d.Index >= 0 && d.Index < int64(len(c.acked)) {
			c.acked[d.Index] = true
		}
	case packets.Res:
		if d.SessionID == c.sessionID && !c.haveSum {
			c.sum, c.haveSum = d.Sum, true
			c.retry.Resend()
		}
	case packets.AckClean:
		if d.SessionID == c.sessionID && c.haveSum && c.retry.State() != reactor.Finished {
			c.retry.Finish()
			c.stop()
		}
	}
	return nil
}

// Result returns the sum of the session. It must be called once the loop has
// ended.
func (c *UDPClient) Result() (int64, error) {
	if !c.haveSum {
		return 0, ErrNoResult
	}
	return c.sum, nil
}
