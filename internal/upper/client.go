package upper

import (
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core/reactor"
	"github.com/dcrodman/muxnet/internal/packets"
)

// DefaultTimeout is how long a client waits for answers before sending again.
const DefaultTimeout = 300 * time.Millisecond

// Mode selects how a Client paces its requests.
type Mode int

const (
	// Burst sends every unanswered line at once and sends all of those still
	// unanswered again after each timeout.
	Burst Mode = iota
	// OneByOne sends the next line only once the previous one has been
	// answered, sending the current line again after each timeout.
	OneByOne
)

func (m Mode) String() string {
	switch m {
	case Burst:
		return "burst"
	case OneByOne:
		return "onebyone"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the names returned by Mode.String, ignoring case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "burst":
		return Burst, nil
	case "onebyone", "one-by-one":
		return OneByOne, nil
	}
	return 0, fmt.Errorf("unknown mode %q (want burst or onebyone)", s)
}

// Client has every line of its input upper-cased by a server. Line i travels
// with id i; answers with an id that is out of range, already answered or,
// in OneByOne mode, not the current line are ignored. The loop is stopped
// once every line has been answered.
type Client struct {
	Mode    Mode
	Timeout time.Duration
	Logger  *zap.SugaredLogger

	lines     []string
	answers   []string
	answered  []bool
	remaining int
	current   int

	p      *reactor.PacketConn
	server *net.UDPAddr
	retry  *reactor.Retransmitter
	stop   func()
}

// Init binds a socket for talking to the server at address and schedules
// the first requests.
func (c *Client) Init(loop *reactor.Loop, address string, lines []string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p, server, err := loop.DialPacket(address, c)
	if err != nil {
		return err
	}
	c.p, c.server, c.stop = p, server, loop.Stop
	c.lines = lines
	c.answers = make([]string, len(lines))
	c.answered = make([]bool, len(lines))
	c.remaining = len(lines)
	c.retry = reactor.NewRetransmitter(timeout, c.send)
	loop.AddTimer(c.retry)
	if c.remaining == 0 {
		c.finish()
	}
	return nil
}

func (c *Client) send(retry bool) {
	if retry {
		c.Logger.Debugf("no answer from %v within the timeout, sending again (%d lines left)", c.server, c.remaining)
	}
	switch c.Mode {
	case Burst:
		for i, line := range c.lines {
			if !c.answered[i] {
				c.request(i, line)
			}
		}
	case OneByOne:
		c.request(c.current, c.lines[c.current])
	}
}

func (c *Client) request(id int, line string) {
	if err := c.p.SendMessage(c.server, packets.IDText{ID: int64(id), Text: line}); err != nil {
		c.Logger.Warnf("failed to send line %d: %v", id, err)
	}
}

func (c *Client) HandlePacket(_ *reactor.PacketConn, from *net.UDPAddr, payload []byte) error {
	resp, err := packets.DecodeIDText(payload)
	if err != nil {
		c.Logger.Debugf("dropping datagram from %v: %v", from, err)
		return nil
	}
	if c.retry.State() == reactor.Finished || resp.ID < 0 || resp.ID >= int64(len(c.lines)) {
		return nil
	}
	id := int(resp.ID)
	if c.answered[id] || (c.Mode == OneByOne && id != c.current) {
		return nil
	}

	c.answers[id] = resp.Text
	c.answered[id] = true
	c.remaining--
	if c.remaining == 0 {
		c.finish()
		return nil
	}
	if c.Mode == OneByOne {
		c.current++
		c.retry.Resend()
	}
	return nil
}

func (c *Client) finish() {
	c.retry.Finish()
	c.stop()
}

// Answers returns the upper-cased lines in input order. It must be called
// once the loop has ended.
func (c *Client) Answers() []string { return c.answers }

// Retries returns the number of timeouts the client went through.
func (c *Client) Retries() int { return c.retry.Retries() }
