package longsum

import (
	"errors"

	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core/reactor"
	"github.com/dcrodman/muxnet/internal/core/reader"
	"github.com/dcrodman/muxnet/internal/packets"
)

// ErrNoResult is returned by Result when the connection ended without an
// answer.
var ErrNoResult = errors.New("longsum: connection closed before the result arrived")

// Client sends a single request to a stream SUM server and stops its loop
// once the answer has arrived or the connection has gone away.
type Client struct {
	Logger *zap.SugaredLogger

	sum      int64
	received bool
}

// Init connects to address and queues the request for operands.
func (c *Client) Init(loop *reactor.Loop, address string, operands []int64) error {
	h := reactor.Decode(reader.NewLongReader(), func(conn *reactor.Conn, sum int64) error {
		c.sum, c.received = sum, true
		return conn.Close()
	})
	conn, err := loop.Connect(address, reactor.NotifyClose(h, func(*reactor.Conn) { loop.Stop() }))
	if err != nil {
		return err
	}
	return conn.QueueMessage(packets.LongSumRequest{Operands: operands})
}

// Result returns the sum sent by the server. It must be called once the loop
// has ended.
func (c *Client) Result() (int64, error) {
	if !c.received {
		return 0, ErrNoResult
	}
	return c.sum, nil
}
