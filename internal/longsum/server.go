// Package longsum implements the long-sum protocols: a stream server that
// answers each [count][operands...] request with the sum of the operands, and
// a reliable datagram variant in which every operand travels in its own
// acknowledged datagram.
package longsum

import (
	"net"

	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core"
	"github.com/dcrodman/muxnet/internal/core/reactor"
	"github.com/dcrodman/muxnet/internal/core/reader"
	"github.com/dcrodman/muxnet/internal/packets"
)

// DefaultMaxOperands bounds the operand count of a stream request.
const DefaultMaxOperands = 1 << 16

// Server is the stream SUM server. A connection may carry any number of
// requests, answered in order.
type Server struct {
	Name   string
	Config *core.Config
	Logger *zap.SugaredLogger
}

func (s *Server) Identifier() string { return s.Name }

// Init starts accepting connections on address and returns the bound address.
func (s *Server) Init(loop *reactor.Loop, address string) (net.Addr, error) {
	maxOperands := DefaultMaxOperands
	if s.Config != nil && s.Config.Reactor.MaxOperands > 0 {
		maxOperands = s.Config.Reactor.MaxOperands
	}
	return loop.Listen(address, func(*reactor.Conn) reactor.Handler {
		return reactor.Decode(reader.NewLongSumReader(maxOperands), answer)
	})
}

func answer(c *reactor.Conn, operands []int64) error {
	return c.QueueMessage(packets.LongSumResult{Sum: Sum(operands)})
}

// Sum adds operands with the wrap-around of int64 arithmetic.
func Sum(operands []int64) int64 {
	var sum int64
	for _, v := range operands {
		sum += v
	}
	return sum
}
