// Package echo implements a server that sends every byte it receives back to
// its sender.
package echo

import (
	"net"

	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core"
	"github.com/dcrodman/muxnet/internal/core/cursor"
	"github.com/dcrodman/muxnet/internal/core/reactor"
)

// Server is the ECHO server. A connection is closed once its peer has stopped
// sending and everything received has been sent back.
type Server struct {
	Name   string
	Config *core.Config
	Logger *zap.SugaredLogger
}

func (s *Server) Identifier() string { return s.Name }

// Init starts accepting connections on address and returns the bound address.
func (s *Server) Init(loop *reactor.Loop, address string) (net.Addr, error) {
	return loop.Listen(address, func(*reactor.Conn) reactor.Handler {
		return reactor.HandlerFunc(Echo)
	})
}

// Echo moves as much of the inbound bytes to the outbound cursor as fits,
// leaving the rest for when the connection has drained.
func Echo(c *reactor.Conn, in *cursor.Cursor) error {
	if err := in.Flip(); err != nil {
		return err
	}
	n := min(in.Remaining(), c.Out().Remaining())
	b, err := in.Get(n)
	if err == nil {
		err = c.Out().Put(b)
	}
	if cerr := in.Compact(); err == nil {
		err = cerr
	}
	return err
}
