// Package chat implements the chat broadcaster and its client. Every message
// is a login followed by a text, each a length-prefixed UTF-8 string; the
// server relays each message it receives to every other connected client.
package chat

import (
	"net"

	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core"
	"github.com/dcrodman/muxnet/internal/core/reactor"
	"github.com/dcrodman/muxnet/internal/core/reader"
	"github.com/dcrodman/muxnet/internal/packets"
)

// Fanout delivers a message to every connection except the one it came from.
type Fanout interface {
	Broadcast(from *reactor.Conn, msg packets.ChatMessage)
}

// Server is the CHAT server.
type Server struct {
	Name   string
	Config *core.Config
	Logger *zap.SugaredLogger

	loop      *reactor.Loop
	delivered uint64
}

func (s *Server) Identifier() string { return s.Name }

// Init starts accepting connections on address and returns the bound address.
func (s *Server) Init(loop *reactor.Loop, address string) (net.Addr, error) {
	s.loop = loop
	maxSize := reader.DefaultMaxStringSize
	if s.Config != nil && s.Config.Reactor.MaxStringSize > 0 {
		maxSize = s.Config.Reactor.MaxStringSize
	}
	return loop.Listen(address, func(*reactor.Conn) reactor.Handler {
		return NewHandler(s, maxSize)
	})
}

// NewHandler decodes the messages of one connection and hands each of them
// to out.
func NewHandler(out Fanout, maxStringSize int) reactor.Handler {
	return reactor.Decode(reader.NewMessageReader(maxStringSize), func(c *reactor.Conn, msg packets.ChatMessage) error {
		out.Broadcast(c, msg)
		return nil
	})
}

// Broadcast queues msg on every live connection but from. The encoded frame
// is shared between the connections.
func (s *Server) Broadcast(from *reactor.Conn, msg packets.ChatMessage) {
	frame := msg.Append(nil)
	s.loop.Conns(func(c *reactor.Conn) {
		if c == from {
			return
		}
		if err := c.Queue(frame); err != nil {
			s.Logger.Debugf("[%s] not relaying to %s: %v", s.Name, c, err)
			return
		}
		s.delivered++
	})
}

// Delivered returns the number of messages queued for delivery so far.
func (s *Server) Delivered() uint64 { return s.delivered }
