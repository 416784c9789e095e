// Package upper implements the id-tagged upper-case datagram protocol and its
// two retransmitting clients. A request is [int64 id][UTF-8 text]; the answer
// carries the same id and the text in upper case.
package upper

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dcrodman/muxnet/internal/core"
	"github.com/dcrodman/muxnet/internal/core/reactor"
	"github.com/dcrodman/muxnet/internal/packets"
)

// Server is the UPPER server.
type Server struct {
	Name   string
	Config *core.Config
	Logger *zap.SugaredLogger

	caser             cases.Caser
	answered, dropped uint64
}

func (s *Server) Identifier() string { return s.Name }

// Init binds address and returns the bound address.
func (s *Server) Init(loop *reactor.Loop, address string) (net.Addr, error) {
	s.caser = cases.Upper(language.Und)
	p, err := loop.ListenPacket(address, s)
	if err != nil {
		return nil, err
	}
	return p.LocalAddr(), nil
}

func (s *Server) HandlePacket(p *reactor.PacketConn, from *net.UDPAddr, payload []byte) error {
	req, err := packets.DecodeIDText(payload)
	if err != nil {
		s.dropped++
		s.Logger.Debugf("[%s] dropping datagram from %v: %v", s.Name, from, err)
		return nil
	}
	s.answered++
	return p.SendMessage(from, packets.IDText{ID: req.ID, Text: s.caser.String(req.Text)})
}

func (s *Server) Report() string {
	return fmt.Sprintf("%d requests answered, %d dropped", s.answered, s.dropped)
}
