package echo

import (
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core"
	"github.com/dcrodman/muxnet/internal/core/reactor"
)

// UDPServer sends every datagram back to its sender. It can serve a range of
// consecutive ports from the same loop, each port keeping its own counters.
type UDPServer struct {
	Name   string
	Config *core.Config
	Logger *zap.SugaredLogger
	// Plus adds one (mod 256) to every byte before sending it back.
	Plus bool
	// Ports is the number of consecutive ports served, starting at the port
	// of the address passed to Init. When that port is 0 every socket gets an
	// ephemeral port instead.
	Ports int

	endpoints []*reactor.PacketConn
}

func (s *UDPServer) Identifier() string { return s.Name }

// Init binds every port of the range and returns the address of the first.
func (s *UDPServer) Init(loop *reactor.Loop, address string) (net.Addr, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	first, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q: %w", address, err)
	}
	count := max(s.Ports, 1)
	if first != 0 && first+count-1 > 65535 {
		return nil, fmt.Errorf("port range %d-%d is out of bounds", first, first+count-1)
	}

	for i := range count {
		port := 0
		if first != 0 {
			port = first + i
		}
		h := &portEcho{plus: s.Plus}
		p, err := loop.ListenPacket(net.JoinHostPort(host, strconv.Itoa(port)), h)
		if err != nil {
			return nil, err
		}
		h.local = p.LocalAddr()
		s.endpoints = append(s.endpoints, p)
	}
	return s.endpoints[0].LocalAddr(), nil
}

// Addrs returns the bound address of every port served.
func (s *UDPServer) Addrs() []*net.UDPAddr {
	addrs := make([]*net.UDPAddr, len(s.endpoints))
	for i, p := range s.endpoints {
		addrs[i] = p.LocalAddr()
	}
	return addrs
}

// portEcho is the state of one port.
type portEcho struct {
	plus             bool
	local            *net.UDPAddr
	datagrams, bytes uint64
}

func (e *portEcho) HandlePacket(p *reactor.PacketConn, from *net.UDPAddr, payload []byte) error {
	e.datagrams++
	e.bytes += uint64(len(payload))

	reply := make([]byte, len(payload))
	copy(reply, payload)
	if e.plus {
		for i := range reply {
			reply[i]++
		}
	}
	return p.Send(from, reply)
}

func (e *portEcho) Report() string {
	return fmt.Sprintf("%v: %d datagrams echoed (%d bytes)", e.local, e.datagrams, e.bytes)
}
