package internal

import (
	"net"

	"github.com/dcrodman/muxnet/internal/core/reactor"
)

// Backend is a server speaking one protocol. Each Backend is given its own
// Loop and never shares it with another.
type Backend interface {
	// Identifier returns a uniquely identifying string. It tags the log lines
	// of the Backend's loop.
	Identifier() string

	// Init is called before the loop runs, as the hook for the Backend to
	// bind address and register whatever endpoints and timers it needs.
	Init(loop *reactor.Loop, address string) (net.Addr, error)
}
