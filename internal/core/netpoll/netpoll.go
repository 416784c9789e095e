// Package netpoll is the readiness-notification layer under the reactor: an
// epoll poller with an eventfd wakeup, and the non-blocking TCP and UDP
// sockets registered with it.
//
// Non-blocking calls never return EAGAIN to the caller. A read or write that
// would block reports zero bytes and a nil error instead.
package netpoll

import (
	"errors"
	"strings"
)

// Interest is a set of readiness conditions.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) String() string {
	var parts []string
	if i&Readable != 0 {
		parts = append(parts, "read")
	}
	if i&Writable != 0 {
		parts = append(parts, "write")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ErrClosed is returned by operations on a closed socket or poller.
var ErrClosed = errors.New("netpoll: use of closed descriptor")
