package reactor

import (
	"github.com/dcrodman/muxnet/internal/core/cursor"
	"github.com/dcrodman/muxnet/internal/core/reader"
)

// Handler implements the protocol spoken on a connection. Process is called
// with the inbound cursor in Accumulate mode whenever new bytes arrive and
// must leave it in Accumulate mode. Returning an error closes the connection.
type Handler interface {
	Process(c *Conn, in *cursor.Cursor) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(c *Conn, in *cursor.Cursor) error

func (f HandlerFunc) Process(c *Conn, in *cursor.Cursor) error { return f(c, in) }

// CloseHandler is implemented by handlers that want to know when their
// connection has been closed.
type CloseHandler interface {
	OnClose(c *Conn)
}

// Decode returns a Handler that feeds the inbound bytes to r and calls fn
// with every value r completes, resetting r after each one. A Malformed
// result closes the connection with ErrMalformed.
func Decode[T any](r reader.Reader[T], fn func(c *Conn, v T) error) Handler {
	return HandlerFunc(func(c *Conn, in *cursor.Cursor) error {
		for {
			switch r.Process(in) {
			case reader.Done:
				v := r.Get()
				r.Reset()
				if c.debug {
					c.logger.Debugf("decoded %T from %s: %+v", v, c, v)
				}
				if err := fn(c, v); err != nil || c.closed {
					return err
				}
			case reader.Malformed:
				return ErrMalformed
			default:
				return nil
			}
		}
	})
}

type closeNotifier struct {
	Handler
	fn func(c *Conn)
}

func (h closeNotifier) OnClose(c *Conn) { h.fn(c) }

// NotifyClose returns h extended to call fn once its connection has closed.
func NotifyClose(h Handler, fn func(c *Conn)) Handler {
	return closeNotifier{Handler: h, fn: fn}
}
