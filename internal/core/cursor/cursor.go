// Package cursor implements a fixed-capacity byte buffer with two mutually
// exclusive modes: Accumulate, in which bytes are appended, and Drain, in which
// previously accumulated bytes are consumed. Flip and Compact move between the
// two modes.
//
// A Cursor is owned by exactly one connection and is not safe for concurrent use.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrOverflow is returned when an operation needs more space (Accumulate) or
	// more unread bytes (Drain) than the cursor holds. Nothing is copied.
	ErrOverflow = errors.New("cursor: overflow")
	// ErrWrongMode is returned when an operation is called in the wrong mode.
	ErrWrongMode = errors.New("cursor: wrong mode")
)

// Mode is the current state of a Cursor.
type Mode int

const (
	Accumulate Mode = iota
	Drain
)

func (m Mode) String() string {
	switch m {
	case Accumulate:
		return "accumulate"
	case Drain:
		return "drain"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Cursor is a byte buffer of fixed capacity.
//
// In Accumulate mode, buf[:pos] holds the bytes written so far. In Drain mode,
// buf[pos:limit] holds the bytes not yet consumed.
type Cursor struct {
	buf   []byte
	pos   int
	limit int
	mode  Mode
}

// New returns an empty Cursor in Accumulate mode.
func New(capacity int) *Cursor {
	return &Cursor{buf: make([]byte, capacity), limit: capacity}
}

func (c *Cursor) Mode() Mode { return c.mode }
func (c *Cursor) Cap() int   { return len(c.buf) }

// Remaining returns the free space in Accumulate mode or the number of unread
// bytes in Drain mode.
func (c *Cursor) Remaining() int { return c.limit - c.pos }

// Len returns the number of bytes held and not yet consumed, whatever the mode.
func (c *Cursor) Len() int {
	if c.mode == Accumulate {
		return c.pos
	}
	return c.limit - c.pos
}

// Flip switches from Accumulate to Drain. The bytes written so far become
// readable from the start.
func (c *Cursor) Flip() error {
	if c.mode != Accumulate {
		return fmt.Errorf("flip: %w", ErrWrongMode)
	}
	c.limit = c.pos
	c.pos = 0
	c.mode = Drain
	return nil
}

// Compact switches from Drain back to Accumulate, discarding consumed bytes and
// moving the unread tail to the start of the buffer.
func (c *Cursor) Compact() error {
	if c.mode != Drain {
		return fmt.Errorf("compact: %w", ErrWrongMode)
	}
	n := copy(c.buf, c.buf[c.pos:c.limit])
	c.pos = n
	c.limit = len(c.buf)
	c.mode = Accumulate
	return nil
}

// Clear empties the cursor and puts it in Accumulate mode.
func (c *Cursor) Clear() {
	c.pos = 0
	c.limit = len(c.buf)
	c.mode = Accumulate
}

func (c *Cursor) want(m Mode, n int) error {
	if c.mode != m {
		return ErrWrongMode
	}
	if n > c.limit-c.pos {
		return ErrOverflow
	}
	return nil
}

// Put appends b. It never writes a partial copy.
func (c *Cursor) Put(b []byte) error {
	if err := c.want(Accumulate, len(b)); err != nil {
		return fmt.Errorf("put %d bytes: %w", len(b), err)
	}
	c.pos += copy(c.buf[c.pos:], b)
	return nil
}

// PutByte appends a single byte.
func (c *Cursor) PutByte(v byte) error {
	if err := c.want(Accumulate, 1); err != nil {
		return fmt.Errorf("put byte: %w", err)
	}
	c.buf[c.pos] = v
	c.pos++
	return nil
}

// PutInt32 appends v in big-endian order.
func (c *Cursor) PutInt32(v int32) error {
	if err := c.want(Accumulate, 4); err != nil {
		return fmt.Errorf("put int32: %w", err)
	}
	binary.BigEndian.PutUint32(c.buf[c.pos:], uint32(v))
	c.pos += 4
	return nil
}

// PutInt64 appends v in big-endian order.
func (c *Cursor) PutInt64(v int64) error {
	if err := c.want(Accumulate, 8); err != nil {
		return fmt.Errorf("put int64: %w", err)
	}
	binary.BigEndian.PutUint64(c.buf[c.pos:], uint64(v))
	c.pos += 8
	return nil
}

// Get consumes the next n bytes. The returned slice aliases the cursor's
// storage and is only valid until the next mode switch.
func (c *Cursor) Get(n int) ([]byte, error) {
	if err := c.want(Drain, n); err != nil {
		return nil, fmt.Errorf("get %d bytes: %w", n, err)
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// GetAll consumes every unread byte. It returns nil outside Drain mode.
func (c *Cursor) GetAll() []byte {
	if c.mode != Drain {
		return nil
	}
	b, _ := c.Get(c.limit - c.pos)
	return b
}

// GetByte consumes a single byte.
func (c *Cursor) GetByte() (byte, error) {
	b, err := c.Get(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// GetInt32 consumes a big-endian int32.
func (c *Cursor) GetInt32() (int32, error) {
	b, err := c.Get(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// GetInt64 consumes a big-endian int64.
func (c *Cursor) GetInt64() (int64, error) {
	b, err := c.Get(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// Unread returns the unread bytes without consuming them (Drain mode only).
func (c *Cursor) Unread() []byte {
	if c.mode != Drain {
		return nil
	}
	return c.buf[c.pos:c.limit]
}

// Skip consumes n bytes previously inspected with Unread.
func (c *Cursor) Skip(n int) error {
	_, err := c.Get(n)
	return err
}

// ReadFrom fills the free space of the cursor with a single call to read, which
// has the signature of io.Reader.Read. It must be called in Accumulate mode.
// A zero-length free space does not call read.
func (c *Cursor) ReadFrom(read func([]byte) (int, error)) (int, error) {
	if c.mode != Accumulate {
		return 0, fmt.Errorf("read from: %w", ErrWrongMode)
	}
	if c.pos == c.limit {
		return 0, nil
	}
	n, err := read(c.buf[c.pos:c.limit])
	if n > 0 {
		c.pos += n
	}
	return n, err
}

// WriteTo passes the unread bytes to a single call of write, which has the
// signature of io.Writer.Write, and consumes however many bytes it accepted.
// It must be called in Drain mode.
func (c *Cursor) WriteTo(write func([]byte) (int, error)) (int, error) {
	if c.mode != Drain {
		return 0, fmt.Errorf("write to: %w", ErrWrongMode)
	}
	if c.pos == c.limit {
		return 0, nil
	}
	n, err := write(c.buf[c.pos:c.limit])
	if n > 0 {
		c.pos += n
	}
	return n, err
}
