// Package packets defines the wire formats spoken by the muxnet servers and
// clients. Every integer is big-endian and every length is a signed 32-bit
// value.
package packets

import (
	"encoding/binary"
	"errors"
)

// ErrMalformed is returned when a datagram cannot be decoded.
var ErrMalformed = errors.New("packets: malformed datagram")

const (
	IntSize  = 4
	LongSize = 8
)

// AppendString appends s as a length-prefixed UTF-8 string.
func AppendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// AppendLong appends v as a big-endian int64.
func AppendLong(dst []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v))
}

// AppendInt appends v as a big-endian int32.
func AppendInt(dst []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(v))
}

func long(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
