package packets

import (
	"fmt"
	"unicode/utf8"
)

// IDText is the id-tagged datagram used by the upper-case echo service: an
// int64 id followed by UTF-8 text filling the rest of the datagram.
type IDText struct {
	ID   int64
	Text string
}

func (p IDText) Append(dst []byte) []byte {
	return append(AppendLong(dst, p.ID), p.Text...)
}

func DecodeIDText(b []byte) (IDText, error) {
	if len(b) < LongSize {
		return IDText{}, fmt.Errorf("id-tagged datagram has %d bytes: %w", len(b), ErrMalformed)
	}
	text := b[LongSize:]
	if !utf8.Valid(text) {
		return IDText{}, fmt.Errorf("id-tagged datagram text is not UTF-8: %w", ErrMalformed)
	}
	return IDText{ID: long(b), Text: string(text)}, nil
}
