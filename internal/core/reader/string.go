package reader

import (
	"unicode/utf8"

	"github.com/dcrodman/muxnet/internal/core/cursor"
	"github.com/dcrodman/muxnet/internal/packets"
)

// DefaultMaxStringSize bounds the length prefix accepted by StringReader when
// no other limit is configured.
const DefaultMaxStringSize = 1024

// StringReader decodes an int32 length followed by that many bytes of UTF-8.
// A length that is negative or larger than the configured maximum, or bytes
// that are not valid UTF-8, are Malformed.
type StringReader struct {
	state
	size    *IntReader
	sized   bool
	scratch []byte
	body    fixed
	value   string
}

func NewStringReader(max int) *StringReader {
	return &StringReader{
		size:    NewIntReader(),
		scratch: make([]byte, max),
	}
}

func (r *StringReader) Process(in *cursor.Cursor) Status {
	r.checkProcess()

	if !r.sized {
		if st := r.size.Process(in); st != Done {
			return r.set(st)
		}
		n := int(r.size.Get())
		if n < 0 || n > len(r.scratch) {
			return r.set(Malformed)
		}
		r.sized = true
		r.body = fixed{buf: r.scratch[:n]}
	}

	return drain(in, func() Status {
		if !r.body.fill(in) {
			return NeedMoreData
		}
		if !utf8.Valid(r.body.buf) {
			return r.set(Malformed)
		}
		r.value = string(r.body.buf)
		return r.set(Done)
	})
}

func (r *StringReader) Get() string {
	r.checkGet()
	return r.value
}

func (r *StringReader) Reset() {
	r.size.Reset()
	r.sized = false
	r.body = fixed{}
	r.value = ""
	r.status = NeedMoreData
}

// MessageReader decodes a chat message: the login string followed by the text
// string.
type MessageReader struct {
	state
	login *StringReader
	text  *StringReader
	value packets.ChatMessage
}

func NewMessageReader(max int) *MessageReader {
	return &MessageReader{
		login: NewStringReader(max),
		text:  NewStringReader(max),
	}
}

func (r *MessageReader) Process(in *cursor.Cursor) Status {
	r.checkProcess()

	if r.login.status != Done {
		if st := r.login.Process(in); st != Done {
			return r.set(st)
		}
	}
	if st := r.text.Process(in); st != Done {
		return r.set(st)
	}
	r.value = packets.ChatMessage{Login: r.login.Get(), Text: r.text.Get()}
	return r.set(Done)
}

func (r *MessageReader) Get() packets.ChatMessage {
	r.checkGet()
	return r.value
}

func (r *MessageReader) Reset() {
	r.login.Reset()
	r.text.Reset()
	r.value = packets.ChatMessage{}
	r.status = NeedMoreData
}
