package reader

import (
	"bytes"
	"mime"
	"strconv"
	"strings"

	"github.com/dcrodman/muxnet/internal/core/cursor"
)

var crlf = []byte("\r\n")

// lineReader collects bytes up to a CRLF. A lone LF is part of the line.
type lineReader struct {
	max  int
	line []byte
}

// next consumes bytes of in (in Drain mode) up to and including the next CRLF
// and returns the line without its terminator. The line is only valid until
// the following call.
func (l *lineReader) next(in *cursor.Cursor) ([]byte, Status) {
	for {
		unread := in.Unread()
		if len(unread) == 0 {
			return nil, NeedMoreData
		}
		i := bytes.IndexByte(unread, '\n')
		if i < 0 {
			i = len(unread) - 1
		}
		l.line = append(l.line, unread[:i+1]...)
		_ = in.Skip(i + 1)

		if bytes.HasSuffix(l.line, crlf) {
			line := l.line[:len(l.line)-2]
			l.line = l.line[:0]
			if len(line) > l.max {
				return nil, Malformed
			}
			return line, Done
		}
		if len(l.line) > l.max+1 {
			return nil, Malformed
		}
	}
}

func (l *lineReader) reset() { l.line = l.line[:0] }

// Header is a decoded HTTP response header. Field names are stored in lower
// case and the values of repeated fields are joined with ";".
type Header struct {
	Version string
	Code    int
	Reason  string
	Fields  map[string]string
}

// Field returns the value of the named field, ignoring case.
func (h *Header) Field(name string) (string, bool) {
	v, ok := h.Fields[strings.ToLower(name)]
	return v, ok
}

// ContentLength returns the declared body length, or -1 when the field is
// absent or invalid.
func (h *Header) ContentLength() int {
	v, ok := h.Field("content-length")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// Chunked reports whether the body uses chunked transfer encoding.
func (h *Header) Chunked() bool {
	v, _ := h.Field("transfer-encoding")
	return strings.Contains(strings.ToLower(v), "chunked")
}

// Charset returns the charset parameter of the Content-Type field in lower
// case, or "" when none is declared.
func (h *Header) Charset() string {
	v, ok := h.Field("content-type")
	if !ok {
		return ""
	}
	_, params, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

// HeaderReader decodes the status line and fields of an HTTP response, up to
// and including the empty line that ends the header. Bytes of the body that
// arrived with the header are left in the cursor.
type HeaderReader struct {
	state
	lines  lineReader
	header *Header
}

func NewHeaderReader(maxLine int) *HeaderReader {
	return &HeaderReader{lines: lineReader{max: maxLine}}
}

func (r *HeaderReader) Process(in *cursor.Cursor) Status {
	r.checkProcess()
	return drain(in, func() Status {
		for {
			line, st := r.lines.next(in)
			if st != Done {
				return r.set(st)
			}
			if r.header == nil {
				h, ok := parseStatusLine(string(line))
				if !ok {
					return r.set(Malformed)
				}
				r.header = h
				continue
			}
			if len(line) == 0 {
				return r.set(Done)
			}
			name, value, ok := strings.Cut(string(line), ":")
			if !ok {
				return r.set(Malformed)
			}
			name = strings.ToLower(strings.TrimSpace(name))
			value = strings.TrimSpace(value)
			if prev, ok := r.header.Fields[name]; ok {
				value = prev + ";" + value
			}
			r.header.Fields[name] = value
		}
	})
}

func parseStatusLine(line string) (*Header, bool) {
	version, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(version, "HTTP/") {
		return nil, false
	}
	code, reason, _ := strings.Cut(rest, " ")
	if len(code) != 3 {
		return nil, false
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return nil, false
	}
	return &Header{
		Version: version,
		Code:    n,
		Reason:  reason,
		Fields:  map[string]string{},
	}, true
}

func (r *HeaderReader) Get() *Header {
	r.checkGet()
	return r.header
}

func (r *HeaderReader) Reset() {
	r.lines.reset()
	r.header = nil
	r.status = NeedMoreData
}

type chunkPhase int

const (
	chunkSize chunkPhase = iota
	chunkData
	chunkEnd
	chunkTrailer
)

// ChunkedReader decodes a body sent with chunked transfer encoding: hex size
// lines each followed by that many bytes and a CRLF, ended by a zero-size
// chunk and an optional trailer. A body larger than max is Malformed.
type ChunkedReader struct {
	state
	max     int
	lines   lineReader
	phase   chunkPhase
	pending int
	body    []byte
}

func NewChunkedReader(max int) *ChunkedReader {
	return &ChunkedReader{max: max, lines: lineReader{max: 1024}}
}

func (r *ChunkedReader) Process(in *cursor.Cursor) Status {
	r.checkProcess()
	return drain(in, func() Status {
		for {
			switch r.phase {
			case chunkSize:
				line, st := r.lines.next(in)
				if st != Done {
					return r.set(st)
				}
				size, _, _ := strings.Cut(string(line), ";")
				n, err := strconv.ParseInt(strings.TrimSpace(size), 16, 32)
				if err != nil || n < 0 || len(r.body)+int(n) > r.max {
					return r.set(Malformed)
				}
				if n == 0 {
					r.phase = chunkTrailer
					continue
				}
				r.pending = int(n)
				r.phase = chunkData

			case chunkData:
				unread := in.Unread()
				k := min(len(unread), r.pending)
				r.body = append(r.body, unread[:k]...)
				_ = in.Skip(k)
				r.pending -= k
				if r.pending > 0 {
					return NeedMoreData
				}
				r.phase = chunkEnd

			case chunkEnd:
				line, st := r.lines.next(in)
				if st != Done {
					return r.set(st)
				}
				if len(line) != 0 {
					return r.set(Malformed)
				}
				r.phase = chunkSize

			case chunkTrailer:
				line, st := r.lines.next(in)
				if st != Done {
					return r.set(st)
				}
				if len(line) == 0 {
					return r.set(Done)
				}
			}
		}
	})
}

func (r *ChunkedReader) Get() []byte {
	r.checkGet()
	return r.body
}

func (r *ChunkedReader) Reset() {
	r.lines.reset()
	r.phase = chunkSize
	r.pending = 0
	r.body = nil
	r.status = NeedMoreData
}
