// Package httpget fetches a single document over plain HTTP/1.1 from inside a
// reactor loop. The response header and body are decoded incrementally as
// bytes arrive, and the body is converted to UTF-8 from the charset the
// server declares.
package httpget

import (
	"errors"
	"fmt"
	"net"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/dcrodman/muxnet/internal/core/cursor"
	"github.com/dcrodman/muxnet/internal/core/reactor"
	"github.com/dcrodman/muxnet/internal/core/reader"
)

const (
	DefaultMaxBody   = 1 << 20
	DefaultMaxHeader = 8 * 1024
)

var (
	ErrIncomplete  = errors.New("httpget: connection closed before the response was complete")
	ErrBodyTooLong = errors.New("httpget: response body exceeds the limit")
	ErrMalformed   = errors.New("httpget: malformed response")
)

// Response is a decoded HTTP response.
type Response struct {
	Header *reader.Header
	// Body holds the body bytes as sent, after removing any chunked framing.
	Body []byte
	// Text is Body converted to UTF-8.
	Text string
}

// Client performs one GET request. The loop it was initialized with is
// stopped once the response is complete or the connection has failed.
type Client struct {
	MaxBody int
	Logger  *zap.SugaredLogger

	header     *reader.HeaderReader
	body       reader.Reader[[]byte]
	untilClose bool
	raw        []byte

	resp *Response
	err  error
}

// Request returns the request sent for u.
func Request(u *url.URL) []byte {
	return fmt.Appendf(nil, "GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\nAccept-Charset: utf-8, iso-8859-1;q=0.5\r\n\r\n",
		u.RequestURI(), u.Host)
}

// Init connects to the server named by rawURL and queues the request.
func (c *Client) Init(loop *reactor.Loop, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme %q (only http is supported)", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	if c.MaxBody <= 0 {
		c.MaxBody = DefaultMaxBody
	}
	c.header = reader.NewHeaderReader(DefaultMaxHeader)

	h := reactor.NotifyClose(reactor.HandlerFunc(func(conn *reactor.Conn, in *cursor.Cursor) error {
		if err := c.process(conn, in); err != nil {
			c.err = err
			return err
		}
		return nil
	}), func(conn *reactor.Conn) {
		c.closed()
		loop.Stop()
	})
	conn, err := loop.Connect(net.JoinHostPort(u.Hostname(), port), h)
	if err != nil {
		return err
	}
	return conn.Queue(Request(u))
}

func (c *Client) process(conn *reactor.Conn, in *cursor.Cursor) error {
	for c.resp == nil {
		switch {
		case c.body == nil && !c.untilClose:
			switch c.header.Process(in) {
			case reader.NeedMoreData:
				return nil
			case reader.Malformed:
				return ErrMalformed
			}
			if err := c.startBody(c.header.Get()); err != nil {
				return err
			}

		case c.body != nil:
			switch c.body.Process(in) {
			case reader.NeedMoreData:
				return nil
			case reader.Malformed:
				return ErrMalformed
			}
			c.raw = c.body.Get()
			c.finish()

		default:
			if err := in.Flip(); err != nil {
				return err
			}
			c.raw = append(c.raw, in.GetAll()...)
			if err := in.Compact(); err != nil {
				return err
			}
			if len(c.raw) > c.MaxBody {
				return ErrBodyTooLong
			}
			return nil
		}
	}
	return conn.Close()
}

// startBody picks how the body following h is delimited.
func (c *Client) startBody(h *reader.Header) error {
	c.Logger.Debugf("received %s %d %s", h.Version, h.Code, h.Reason)
	switch {
	case h.Code/100 == 1 || h.Code == 204 || h.Code == 304:
		c.finishHeader(h)
	case h.Chunked():
		c.body = reader.NewChunkedReader(c.MaxBody)
	case h.ContentLength() > c.MaxBody:
		return ErrBodyTooLong
	case h.ContentLength() >= 0:
		c.body = reader.NewBytesReader(h.ContentLength())
	default:
		c.untilClose = true
	}
	return nil
}

func (c *Client) finishHeader(h *reader.Header) {
	c.resp = &Response{Header: h}
}

func (c *Client) finish() {
	h := c.header.Get()
	text, err := Decode(c.raw, h.Charset())
	if err != nil {
		c.Logger.Warnf("%v, keeping the body as sent", err)
		text = string(c.raw)
	}
	c.resp = &Response{Header: h, Body: c.raw, Text: text}
}

func (c *Client) closed() {
	switch {
	case c.resp != nil || c.err != nil:
	case c.untilClose:
		c.finish()
	default:
		c.err = ErrIncomplete
	}
}

// Response returns the decoded response once the loop has ended.
func (c *Client) Response() (*Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.resp == nil {
		return nil, ErrIncomplete
	}
	return c.resp, nil
}

// Decode converts body from charset to UTF-8. An empty charset means UTF-8.
func Decode(body []byte, charset string) (string, error) {
	if charset == "" {
		return string(body), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	text, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return "", err
	}
	return string(text), nil
}
