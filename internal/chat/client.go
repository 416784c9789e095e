package chat

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core/reactor"
	"github.com/dcrodman/muxnet/internal/core/reader"
	"github.com/dcrodman/muxnet/internal/packets"
)

// Client is a chat client. Console lines that are not commands are sent as
// messages; messages from the other clients are handed to OnMessage. The
// loop stops when the server closes the connection.
type Client struct {
	Login  string
	Logger *zap.SugaredLogger
	// OnMessage is called on the loop's goroutine.
	OnMessage func(msg packets.ChatMessage)

	loop *reactor.Loop
	conn *reactor.Conn
}

// Init connects to the server at address.
func (c *Client) Init(loop *reactor.Loop, address string) error {
	if c.Login == "" {
		return fmt.Errorf("chat: empty login")
	}
	h := reactor.Decode(reader.NewMessageReader(reader.DefaultMaxStringSize), func(_ *reactor.Conn, msg packets.ChatMessage) error {
		if c.OnMessage != nil {
			c.OnMessage(msg)
		}
		return nil
	})
	conn, err := loop.Connect(address, reactor.NotifyClose(h, func(*reactor.Conn) {
		c.Logger.Infof("[%s] connection to %s closed", loop.Name(), address)
		loop.Stop()
	}))
	if err != nil {
		return err
	}
	c.loop, c.conn = loop, conn
	loop.HandleText(func(text string) {
		if err := c.Send(text); err != nil {
			c.Logger.Warnf("[%s] message not sent: %v", loop.Name(), err)
		}
	})
	return nil
}

// Send queues text as a message from the client's login. It must be called
// on the loop's goroutine; other goroutines use the loop's Execute.
func (c *Client) Send(text string) error {
	return c.conn.QueueMessage(packets.ChatMessage{Login: c.Login, Text: text})
}

// Leave stops reading from the server and closes the connection once every
// queued message has been sent. Safe to call from any goroutine.
func (c *Client) Leave() {
	c.loop.Submit(c.conn.Shutdown)
}
