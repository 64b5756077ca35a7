package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gavel-auction/internal/protocol"
)

// Conn is a duplex, message-framed channel used identically by
// server-client and client-client links. One protocol envelope travels per
// WebSocket text frame, so a failed payload decode never desynchronizes the
// stream. All writes funnel through a single pump goroutine, so a broadcast
// and a direct reply can never interleave inside one frame.
type Conn struct {
	ws       *websocket.Conn
	sendChan chan *protocol.Envelope
	ctx      context.Context
	cancel   context.CancelFunc
	logger   zerolog.Logger
}

// NewConn wraps an established WebSocket connection and starts its writer
// pump. The caller owns the read side via ReadEnvelope.
func NewConn(ws *websocket.Conn, logger zerolog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:       ws,
		sendChan: make(chan *protocol.Envelope, 64),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
	go c.writePump()
	return c
}

// Send queues an envelope for delivery. It fails fast when the connection is
// closed or the peer stops draining its frames.
func (c *Conn) Send(env *protocol.Envelope) error {
	select {
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	default:
	}

	select {
	case c.sendChan <- env:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	case <-time.After(5 * time.Second):
		return fmt.Errorf("send buffer full")
	}
}

// ReadEnvelope blocks until the next envelope arrives. Closing the
// connection unblocks it. A frame that fails to decode is reported as a
// protocol error distinct from a transport error; the stream stays aligned
// on frame boundaries either way.
func (c *Conn) ReadEnvelope() (*protocol.Envelope, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

// Close tears the connection down and unblocks any pending read. Safe to
// call from any goroutine, any number of times.
func (c *Conn) Close() {
	c.cancel()
	if err := c.ws.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Error closing websocket")
	}
}

// RemoteAddr returns the remote endpoint address for logging and presence.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *Conn) writePump() {
	for {
		select {
		case env := <-c.sendChan:
			if err := c.ws.WriteJSON(env); err != nil {
				c.logger.Debug().Err(err).Str("type", string(env.Type)).Msg("Write failed, closing connection")
				c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
