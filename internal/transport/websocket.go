package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshgate/meshgate/internal/models"
)

const (
	writeWait      = 10 * time.Second
	inboundBacklog = 64
)

// WSClient speaks JSON frames to a radiod-style daemon over a websocket:
// inbound frames decode to models.InboundMessage, outbound sends encode
// models.OutboundMessage. It implements Sender and Receiver.
type WSClient struct {
	conn   *websocket.Conn
	in     chan *models.InboundMessage
	logger *slog.Logger

	writeMu sync.Mutex
	once    sync.Once
}

// DialWS connects to the daemon at url (ws:// or wss://) and starts the
// read pump.
func DialWS(ctx context.Context, url string, logger *slog.Logger) (*WSClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial radio daemon %s: %w", url, err)
	}

	c := &WSClient{
		conn:   conn,
		in:     make(chan *models.InboundMessage, inboundBacklog),
		logger: logger,
	}
	go c.readPump()
	return c, nil
}

// Messages implements Receiver.
func (c *WSClient) Messages() <-chan *models.InboundMessage {
	return c.in
}

// Send implements Sender. Writes are serialized; gorilla allows only one
// concurrent writer.
func (c *WSClient) Send(ctx context.Context, msg *models.OutboundMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("radio send failed: %w", err)
	}
	return nil
}

// Close shuts the connection down; the inbound channel closes once the read
// pump exits.
func (c *WSClient) Close() error {
	return c.conn.Close()
}

func (c *WSClient) readPump() {
	defer c.once.Do(func() { close(c.in) })

	for {
		var msg models.InboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("radio daemon connection lost", "error", err)
			}
			return
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		c.in <- &msg
	}
}
