package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-dm/internal/apperr"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 8192                // Largest inbound send frame.
	sendBuffer     = 256
	frameTimeout   = 10 * time.Second
)

// Sender is what a client needs to turn inbound frames into messages.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (*Message, error)
}

// inboundFrame is a send request written by the peer over the socket.
type inboundFrame struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
	SendRequest
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id     string
	userID int
	hub    *Hub
	sender Sender
	conn   *websocket.Conn

	// Never closed; done tells the pumps and pushers to stop.
	send      chan Event
	done      chan struct{}
	closeOnce sync.Once

	log zerolog.Logger
}

func NewClient(hub *Hub, sender Sender, conn *websocket.Conn, userID int, log zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		userID: userID,
		hub:    hub,
		sender: sender,
		conn:   conn,
		send:   make(chan Event, sendBuffer),
		done:   make(chan struct{}),
		log:    log.With().Str("channel", id).Int("user_id", userID).Logger(),
	}
}

func (c *Client) ID() string  { return c.id }
func (c *Client) UserID() int { return c.userID }

// Push queues ev for the write pump. It fails when the client is closed or
// ctx ends before there is room in the buffer.
func (c *Client) Push(ctx context.Context, ev Event) error {
	select {
	case <-c.done:
		return apperr.ErrChannelClosed
	default:
	}

	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return apperr.ErrChannelClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", apperr.ErrDeliveryPush, ctx.Err())
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump reads send frames until the connection dies, then unregisters.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("read")
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reply(Event{Type: EventError, Error: "malformed frame"})
		return
	}
	if f.Type != "send" {
		c.reply(Event{Type: EventError, Ref: f.Ref, Error: fmt.Sprintf("unknown frame type %q", f.Type)})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	req := f.SendRequest
	req.SenderID = c.userID
	m, err := c.sender.Send(ctx, req)
	if err != nil {
		msg := "internal error"
		var verr *apperr.ValidationError
		switch {
		case errors.As(err, &verr):
			msg = verr.Error()
		case errors.Is(err, apperr.ErrRateLimited):
			msg = err.Error()
		default:
			c.log.Error().Err(err).Msg("send frame")
		}
		c.reply(Event{Type: EventError, Ref: f.Ref, Error: msg})
		return
	}
	c.reply(Event{Type: EventAck, Ref: f.Ref, MessageID: m.ID})
}

func (c *Client) reply(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.Push(ctx, ev); err != nil {
		c.log.Debug().Err(err).Str("type", ev.Type).Msg("reply dropped")
	}
}

// WritePump writes queued events and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Debug().Err(err).Msg("write")
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
