// Package client is the consuming side of the live channel: a websocket
// connection that reconnects on its own and asks the caller to reconcile
// history whenever it may have missed pushes.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-dm/internal/chat"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

var ErrNotConnected = errors.New("live channel not connected")

type Options struct {
	// Delay between reconnect attempts.
	Retry time.Duration
	// Interval of the safety net reconciliation while connected.
	ReconcileEvery time.Duration

	// OnEvent receives every pushed event. It runs on the read loop.
	OnEvent func(chat.Event)
	// OnReconcile runs after each (re)connect and every ReconcileEvery.
	OnReconcile func(ctx context.Context) error
	// OnState observes every state transition.
	OnState func(State)

	Dialer *websocket.Dialer
	Log    zerolog.Logger
}

// Conn is a live channel that moves between Disconnected, Connecting and
// Connected until its Run context ends.
type Conn struct {
	url  string
	opts Options

	mu    sync.Mutex
	state State
	ws    *websocket.Conn

	writeMu sync.Mutex
}

func NewConn(url string, opts Options) *Conn {
	if opts.Retry <= 0 {
		opts.Retry = time.Second
	}
	if opts.ReconcileEvery <= 0 {
		opts.ReconcileEvery = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Conn{url: url, opts: opts}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State, ws *websocket.Conn) {
	c.mu.Lock()
	changed := c.state != s
	c.state, c.ws = s, ws
	c.mu.Unlock()

	if changed {
		c.opts.Log.Debug().Str("state", s.String()).Msg("live channel")
		if c.opts.OnState != nil {
			c.opts.OnState(s)
		}
	}
}

// Run drives the state machine. It returns ctx.Err() once ctx ends.
func (c *Conn) Run(ctx context.Context) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(c.opts.Retry), ctx)

	for {
		c.setState(Connecting, nil)
		ws, _, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.setState(Disconnected, nil)
			c.opts.Log.Debug().Err(err).Msg("dial")
		} else {
			b.Reset()
			c.setState(Connected, ws)
			c.serve(ctx, ws)
			c.setState(Disconnected, nil)
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// serve reads events until the connection fails or ctx ends.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-connCtx.Done()
		ws.Close()
	}()

	go c.reconcileLoop(connCtx)

	for {
		var ev chat.Event
		if err := ws.ReadJSON(&ev); err != nil {
			if connCtx.Err() == nil {
				c.opts.Log.Debug().Err(err).Msg("read")
			}
			return
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(ev)
		}
	}
}

func (c *Conn) reconcileLoop(ctx context.Context) {
	if c.opts.OnReconcile == nil {
		return
	}
	ticker := time.NewTicker(c.opts.ReconcileEvery)
	defer ticker.Stop()

	for {
		if err := c.opts.OnReconcile(ctx); err != nil && ctx.Err() == nil {
			c.opts.Log.Warn().Err(err).Msg("reconcile")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Send writes a send frame. The result arrives later as an ack or error
// event carrying ref.
func (c *Conn) Send(ref string, req chat.SendRequest) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	frame := struct {
		Type string `json:"type"`
		Ref  string `json:"ref"`
		chat.SendRequest
	}{Type: "send", Ref: ref, SendRequest: req}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteJSON(frame)
}
