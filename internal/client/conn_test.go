package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"go-dm/internal/chat"
)

// flakyServer pushes one event per connection and drops the first
// connection straight after.
func flakyServer(t *testing.T, conns *atomic.Int32, frames chan<- map[string]any) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		n := conns.Add(1)

		ws.WriteJSON(chat.Event{Type: chat.EventMessage, Message: &chat.Message{ID: int64(n), Content: "push"}})
		if n == 1 {
			return
		}
		for {
			var f map[string]any
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConnReconnectsAndReconciles(t *testing.T) {
	var conns atomic.Int32
	frames := make(chan map[string]any, 1)
	srv := flakyServer(t, &conns, frames)

	var (
		mu         sync.Mutex
		events     []int64
		states     []State
		reconciles atomic.Int32
	)
	c := NewConn("ws"+strings.TrimPrefix(srv.URL, "http"), Options{
		Retry: 10 * time.Millisecond,
		OnEvent: func(ev chat.Event) {
			mu.Lock()
			events = append(events, ev.Message.ID)
			mu.Unlock()
		},
		OnReconcile: func(context.Context) error {
			reconciles.Add(1)
			return nil
		},
		OnState: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for conns.Load() < 2 || c.State() != Connected || reconciles.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("did not reconnect: conns=%d state=%s", conns.Load(), c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Send("r1", chat.SendRequest{RecipientID: 2, Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case f := <-frames:
		if f["type"] != "send" || f["ref"] != "r1" || f["content"] != "hi" {
			t.Errorf("frame = %v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the send frame")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run = %v, want context.Canceled", err)
	}

	if n := reconciles.Load(); n < 2 {
		t.Errorf("reconciled %d times, want one per connect", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) < 2 || events[0] != 1 || events[1] != 2 {
		t.Errorf("events = %v, want pushes from both connections", events)
	}
	connected := 0
	for _, s := range states {
		if s == Connected {
			connected++
		}
	}
	if connected < 2 || states[0] != Connecting {
		t.Errorf("states = %v", states)
	}
	if c.State() != Disconnected {
		t.Errorf("final state = %s, want disconnected", c.State())
	}
}

func TestConnSendWhileDisconnected(t *testing.T) {
	c := NewConn("ws://127.0.0.1:1/ws", Options{})
	if err := c.Send("r", chat.SendRequest{}); err != ErrNotConnected {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
	if c.State() != Disconnected {
		t.Errorf("initial state = %s", c.State())
	}
}
