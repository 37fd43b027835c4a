package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"go-dm/internal/chat"
	"go-dm/internal/client"
	"go-dm/internal/logger"
)

var (
	baseURL   = flag.String("url", "http://localhost:8080", "server base URL")
	pairs     = flag.Int("pairs", 50, "number of user pairs")
	msgCount  = flag.Int("messages", 20, "messages each user sends")
	settle    = flag.Duration("settle", 3*time.Second, "time to wait for pushes after sending")
	verbosity = flag.String("log", "info", "log level")
)

type stats struct {
	sent       atomic.Int64
	acked      atomic.Int64
	pushed     atomic.Int64
	reconciled atomic.Int64
	failed     atomic.Int64
}

func main() {
	flag.Parse()
	log := logger.New(*verbosity, "console")

	var st stats
	start := time.Now()
	log.Info().Int("users", *pairs*2).Int("messages", *msgCount).Msg("starting stress test")

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(pairID, &st, log); err != nil {
				st.failed.Add(1)
				log.Error().Err(err).Int("pair", pairID).Msg("pair failed")
			}
		}(i)
	}
	wg.Wait()

	log.Info().
		Int64("sent", st.sent.Load()).
		Int64("acked", st.acked.Load()).
		Int64("pushed", st.pushed.Load()).
		Int64("reconciled", st.reconciled.Load()).
		Int64("failed_pairs", st.failed.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
	if st.failed.Load() > 0 {
		os.Exit(1)
	}
}

type participant struct {
	api  *client.API
	id   int
	peer int
	conn *client.Conn

	mu   sync.Mutex
	seen map[int64]bool
	last int64
}

func runPair(pairID int, st *stats, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := login(ctx, fmt.Sprintf("u_%d_a", pairID))
	if err != nil {
		return err
	}
	b, err := login(ctx, fmt.Sprintf("u_%d_b", pairID))
	if err != nil {
		return err
	}
	a.peer, b.peer = b.id, a.id

	var wg sync.WaitGroup
	for _, p := range []*participant{a, b} {
		p.conn = client.NewConn(p.api.WebsocketURL(), client.Options{
			OnEvent:     p.onEvent(st),
			OnReconcile: p.reconcile(st),
			Log:         log.With().Int("user_id", p.id).Logger(),
		})
		wg.Add(1)
		go func(p *participant) {
			defer wg.Done()
			p.conn.Run(ctx)
		}(p)
	}

	for _, p := range []*participant{a, b} {
		if err := waitConnected(ctx, p.conn); err != nil {
			return err
		}
	}

	var sendWg sync.WaitGroup
	for _, p := range []*participant{a, b} {
		sendWg.Add(1)
		go func(p *participant) {
			defer sendWg.Done()
			for i := 0; i < *msgCount; i++ {
				req := chat.SendRequest{RecipientID: p.peer, Content: fmt.Sprintf("LoadTest Msg %d from %d", i, p.id)}
				if err := p.conn.Send(fmt.Sprint(i), req); err != nil {
					log.Warn().Err(err).Int("user_id", p.id).Msg("send")
					continue
				}
				st.sent.Add(1)
				// Simulate real network pacing.
				time.Sleep(10 * time.Millisecond)
			}
		}(p)
	}
	sendWg.Wait()

	time.Sleep(*settle)
	cancel()
	wg.Wait()
	return nil
}

func login(ctx context.Context, username string) (*participant, error) {
	api := client.NewAPI(*baseURL)
	const pass = "password123"

	// Already registered from an earlier run is fine.
	if err := api.Register(ctx, username, pass); err != nil {
		var se *client.StatusError
		if !errors.As(err, &se) || se.Reason != "conflict" {
			return nil, fmt.Errorf("register %s: %w", username, err)
		}
	}
	res, err := api.Login(ctx, username, pass)
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	return &participant{api: api, id: res.ID, seen: map[int64]bool{}}, nil
}

func waitConnected(ctx context.Context, c *client.Conn) error {
	deadline := time.Now().Add(10 * time.Second)
	for c.State() != client.Connected {
		if time.Now().After(deadline) {
			return errors.New("live channel never connected")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return nil
}

// record tracks the newest message id so reconciliation only asks for the gap.
func (p *participant) record(m *chat.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[m.ID] {
		return false
	}
	p.seen[m.ID] = true
	if m.ID > p.last {
		p.last = m.ID
	}
	return true
}

func (p *participant) onEvent(st *stats) func(chat.Event) {
	return func(ev chat.Event) {
		switch ev.Type {
		case chat.EventMessage:
			if ev.Message != nil && p.record(ev.Message) {
				st.pushed.Add(1)
			}
		case chat.EventAck:
			st.acked.Add(1)
		}
	}
}

func (p *participant) reconcile(st *stats) func(context.Context) error {
	return func(ctx context.Context) error {
		p.mu.Lock()
		after := p.last
		p.mu.Unlock()

		msgs, err := p.api.History(ctx, p.peer, after)
		if err != nil {
			return err
		}
		for i := range msgs {
			if p.record(&msgs[i]) {
				st.reconciled.Add(1)
			}
		}
		return nil
	}
}
