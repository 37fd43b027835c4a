package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHubRegisterLookupUnregister(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(zerolog.Nop())
	go h.Run(ctx)

	a := newFakeChannel("a", 1)
	b := newFakeChannel("b", 1)
	c := newFakeChannel("c", 2)
	h.Register(a)
	h.Register(b)
	h.Register(c)

	if n := len(h.ChannelsFor(1)); n != 2 {
		t.Errorf("ChannelsFor(1) = %d channels, want 2", n)
	}
	if n := h.Count(); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	h.Unregister(a)
	h.Unregister(a) // unknown now, ignored
	if got := h.ChannelsFor(1); len(got) != 1 || got[0].ID() != "b" {
		t.Errorf("ChannelsFor(1) = %v, want [b]", got)
	}
	if !a.Closed() {
		t.Error("unregistered channel not closed")
	}
	if got := h.ChannelsFor(99); len(got) != 0 {
		t.Errorf("ChannelsFor(99) = %v, want empty", got)
	}
}

func TestHubConcurrentRegistrationSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(zerolog.Nop())
	go h.Run(ctx)

	const n = 100
	const user = 7
	chans := make([]*fakeChannel, n)
	for i := range chans {
		chans[i] = newFakeChannel(fmt.Sprintf("ch-%d", i), user)
	}

	checkSnapshot := func(snap []Channel) error {
		if len(snap) > n {
			return fmt.Errorf("snapshot has %d channels", len(snap))
		}
		seen := map[string]bool{}
		for _, c := range snap {
			if c == nil {
				return fmt.Errorf("nil channel in snapshot")
			}
			if c.UserID() != user {
				return fmt.Errorf("channel %s belongs to user %d", c.ID(), c.UserID())
			}
			if seen[c.ID()] {
				return fmt.Errorf("channel %s listed twice", c.ID())
			}
			seen[c.ID()] = true
		}
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for _, c := range chans {
		wg.Add(2)
		go func(c *fakeChannel) {
			defer wg.Done()
			h.Register(c)
		}(c)
		go func() {
			defer wg.Done()
			if err := checkSnapshot(h.ChannelsFor(user)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()

	if got := h.ChannelsFor(user); len(got) != n {
		t.Fatalf("after registering: %d channels, want %d", len(got), n)
	}

	for _, c := range chans {
		wg.Add(2)
		go func(c *fakeChannel) {
			defer wg.Done()
			h.Unregister(c)
		}(c)
		go func() {
			defer wg.Done()
			if err := checkSnapshot(h.ChannelsFor(user)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if got := h.ChannelsFor(user); len(got) != 0 {
		t.Errorf("after unregistering: %d channels, want 0", len(got))
	}
	for _, c := range chans {
		if !c.Closed() {
			t.Fatalf("channel %s not closed", c.ID())
		}
	}
}

func TestHubStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(zerolog.Nop())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	live := newFakeChannel("live", 1)
	h.Register(live)
	cancel()
	<-stopped

	if !live.Closed() {
		t.Error("channels must be closed when the hub stops")
	}

	done := make(chan struct{})
	go func() {
		late := newFakeChannel("late", 1)
		h.Register(late)
		h.Unregister(late)
		_ = h.ChannelsFor(1)
		_ = h.Count()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub operations blocked after Run returned")
	}
}
