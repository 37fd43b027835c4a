package chat

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"go-dm/internal/apperr"
	"go-dm/internal/db"
	"go-dm/internal/media"
	"go-dm/internal/user"
)

type fixture struct {
	db       *db.Database
	repo     *Repository
	users    *user.Repository
	hub      *Hub
	resolver *media.Resolver
	service  *Service
	blobDir  string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	d, err := db.NewDatabase(db.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	blobDir := t.TempDir()
	store, err := media.NewDiskStore(blobDir)
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	f := &fixture{
		db:       d,
		repo:     NewRepository(d),
		users:    user.NewRepository(d),
		hub:      hub,
		resolver: media.NewResolver(store),
		blobDir:  blobDir,
	}
	f.service = NewService(f.repo, NewStoreIndex(f.repo), hub, f.users, f.resolver, zerolog.Nop(), opts...)
	return f
}

// mkUsers creates users named u0..u(n-1) and returns their ids.
func (f *fixture) mkUsers(t *testing.T, n int) []int {
	t.Helper()
	ids := make([]int, n)
	for i := range ids {
		u, err := f.users.CreateUser(context.Background(), &user.User{Username: fmt.Sprintf("u%d", i), Password: "x"})
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		ids[i] = u.ID
	}
	return ids
}

func (f *fixture) countMessages(t *testing.T) int {
	t.Helper()
	var n int
	if err := f.db.Conn.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

type fakeChannel struct {
	id     string
	userID int
	block  bool

	mu     sync.Mutex
	events []Event
	closed bool
}

func newFakeChannel(id string, userID int) *fakeChannel {
	return &fakeChannel{id: id, userID: userID}
}

func (c *fakeChannel) ID() string  { return c.id }
func (c *fakeChannel) UserID() int { return c.userID }

func (c *fakeChannel) Push(ctx context.Context, ev Event) error {
	if c.block {
		<-ctx.Done()
		return fmt.Errorf("%w: %w", apperr.ErrDeliveryPush, ctx.Err())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return apperr.ErrChannelClosed
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeChannel) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *fakeChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// blobCount counts files written by the disk store.
func (f *fixture) blobCount(t *testing.T) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(f.blobDir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return err
	})
	if err != nil {
		t.Fatalf("walk uploads: %v", err)
	}
	return n
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
