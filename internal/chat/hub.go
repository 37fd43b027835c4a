package chat

import (
	"context"

	"github.com/rs/zerolog"

	"go-dm/internal/metrics"
)

// Channel is one live connection bound to a user.
type Channel interface {
	ID() string
	UserID() int
	Push(ctx context.Context, ev Event) error
	Close()
}

type lookup struct {
	userID int
	reply  chan []Channel
}

// Hub is the connection registry. Run owns the channel map; every other
// method is a message to it, so no lock guards the map.
type Hub struct {
	channels map[int]map[string]Channel

	register   chan Channel
	unregister chan Channel
	lookups    chan lookup
	counts     chan chan int
	done       chan struct{}

	log zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		channels:   make(map[int]map[string]Channel),
		register:   make(chan Channel),
		unregister: make(chan Channel),
		lookups:    make(chan lookup),
		counts:     make(chan chan int),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Run serves registry operations until ctx is cancelled, then closes every
// registered channel. Operations issued after that return immediately.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	total := 0

	for {
		select {
		case c := <-h.register:
			set, ok := h.channels[c.UserID()]
			if !ok {
				set = make(map[string]Channel)
				h.channels[c.UserID()] = set
			}
			if old, ok := set[c.ID()]; ok && old != c {
				old.Close()
			} else if !ok {
				total++
			}
			set[c.ID()] = c
			metrics.LiveChannels.Set(float64(total))
			h.log.Debug().Int("user_id", c.UserID()).Str("channel", c.ID()).Msg("registered")

		case c := <-h.unregister:
			set := h.channels[c.UserID()]
			if cur, ok := set[c.ID()]; ok && cur == c {
				delete(set, c.ID())
				if len(set) == 0 {
					delete(h.channels, c.UserID())
				}
				total--
				c.Close()
				metrics.LiveChannels.Set(float64(total))
				h.log.Debug().Int("user_id", c.UserID()).Str("channel", c.ID()).Msg("unregistered")
			}

		case req := <-h.lookups:
			set := h.channels[req.userID]
			out := make([]Channel, 0, len(set))
			for _, c := range set {
				out = append(out, c)
			}
			req.reply <- out

		case reply := <-h.counts:
			reply <- total

		case <-ctx.Done():
			for _, set := range h.channels {
				for _, c := range set {
					c.Close()
				}
			}
			h.channels = nil
			metrics.LiveChannels.Set(0)
			return
		}
	}
}

// Register adds c to its user's set. A channel registered after Run has
// stopped is closed straight away.
func (h *Hub) Register(c Channel) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

// Unregister removes and closes c. Unknown channels are ignored.
func (h *Hub) Unregister(c Channel) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.Close()
	}
}

// ChannelsFor returns a snapshot of the user's channels.
func (h *Hub) ChannelsFor(userID int) []Channel {
	req := lookup{userID: userID, reply: make(chan []Channel, 1)}
	select {
	case h.lookups <- req:
		return <-req.reply
	case <-h.done:
		return nil
	}
}

func (h *Hub) Count() int {
	reply := make(chan int, 1)
	select {
	case h.counts <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}
