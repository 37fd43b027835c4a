package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"go-dm/internal/apperr"
	"go-dm/internal/metrics"
)

// RateLimiter returns apperr.ErrRateLimited when key has sent too much.
type RateLimiter interface {
	Allow(ctx context.Context, key string) error
}

// Service is the delivery coordinator: validate, persist, index, push.
type Service struct {
	repo  *Repository
	index Index
	hub   *Hub
	dir   Directory
	media MediaChecker

	pub         Publisher
	limiter     RateLimiter
	pushTimeout time.Duration

	log zerolog.Logger
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

func WithRateLimiter(l RateLimiter) Option { return func(s *Service) { s.limiter = l } }

func WithPushTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pushTimeout = d
		}
	}
}

func NewService(repo *Repository, index Index, hub *Hub, dir Directory, media MediaChecker, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		index:       index,
		hub:         hub,
		dir:         dir,
		media:       media,
		pushTimeout: 2 * time.Second,
		log:         log.With().Str("component", "chat_service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send persists a message and pushes it to the live channels of both
// participants. The returned message is durable; push results never change
// the outcome. Retrying a send stores a second message.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Message, error) {
	return s.send(ctx, req, nil)
}

// SendUpload is Send for an attachment that is not stored yet. store runs
// only after the message has passed validation, the rate limit and the
// recipient check, and its result becomes the media ref.
func (s *Service) SendUpload(ctx context.Context, req SendRequest, store func(context.Context) (string, error)) (*Message, error) {
	return s.send(ctx, req, store)
}

func (s *Service) send(ctx context.Context, req SendRequest, store func(context.Context) (string, error)) (*Message, error) {
	start := time.Now()
	if req.Kind == "" {
		req.Kind = KindText
	}
	m := &Message{
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		Kind:        req.Kind,
		MediaRef:    req.MediaRef,
	}
	if store != nil {
		if m.Kind == KindText {
			return nil, apperr.Invalid("kind", "must be one of file, voice, video")
		}
		m.MediaRef = "pending"
	}
	if err := validate(m); err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, "send:"+strconv.Itoa(m.SenderID)); err != nil {
			return nil, err
		}
	}

	ok, err := s.dir.Exists(ctx, m.RecipientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Invalid("to", "unknown recipient")
	}

	if store != nil {
		if m.MediaRef, err = store(ctx); err != nil {
			return nil, err
		}
	}
	if m.Kind != KindText {
		if err := s.media.Check(string(m.Kind), m.MediaRef); err != nil {
			return nil, err
		}
	}

	saved, err := s.repo.Append(ctx, m)
	if err != nil {
		if store != nil {
			s.log.Warn().Err(err).Str("media_ref", m.MediaRef).Msg("append failed, blob left unreferenced")
		}
		return nil, err
	}
	metrics.MessagesPersisted.WithLabelValues(string(saved.Kind)).Inc()

	if err := s.index.Touch(ctx, saved); err != nil {
		s.log.Warn().Err(err).Int64("message_id", saved.ID).Msg("chat index touch failed")
	}

	s.fanOut(ctx, saved)
	s.publish(ctx, saved)

	metrics.SendDuration.Observe(time.Since(start).Seconds())
	return saved, nil
}

// fanOut pushes m once to every channel of the recipient and the sender.
// Each push has its own deadline so one slow channel cannot hold up another.
func (s *Service) fanOut(ctx context.Context, m *Message) {
	seen := make(map[string]struct{})
	var targets []Channel
	for _, uid := range []int{m.RecipientID, m.SenderID} {
		for _, ch := range s.hub.ChannelsFor(uid) {
			if _, dup := seen[ch.ID()]; dup {
				continue
			}
			seen[ch.ID()] = struct{}{}
			targets = append(targets, ch)
		}
	}
	if len(targets) == 0 {
		return
	}

	// Pushes outlive a caller that hangs up right after persistence.
	base := context.WithoutCancel(ctx)
	ev := Event{Type: EventMessage, Message: m}

	var wg sync.WaitGroup
	for _, ch := range targets {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(base, s.pushTimeout)
			defer cancel()

			err := ch.Push(pctx, ev)
			switch {
			case err == nil:
				metrics.Pushes.WithLabelValues(metrics.PushOK).Inc()
				return
			case errors.Is(err, context.DeadlineExceeded):
				metrics.Pushes.WithLabelValues(metrics.PushTimeout).Inc()
			default:
				metrics.Pushes.WithLabelValues(metrics.PushFailed).Inc()
			}

			if !errors.Is(err, apperr.ErrDeliveryPush) {
				err = fmt.Errorf("%w: %w", apperr.ErrDeliveryPush, err)
			}
			s.log.Warn().Err(err).
				Int64("message_id", m.ID).
				Int("user_id", ch.UserID()).
				Str("channel", ch.ID()).
				Msg("push failed, dropping channel")
			// The client reconnects and catches up from history.
			s.hub.Unregister(ch)
		}(ch)
	}
	wg.Wait()
}

func (s *Service) publish(ctx context.Context, m *Message) {
	if s.pub == nil {
		return
	}
	payload, err := json.Marshal(m)
	if err != nil {
		s.log.Error().Err(err).Msg("encode message.created")
		return
	}
	lo, hi := pairKey(m.SenderID, m.RecipientID)
	key := fmt.Sprintf("%d:%d", lo, hi)
	if err := s.pub.Publish(context.WithoutCancel(ctx), key, payload); err != nil {
		metrics.OutboxErrors.Inc()
		s.log.Warn().Err(err).Int64("message_id", m.ID).Msg("publish message.created")
	}
}

// History returns the conversation between me and other in timestamp order.
func (s *Service) History(ctx context.Context, me, other int, page Page) ([]Message, error) {
	if other <= 0 {
		return nil, apperr.Invalid("user_id", "must be a positive id")
	}
	if page.Limit < 0 {
		return nil, apperr.Invalid("limit", "must not be negative")
	}
	return s.repo.ListBetween(ctx, me, other, page)
}

func (s *Service) ChatList(ctx context.Context, me int) ([]ChatEntry, error) {
	return s.index.ChatList(ctx, me)
}
