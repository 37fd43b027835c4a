package chat

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go-dm/internal/apperr"
	"go-dm/internal/db"
)

// Repository is the message store. It only appends and reads.
type Repository struct {
	db *db.Database

	mu     sync.Mutex
	seeded bool
	last   int64 // unix micros of the newest stored message
	now    func() time.Time
}

func NewRepository(d *db.Database) *Repository {
	return &Repository{db: d, now: time.Now}
}

// validate checks a message before anything touches storage.
func validate(m *Message) error {
	switch {
	case m.SenderID <= 0:
		return apperr.Invalid("from", "sender is required")
	case m.RecipientID <= 0:
		return apperr.Invalid("to", "recipient is required")
	case m.SenderID == m.RecipientID:
		return apperr.Invalid("to", "cannot send a message to yourself")
	case !m.Kind.Valid():
		return apperr.Invalid("kind", "must be one of text, file, voice, video")
	}

	if m.Kind == KindText {
		if m.MediaRef != "" {
			return apperr.Invalid("media_ref", "not allowed for text messages")
		}
		if strings.TrimSpace(m.Content) == "" {
			return apperr.Invalid("content", "must not be empty")
		}
		return nil
	}
	if m.MediaRef == "" {
		return apperr.Invalid("media_ref", "required for "+string(m.Kind)+" messages")
	}
	return nil
}

// Append validates and stores m, assigning its id and timestamp.
// Timestamps strictly increase in append order.
func (r *Repository) Append(ctx context.Context, m *Message) (*Message, error) {
	if err := validate(m); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.seeded {
		var last int64
		err := r.db.Conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(created_at), 0) FROM messages").Scan(&last)
		if err != nil {
			return nil, apperr.Storage("seed clock", err)
		}
		r.last, r.seeded = last, true
	}

	ts := r.now().UnixMicro()
	if ts <= r.last {
		ts = r.last + 1
	}

	lo, hi := pairKey(m.SenderID, m.RecipientID)
	var ref sql.NullString
	if m.MediaRef != "" {
		ref = sql.NullString{String: m.MediaRef, Valid: true}
	}

	query := r.db.Rebind(`
		INSERT INTO messages (sender_id, recipient_id, pair_lo, pair_hi, content, kind, media_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	var id int64
	err := r.db.Conn.QueryRowContext(ctx, query,
		m.SenderID, m.RecipientID, lo, hi, m.Content, string(m.Kind), ref, ts,
	).Scan(&id)
	if err != nil {
		return nil, apperr.Storage("append message", err)
	}
	r.last = ts

	out := *m
	out.ID = id
	out.CreatedAt = time.UnixMicro(ts).UTC()
	return &out, nil
}

// ListBetween returns the conversation of a and b in timestamp order.
// The argument order does not matter.
func (r *Repository) ListBetween(ctx context.Context, a, b int, page Page) ([]Message, error) {
	if a == b {
		return nil, apperr.Invalid("to", "no conversation with yourself")
	}
	lo, hi := pairKey(a, b)

	q := `
		SELECT id, sender_id, recipient_id, content, kind, media_ref, created_at
		FROM messages
		WHERE pair_lo = ? AND pair_hi = ? AND id > ?
		ORDER BY created_at, id`
	args := []any{lo, hi, page.AfterID}
	if page.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, page.Limit)
	}

	rows, err := r.db.Conn.QueryContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			m    Message
			kind string
			ref  sql.NullString
			ts   int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &kind, &ref, &ts); err != nil {
			return nil, apperr.Storage("scan message", err)
		}
		m.Kind = Kind(kind)
		m.MediaRef = ref.String
		m.CreatedAt = time.UnixMicro(ts).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	return messages, nil
}

// ListCounterparts returns every user the given user has exchanged messages with.
func (r *Repository) ListCounterparts(ctx context.Context, userID int) ([]int, error) {
	q := r.db.Rebind(`
		SELECT recipient_id FROM messages WHERE sender_id = ?
		UNION
		SELECT sender_id FROM messages WHERE recipient_id = ?`)

	rows, err := r.db.Conn.QueryContext(ctx, q, userID, userID)
	if err != nil {
		return nil, apperr.Storage("list counterparts", err)
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("scan counterpart", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list counterparts", err)
	}
	return ids, nil
}

// ChatList derives the user's conversations, most recent activity first.
func (r *Repository) ChatList(ctx context.Context, userID int) ([]ChatEntry, error) {
	q := r.db.Rebind(`
		SELECT c.other, u.username, MAX(c.id) AS last_id, MAX(c.created_at) AS last_at
		FROM (
			SELECT recipient_id AS other, id, created_at FROM messages WHERE sender_id = ?
			UNION ALL
			SELECT sender_id AS other, id, created_at FROM messages WHERE recipient_id = ?
		) c
		JOIN users u ON u.id = c.other
		GROUP BY c.other, u.username
		ORDER BY last_id DESC`)

	rows, err := r.db.Conn.QueryContext(ctx, q, userID, userID)
	if err != nil {
		return nil, apperr.Storage("chat list", err)
	}
	defer rows.Close()

	entries := []ChatEntry{}
	for rows.Next() {
		var (
			e      ChatEntry
			lastID int64
			ts     int64
		)
		if err := rows.Scan(&e.UserID, &e.Username, &lastID, &ts); err != nil {
			return nil, apperr.Storage("scan chat entry", err)
		}
		e.LastMessageAt = time.UnixMicro(ts).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("chat list", err)
	}
	return entries, nil
}
