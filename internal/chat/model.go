package chat

import (
	"context"
	"time"
)

type Kind string

const (
	KindText  Kind = "text"
	KindFile  Kind = "file"
	KindVoice Kind = "voice"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindFile, KindVoice, KindVideo:
		return true
	}
	return false
}

// Message is immutable once appended.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    int       `json:"from"`
	RecipientID int       `json:"to"`
	Content     string    `json:"content"`
	Kind        Kind      `json:"kind"`
	MediaRef    string    `json:"media_ref,omitempty"`
	CreatedAt   time.Time `json:"timestamp"`
}

// ChatEntry is one row of a user's chat list.
type ChatEntry struct {
	UserID        int       `json:"user_id"`
	Username      string    `json:"username"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Page restricts a history read to messages after a cursor.
// Limit <= 0 means no limit.
type Page struct {
	AfterID int64
	Limit   int
}

type SendRequest struct {
	SenderID    int    `json:"-"`
	RecipientID int    `json:"to"`
	Content     string `json:"content"`
	Kind        Kind   `json:"kind"`
	MediaRef    string `json:"media_ref,omitempty"`
}

// Event is what a live channel receives. An ack names the stored message by
// id only; the message itself arrives once, as a message event.
type Event struct {
	Type      string   `json:"type"`
	Message   *Message `json:"message,omitempty"`
	MessageID int64    `json:"message_id,omitempty"`
	Error     string   `json:"error,omitempty"`
	Ref       string   `json:"ref,omitempty"`
}

const (
	EventMessage = "message"
	EventAck     = "ack"
	EventError   = "error"
)

// Directory answers the user questions the chat feature has.
type Directory interface {
	Exists(ctx context.Context, userID int) (bool, error)
	Usernames(ctx context.Context, ids []int) (map[int]string, error)
}

// MediaChecker validates a media reference before a message is persisted.
type MediaChecker interface {
	Check(kind string, ref string) error
}

// Publisher receives persisted messages for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

func pairKey(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}
