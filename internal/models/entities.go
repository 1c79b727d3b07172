// Package models holds the entities shared by the sync core, the backend adapters and the local cache
package models

import (
	"errors"
	"github.com/rs/xid"
	"strings"
	"time"
)

// TemporaryPrefix marks identifiers assigned on the client before the backend has accepted a message
const TemporaryPrefix = "temp-"

var ErrBadDMParticipants = errors.New("direct message channel must have exactly two participants")

// Status is the delivery state of a message as seen by the client
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

// Unsent reports whether a message with this status has not been confirmed by the backend
func (s Status) Unsent() bool {
	return s == StatusSending || s == StatusPending || s == StatusFailed
}

// ChannelKind is the visibility of a channel
type ChannelKind string

const (
	KindPublic  ChannelKind = "public"
	KindPrivate ChannelKind = "private"
	KindDirect  ChannelKind = "dm"
)

type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status,omitempty"`
	Username  string    `json:"username,omitempty"`
}

// NewMessage is the row written to the backend; id and created_at are assigned by the server
type NewMessage struct {
	Content   string
	ChannelID string
	AuthorID  string
}

// InsertResult is the outcome of one row of a batched insert
type InsertResult struct {
	Message Message
	Err     error
}

type Channel struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  *string     `json:"description"`
	CreatedAt    time.Time   `json:"created_at"`
	Kind         ChannelKind `json:"type"`
	Members      []string    `json:"members,omitempty"`
	Participants []string    `json:"participants,omitempty"`
}

// Validate checks kind-specific constraints
func (c Channel) Validate() error {
	if c.Kind == KindDirect && len(c.Participants) != 2 {
		return ErrBadDMParticipants
	}
	return nil
}

// HasParticipant reports whether user takes part in a direct message channel
func (c Channel) HasParticipant(user string) bool {
	for _, p := range c.Participants {
		if p == user {
			return true
		}
	}
	return false
}

// PendingMessage is a message waiting in the durable queue for connectivity to return
type PendingMessage struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	ChannelID   string     `json:"channel_id"`
	AuthorID    string     `json:"user_id"`
	CreatedAt   time.Time  `json:"created_at"`
	RetryCount  int        `json:"retry_count"`
	LastAttempt *time.Time `json:"last_attempt"`
}

type Profile struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type OnlineUser struct {
	UserID   string     `json:"user_id"`
	Username string     `json:"username"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen"`
}

type ChannelRead struct {
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	LastRead  time.Time `json:"last_read"`
}

// NewTemporaryID returns a fresh client-side message id
func NewTemporaryID() string {
	return TemporaryPrefix + xid.New().String()
}

// IsTemporaryID reports whether id was assigned on the client
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TemporaryPrefix)
}
