package chat

import (
	"chatsync/internal/models"
	"context"
	"time"
)

// Session is the authenticated user the client acts for
type Session struct {
	UserID   string
	Username string
}

func (s Session) Authenticated() bool {
	return s.UserID != ""
}

// Backend is the remote data service
type Backend interface {
	Channels(ctx context.Context) ([]models.Channel, error)
	DirectChannels(ctx context.Context, userID string) ([]models.Channel, error)
	// GetOrCreateDirectChannel returns id of the direct message channel between two users, creating it when absent
	GetOrCreateDirectChannel(ctx context.Context, user1, user2 string) (string, error)

	// LatestMessages returns the newest limit messages of a channel in ascending time order
	LatestMessages(ctx context.Context, channelID string, limit int) ([]models.Message, error)
	// MessagesBefore returns up to limit messages created strictly before t, in ascending time order
	MessagesBefore(ctx context.Context, channelID string, before time.Time, limit int) ([]models.Message, error)
	InsertMessage(ctx context.Context, m models.NewMessage) (models.Message, error)
	// InsertMessages writes rows in one round trip; result i belongs to row i
	InsertMessages(ctx context.Context, rows []models.NewMessage) ([]models.InsertResult, error)

	Profile(ctx context.Context, userID string) (models.Profile, error)
}

// PendingQueue is the durable queue of messages written while offline
type PendingQueue interface {
	Enqueue(ctx context.Context, p models.PendingMessage) error
	// List returns messages of user with retry count at most maxRetries, oldest first
	List(ctx context.Context, user string, maxRetries int) ([]models.PendingMessage, error)
	Delete(ctx context.Context, id string) error
	MarkAttempt(ctx context.Context, id string, at time.Time) error
}

// NetState reports connectivity and its transitions
type NetState interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}
