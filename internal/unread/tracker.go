// Package unread counts messages from other users that arrived after the user last read each channel
package unread

import (
	"chatsync/internal/models"
	"chatsync/internal/realtime"
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"sync"
	"time"
)

var ErrNoUser = errors.New("unread tracking needs an authenticated user")

// Backend is the remote store of read marks
type Backend interface {
	ChannelReads(ctx context.Context, user string) ([]models.ChannelRead, error)
	CountMessagesAfter(ctx context.Context, channel string, after time.Time, exclude string) (int, error)
	UpsertChannelRead(ctx context.Context, r models.ChannelRead) error
}

// Tracker defines fields used for unread counting of one user
type Tracker struct {
	logger  *zap.SugaredLogger
	user    string
	backend Backend
	feed    realtime.Feed
	active  func() string
	now     func() time.Time

	mu       sync.Mutex
	lastRead map[string]time.Time
	counts   map[string]int
	sub      *realtime.Subscription
	wg       sync.WaitGroup
}

// NewTracker returns Tracker for user; active reports the channel currently on screen
func NewTracker(logger *zap.SugaredLogger, user string, backend Backend, feed realtime.Feed, active func() string) *Tracker {
	return &Tracker{
		logger:   logger,
		user:     user,
		backend:  backend,
		feed:     feed,
		active:   active,
		now:      time.Now,
		lastRead: make(map[string]time.Time),
		counts:   make(map[string]int),
	}
}

// Load reads the user's read marks and counts newer messages from others in each marked channel
func (t *Tracker) Load(ctx context.Context) error {
	if t.user == "" {
		return ErrNoUser
	}

	reads, err := t.backend.ChannelReads(ctx, t.user)
	if err != nil {
		return fmt.Errorf("loading read marks: %w", err)
	}

	lastRead := make(map[string]time.Time, len(reads))
	counts := make(map[string]int, len(reads))
	for _, r := range reads {
		lastRead[r.ChannelID] = r.LastRead
		n, err := t.backend.CountMessagesAfter(ctx, r.ChannelID, r.LastRead, t.user)
		if err != nil {
			return fmt.Errorf("counting unread messages of channel %s: %w", r.ChannelID, err)
		}
		counts[r.ChannelID] = n
	}

	t.mu.Lock()
	t.lastRead = lastRead
	t.counts = counts
	t.mu.Unlock()

	t.logger.Debugf("Loaded unread counts for %d channels", len(counts))

	return nil
}

// Start subscribes to every message insert; it replaces a previous subscription
func (t *Tracker) Start(ctx context.Context) error {
	if t.user == "" {
		return ErrNoUser
	}
	t.Stop()

	sub, err := t.feed.Subscribe(ctx, realtime.Filter{Table: realtime.TableMessages, Op: realtime.OpInsert})
	if err != nil {
		return fmt.Errorf("subscribing to inserts: %w", err)
	}

	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()

	t.wg.Add(1)
	go t.consume(sub)

	return nil
}

// Stop closes the subscription
func (t *Tracker) Stop() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()

	if sub != nil {
		sub.Close()
		t.wg.Wait()
	}
}

func (t *Tracker) consume(sub *realtime.Subscription) {
	defer t.wg.Done()

	for {
		select {
		case e := <-sub.Events():
			if ins, ok := e.(realtime.MessageInserted); ok {
				t.Observe(ins.Message)
			}
		case <-sub.Done():
			return
		}
	}
}

// Observe counts m unless it is the user's own message. In a channel that has a read mark the message only counts
// when the channel is not on screen; a channel never read counts every message
func (t *Tracker) Observe(m models.Message) {
	if m.AuthorID == t.user {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.lastRead[m.ChannelID]; ok && t.active() == m.ChannelID {
		return
	}
	t.counts[m.ChannelID]++
}

// MarkRead stores now as the read mark of channel and resets its count
func (t *Tracker) MarkRead(ctx context.Context, channel string) error {
	if t.user == "" {
		return ErrNoUser
	}
	if channel == "" {
		return nil
	}

	now := t.now()
	err := t.backend.UpsertChannelRead(ctx, models.ChannelRead{UserID: t.user, ChannelID: channel, LastRead: now})
	if err != nil {
		return fmt.Errorf("marking channel %s read: %w", channel, err)
	}

	t.mu.Lock()
	t.lastRead[channel] = now
	t.counts[channel] = 0
	t.mu.Unlock()

	return nil
}

// Count returns the unread count of channel
func (t *Tracker) Count(channel string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.counts[channel]
}

// Counts returns a copy of every non-zero count
func (t *Tracker) Counts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}
