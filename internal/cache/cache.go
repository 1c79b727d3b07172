// Package cache keeps the last known message list of every visited channel, in memory and in a durable kv store
package cache

import (
	"bytes"
	"chatsync/internal/kv"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"sync"
	"time"
)

const (
	messagesPrefix    = "messages_"
	currentChannelKey = "currentChannel"
)

// Entry is the cached message list of one channel
type Entry struct {
	Messages   []models.Message `json:"messages"`
	CapturedAt time.Time        `json:"captured_at"`
}

// Cache defines fields used for local message caching
type Cache struct {
	logger  *zap.SugaredLogger
	store   kv.Store
	metrics *metrics.Metrics
	now     func() time.Time

	mu  sync.Mutex
	mem map[string]Entry
}

// New returns Cache persisting entries into store; m may be nil
func New(logger *zap.SugaredLogger, store kv.Store, m *metrics.Metrics) *Cache {
	return &Cache{
		logger:  logger,
		store:   store,
		metrics: m,
		now:     time.Now,
		mem:     make(map[string]Entry),
	}
}

// MessagesKey returns durable key of a channel entry
func MessagesKey(channelID string) string {
	return messagesPrefix + channelID
}

// Get returns entry of channelID checking memory first and then the durable store
func (c *Cache) Get(channelID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.load(channelID)
	c.metrics.CacheLookup(ok)
	if !ok {
		return Entry{}, false
	}
	return Entry{Messages: copyMessages(e.Messages), CapturedAt: e.CapturedAt}, true
}

// Put replaces entry of channelID in both layers
func (c *Cache) Put(channelID string, messages []models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.put(channelID, messages)
}

// Mutate applies fn to the current message list of channelID (empty when absent) and stores the result
func (c *Cache) Mutate(channelID string, fn func([]models.Message) []models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, _ := c.load(channelID)
	return c.put(channelID, fn(copyMessages(e.Messages)))
}

// Delete drops entry of channelID
func (c *Cache) Delete(channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.mem, channelID)
	return c.store.Delete(MessagesKey(channelID))
}

// Clear empties memory and removes every durable message entry
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mem = make(map[string]Entry)
	n, err := c.store.DeletePrefix(messagesPrefix)
	if err != nil {
		return fmt.Errorf("clearing durable entries: %w", err)
	}

	c.logger.Infof("Cleared %d cached channels", n)

	return nil
}

// Channels returns ids of every channel with a durable entry
func (c *Cache) Channels() ([]string, error) {
	var ids []string
	err := c.store.Scan(messagesPrefix, func(key string, _ []byte) error {
		ids = append(ids, key[len(messagesPrefix):])
		return nil
	})
	return ids, err
}

// CurrentChannel returns the last active channel id
func (c *Cache) CurrentChannel() (string, bool) {
	v, err := c.store.Get(currentChannelKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.logger.Warnf("Reading current channel: %v", err)
		}
		return "", false
	}
	return string(v), len(v) > 0
}

// SetCurrentChannel persists the active channel id
func (c *Cache) SetCurrentChannel(channelID string) error {
	return c.store.Set(currentChannelKey, []byte(channelID))
}

func (c *Cache) load(channelID string) (Entry, bool) {
	if e, ok := c.mem[channelID]; ok {
		return e, true
	}

	raw, err := c.store.Get(MessagesKey(channelID))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.logger.Warnf("Reading cache entry for channel %s: %v", channelID, err)
		}
		return Entry{}, false
	}

	e, err := decodeEntry(raw)
	if err != nil {
		c.logger.Warnf("Dropping unreadable cache entry for channel %s: %v", channelID, err)
		return Entry{}, false
	}

	c.mem[channelID] = e
	return e, true
}

func (c *Cache) put(channelID string, messages []models.Message) error {
	e := Entry{Messages: copyMessages(messages), CapturedAt: c.now()}
	c.mem[channelID] = e

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := c.store.Set(MessagesKey(channelID), data); err != nil {
		return fmt.Errorf("writing cache entry for channel %s: %w", channelID, err)
	}
	return nil
}

// decodeEntry accepts both the entry object and a bare message array
func decodeEntry(raw []byte) (Entry, error) {
	var e Entry
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err := json.Unmarshal(trimmed, &e.Messages)
		return e, err
	}
	err := json.Unmarshal(trimmed, &e)
	return e, err
}

func copyMessages(in []models.Message) []models.Message {
	if in == nil {
		return nil
	}
	out := make([]models.Message, len(in))
	copy(out, in)
	return out
}
