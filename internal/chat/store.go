package chat

import (
	"chatsync/internal/dedup"
	"chatsync/internal/models"
	"context"
	"fmt"
	"sort"
	"time"
)

// SwitchChannel makes channelID active: the cached list is shown at once, the live subscription is replaced
// and the latest history is fetched. A fetch that completes after another switch is discarded
func (c *Client) SwitchChannel(ctx context.Context, channelID string) error {
	if channelID == "" {
		return ErrNoChannel
	}
	if c.isClosed() {
		return ErrClosed
	}

	c.logger.Debugf("Switching to channel %s", channelID)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.active = channelID
	c.ledger.Reset()
	c.arrivals = make(map[string]uint64)
	c.messages = nil
	if e, ok := c.cache.Get(channelID); ok {
		c.messages = e.Messages
		for _, m := range e.Messages {
			c.ledger.Add(m.ID)
		}
	}
	c.mu.Unlock()

	c.notify(Update{Kind: UpdateMessages, ChannelID: channelID, ScrollToLatest: true})

	if err := c.cache.SetCurrentChannel(channelID); err != nil {
		c.logger.Warnf("Persisting current channel: %v", err)
	}

	if c.cfg.scope == ScopeChannel {
		if err := c.resubscribe(ctx, channelID, gen); err != nil {
			c.logger.Errorf("Subscribing to channel %s: %v", channelID, err)
		}
	}

	return c.fetchLatest(ctx, channelID, gen)
}

// Reload re-fetches history of the active channel
func (c *Client) Reload(ctx context.Context) error {
	c.mu.Lock()
	channelID, gen := c.active, c.gen
	c.mu.Unlock()

	if channelID == "" {
		return ErrNoChannel
	}
	return c.fetchLatest(ctx, channelID, gen)
}

func (c *Client) fetchLatest(ctx context.Context, channelID string, gen uint64) error {
	c.mu.Lock()
	started := c.seq
	c.mu.Unlock()

	fetched, err := c.backend.LatestMessages(ctx, channelID, c.cfg.historyLimit)
	if err != nil {
		// cached projection stays visible
		c.logger.Errorf("Loading messages for channel %s: %v", channelID, err)
		return fmt.Errorf("loading messages for channel %s: %w", channelID, err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debugf("Discarding stale history of channel %s", channelID)
		return nil
	}
	for i := range fetched {
		fetched[i].Status = models.StatusSent
	}
	c.messages = mergeLocal(fetched, c.messages, func(m models.Message) bool {
		return c.arrivals[m.ID] > started
	})
	// entries dropped by the merge may be delivered again
	c.ledger.Reset()
	for _, m := range c.messages {
		c.ledger.Add(m.ID)
	}
	if err := c.cache.Put(channelID, c.messages); err != nil {
		c.logger.Warnf("Persisting cache entry for channel %s: %v", channelID, err)
	}
	n := len(c.messages)
	c.mu.Unlock()

	c.logger.Debugf("Loaded %d messages for channel %s", n, channelID)
	c.notify(Update{Kind: UpdateMessages, ChannelID: channelID, ScrollToLatest: true})

	return nil
}

// LoadOlder fetches up to pageSize messages preceding the oldest projected one and prepends them.
// It returns the number of messages added
func (c *Client) LoadOlder(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = c.cfg.historyLimit
	}

	c.mu.Lock()
	channelID, gen := c.active, c.gen
	var oldest models.Message
	found := false
	for _, m := range c.messages {
		if m.Status == models.StatusSent {
			oldest, found = m, true
			break
		}
	}
	c.mu.Unlock()

	if channelID == "" {
		return 0, ErrNoChannel
	}
	if !found {
		return 0, nil
	}

	older, err := c.backend.MessagesBefore(ctx, channelID, oldest.CreatedAt, pageSize)
	if err != nil {
		c.logger.Errorf("Loading older messages for channel %s: %v", channelID, err)
		return 0, fmt.Errorf("loading older messages for channel %s: %w", channelID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return 0, nil
	}

	present := make(map[string]struct{}, len(c.messages))
	for _, m := range c.messages {
		present[m.ID] = struct{}{}
	}
	var prefix []models.Message
	for _, m := range older {
		if _, ok := present[m.ID]; ok {
			continue
		}
		m.Status = models.StatusSent
		prefix = append(prefix, m)
		c.ledger.Add(m.ID)
	}
	if len(prefix) == 0 {
		return 0, nil
	}

	c.messages = append(prefix, c.messages...)
	if err := c.cache.Put(channelID, c.messages); err != nil {
		c.logger.Warnf("Persisting cache entry for channel %s: %v", channelID, err)
	}

	c.logger.Debugf("Prepended %d older messages to channel %s", len(prefix), channelID)
	c.notify(Update{Kind: UpdateMessages, ChannelID: channelID})

	return len(prefix), nil
}

// mergeLocal returns fetched together with the local entries no fetched row represents and that are either
// unconfirmed, newer than the newest fetched row or reported by arrived (confirmed after the fetch started)
func mergeLocal(fetched, local []models.Message, arrived func(models.Message) bool) []models.Message {
	var newest time.Time
	for _, f := range fetched {
		if f.CreatedAt.After(newest) {
			newest = f.CreatedAt
		}
	}

	out := fetched
	for _, l := range local {
		keep := l.Status.Unsent() ||
			(len(fetched) > 0 && l.CreatedAt.After(newest)) ||
			(arrived != nil && arrived(l))
		if !keep || representedIn(fetched, l) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func representedIn(list []models.Message, m models.Message) bool {
	for _, x := range list {
		if x.ID == m.ID || dedup.IsNearDuplicate(x, m) {
			return true
		}
	}
	return false
}

func indexOf(list []models.Message, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
