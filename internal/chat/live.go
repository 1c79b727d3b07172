package chat

import (
	"chatsync/internal/dedup"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/realtime"
	"context"
)

// HandleEvent applies one realtime event. Inserts already represented locally are dropped; an insert matching a
// local unsent entry replaces that entry's identity with the server one
func (c *Client) HandleEvent(ctx context.Context, e realtime.Event) {
	ins, ok := e.(realtime.MessageInserted)
	if !ok {
		return
	}
	m := ins.Message
	m.Status = models.StatusSent
	if m.Username == "" {
		m.Username = c.username(ctx, m.AuthorID)
	}

	c.mu.Lock()
	if m.ChannelID != c.active {
		c.mu.Unlock()
		c.route(m)
		return
	}

	if c.ledger.Has(m.ID) || indexOf(c.messages, m.ID) >= 0 {
		c.mu.Unlock()
		c.metrics.LiveEvent(metrics.EventDuplicate)
		return
	}

	for i := range c.messages {
		local := c.messages[i]
		if !dedup.IsNearDuplicate(local, m) {
			continue
		}
		if !local.Status.Unsent() {
			c.mu.Unlock()
			c.metrics.LiveEvent(metrics.EventDuplicate)
			return
		}

		c.ledger.Replace(local.ID, m.ID)
		c.messages[i].ID = m.ID
		c.messages[i].CreatedAt = m.CreatedAt
		c.messages[i].Status = models.StatusSent
		c.arrivedLocked(m.ID)
		if local.Status == models.StatusSending {
			c.adopted[local.ID] = c.messages[i]
		}
		if err := c.cache.Put(c.active, c.messages); err != nil {
			c.logger.Warnf("Persisting cache entry for channel %s: %v", c.active, err)
		}
		c.mu.Unlock()

		c.logger.Debugf("Live echo %s adopted by local message %s", m.ID, local.ID)
		c.metrics.LiveEvent(metrics.EventAdopted)
		if local.Status == models.StatusPending {
			// the write landed before connectivity dropped
			if err := c.pending.Delete(ctx, local.ID); err != nil {
				c.logger.Warnf("Removing adopted pending message %s: %v", local.ID, err)
			}
		}
		c.notify(Update{Kind: UpdateMessages, ChannelID: m.ChannelID})
		return
	}

	c.ledger.Add(m.ID)
	c.arrivedLocked(m.ID)
	c.messages = append(c.messages, m)
	if err := c.cache.Put(c.active, c.messages); err != nil {
		c.logger.Warnf("Persisting cache entry for channel %s: %v", c.active, err)
	}
	c.mu.Unlock()

	c.metrics.LiveEvent(metrics.EventAdmitted)
	c.notify(Update{Kind: UpdateMessages, ChannelID: m.ChannelID, ScrollToLatest: true})
}

// route stores an insert for an inactive channel into its cache entry
func (c *Client) route(m models.Message) {
	if c.cfg.scope != ScopeGlobal {
		c.metrics.LiveEvent(metrics.EventStale)
		return
	}

	added := false
	err := c.cache.Mutate(m.ChannelID, func(in []models.Message) []models.Message {
		if representedIn(in, m) {
			return in
		}
		added = true
		return append(in, m)
	})
	if err != nil {
		c.logger.Warnf("Routing live message %s into cache: %v", m.ID, err)
		return
	}

	if added {
		c.metrics.LiveEvent(metrics.EventRouted)
		c.notify(Update{Kind: UpdateMessages, ChannelID: m.ChannelID})
	} else {
		c.metrics.LiveEvent(metrics.EventDuplicate)
	}
}

// Admit reports whether the realtime payload is valid and applies it
func (c *Client) Admit(ctx context.Context, payload []byte) error {
	e, err := realtime.Parse(payload)
	if err != nil {
		c.metrics.LiveEvent(metrics.EventMalformed)
		c.logger.Warnf("Rejecting realtime payload: %v", err)
		return err
	}
	c.HandleEvent(ctx, e)
	return nil
}
