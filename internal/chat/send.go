package chat

import (
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"context"
	"strings"
)

// Send publishes content to the active channel optimistically and returns the resulting entry.
// It returns nil without side effects when content is blank, no channel is active or no user is authenticated.
// Remote failures are not returned: the entry ends as pending when offline and as failed otherwise
func (c *Client) Send(ctx context.Context, content string) *models.Message {
	channelID := c.ActiveChannel()
	if strings.TrimSpace(content) == "" || channelID == "" || !c.session.Authenticated() {
		return nil
	}

	msg := models.Message{
		ID:        models.NewTemporaryID(),
		Content:   content,
		AuthorID:  c.session.UserID,
		ChannelID: channelID,
		CreatedAt: c.cfg.now(),
		Status:    models.StatusSending,
		Username:  c.session.Username,
	}

	c.logger.Debugf("Sending message %s to channel %s", msg.ID, channelID)

	c.mu.Lock()
	if channelID == c.active {
		c.ledger.Add(msg.ID)
	}
	c.mutateLocked(channelID, func(in []models.Message) []models.Message {
		return append(in, msg)
	})
	c.mu.Unlock()
	c.notify(Update{Kind: UpdateMessages, ChannelID: channelID, ScrollToLatest: true})

	result := c.deliver(ctx, msg)
	return &result
}

// Retry re-sends a failed entry of the active channel
func (c *Client) Retry(ctx context.Context, id string) (*models.Message, error) {
	c.mu.Lock()
	i := indexOf(c.messages, id)
	if i < 0 || c.messages[i].Status != models.StatusFailed {
		c.mu.Unlock()
		return nil, ErrNotRetryable
	}
	c.messages[i].Status = models.StatusSending
	msg := c.messages[i]
	if err := c.cache.Put(c.active, c.messages); err != nil {
		c.logger.Warnf("Persisting cache entry for channel %s: %v", c.active, err)
	}
	c.mu.Unlock()
	c.notify(Update{Kind: UpdateMessages, ChannelID: msg.ChannelID})

	result := c.deliver(ctx, msg)
	return &result, nil
}

// deliver performs the bounded remote write of an optimistic entry and settles its status
func (c *Client) deliver(ctx context.Context, msg models.Message) models.Message {
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.sendTimeout)
	saved, err := c.backend.InsertMessage(sendCtx, models.NewMessage{
		Content:   msg.Content,
		ChannelID: msg.ChannelID,
		AuthorID:  msg.AuthorID,
	})
	cancel()

	if err == nil {
		saved.Status = models.StatusSent
		if saved.Username == "" {
			saved.Username = msg.Username
		}
		c.reconcile(msg.ID, saved)
		c.metrics.Send(metrics.SendSent)

		c.logger.Debugf("Message %s accepted as %s", msg.ID, saved.ID)

		return saved
	}

	c.mu.Lock()
	adopted, ok := c.adopted[msg.ID]
	delete(c.adopted, msg.ID)
	c.mu.Unlock()
	if ok {
		// the echo proved the write landed, only the acknowledgement was lost
		c.logger.Warnf("Message %s delivered as %s despite: %v", msg.ID, adopted.ID, err)
		c.metrics.Send(metrics.SendSent)
		return adopted
	}

	if !c.net.Online() {
		c.logger.Warnf("Queueing message %s while offline: %v", msg.ID, err)

		p := models.PendingMessage{
			ID:        msg.ID,
			Content:   msg.Content,
			ChannelID: msg.ChannelID,
			AuthorID:  msg.AuthorID,
			CreatedAt: msg.CreatedAt,
		}
		qerr := c.pending.Enqueue(ctx, p)
		if qerr == nil {
			msg.Status = models.StatusPending
			c.setStatus(msg.ChannelID, msg.ID, models.StatusPending)
			c.metrics.Send(metrics.SendPending)
			return msg
		}
		c.logger.Errorf("Queueing message %s: %v", msg.ID, qerr)
	} else {
		c.logger.Errorf("Sending message %s: %v", msg.ID, err)
	}

	msg.Status = models.StatusFailed
	c.setStatus(msg.ChannelID, msg.ID, models.StatusFailed)
	c.metrics.Send(metrics.SendFailed)

	return msg
}

// reconcile replaces the temporary entry tempID with the server row wherever it is held.
// When the live echo of the row arrived first the temporary entry is dropped instead
func (c *Client) reconcile(tempID string, saved models.Message) {
	c.mu.Lock()
	delete(c.adopted, tempID)
	if saved.ChannelID == c.active {
		c.ledger.Replace(tempID, saved.ID)
		c.arrivedLocked(saved.ID)
	}
	c.mutateLocked(saved.ChannelID, func(in []models.Message) []models.Message {
		return replaceTemporary(in, tempID, saved)
	})
	c.mu.Unlock()

	c.notify(Update{Kind: UpdateMessages, ChannelID: saved.ChannelID})
}

func (c *Client) setStatus(channelID, id string, s models.Status) {
	c.mutate(channelID, func(in []models.Message) []models.Message {
		if i := indexOf(in, id); i >= 0 {
			in[i].Status = s
		}
		return in
	})
	c.notify(Update{Kind: UpdateMessages, ChannelID: channelID})
}

func replaceTemporary(in []models.Message, tempID string, saved models.Message) []models.Message {
	ti := indexOf(in, tempID)
	si := indexOf(in, saved.ID)

	switch {
	case ti >= 0 && si >= 0:
		in[si].Status = models.StatusSent
		return append(in[:ti], in[ti+1:]...)
	case ti >= 0:
		in[ti] = saved
	case si >= 0:
		in[si].Status = models.StatusSent
	}
	return in
}
