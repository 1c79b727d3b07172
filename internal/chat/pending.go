package chat

import (
	"chatsync/internal/models"
	"context"
	"fmt"
)

// SyncResult summarizes one pass over the pending queue
type SyncResult struct {
	Delivered int
	Failed    int
	// Exhausted counts records that went past the retry ceiling during this pass
	Exhausted int
}

// SyncPending sends every eligible pending record of the current user one by one, then reloads the active channel.
// Only one pass runs at a time
func (c *Client) SyncPending(ctx context.Context) (SyncResult, error) {
	return c.syncPending(ctx, false)
}

// SyncPendingBatch is SyncPending writing all eligible records in one backend round trip
func (c *Client) SyncPendingBatch(ctx context.Context) (SyncResult, error) {
	return c.syncPending(ctx, true)
}

func (c *Client) syncPending(ctx context.Context, batch bool) (SyncResult, error) {
	var res SyncResult
	if !c.session.Authenticated() {
		return res, ErrUnauthenticated
	}

	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	records, err := c.pending.List(ctx, c.session.UserID, c.cfg.retryCeiling)
	if err != nil {
		return res, fmt.Errorf("listing pending messages: %w", err)
	}
	if len(records) == 0 {
		return res, nil
	}

	c.logger.Infof("Synchronizing %d pending messages", len(records))

	if batch {
		c.deliverBatch(ctx, records, &res)
	} else {
		for _, p := range records {
			sendCtx, cancel := context.WithTimeout(ctx, c.cfg.sendTimeout)
			saved, err := c.backend.InsertMessage(sendCtx, newMessageOf(p))
			cancel()
			c.settle(ctx, p, saved, err, &res)
		}
	}

	c.logger.Infof("Pending synchronization done: %d delivered, %d failed, %d exhausted",
		res.Delivered, res.Failed, res.Exhausted)

	if c.ActiveChannel() != "" {
		if err := c.Reload(ctx); err != nil {
			return res, err
		}
	}

	return res, nil
}

func (c *Client) deliverBatch(ctx context.Context, records []models.PendingMessage, res *SyncResult) {
	rows := make([]models.NewMessage, len(records))
	for i, p := range records {
		rows[i] = newMessageOf(p)
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.sendTimeout)
	results, err := c.backend.InsertMessages(sendCtx, rows)
	cancel()

	for i, p := range records {
		switch {
		case err != nil:
			c.settle(ctx, p, models.Message{}, err, res)
		case i >= len(results):
			c.settle(ctx, p, models.Message{}, fmt.Errorf("no batch result for pending message %s", p.ID), res)
		default:
			c.settle(ctx, p, results[i].Message, results[i].Err, res)
		}
	}
}

// settle applies the outcome of one pending write to the queue, the projection and the cache
func (c *Client) settle(ctx context.Context, p models.PendingMessage, saved models.Message, err error, res *SyncResult) {
	c.metrics.SyncAttempt(err == nil)

	if err == nil {
		if derr := c.pending.Delete(ctx, p.ID); derr != nil {
			c.logger.Errorf("Removing delivered pending message %s: %v", p.ID, derr)
		}
		saved.Status = models.StatusSent
		c.reconcile(p.ID, saved)
		res.Delivered++
		return
	}

	c.logger.Warnf("Pending message %s attempt %d failed: %v", p.ID, p.RetryCount+1, err)
	res.Failed++

	if merr := c.pending.MarkAttempt(ctx, p.ID, c.cfg.now()); merr != nil {
		c.logger.Errorf("Recording attempt of pending message %s: %v", p.ID, merr)
	}
	if p.RetryCount+1 > c.cfg.retryCeiling {
		// record stays queued but is no longer attempted
		res.Exhausted++
		c.setStatus(p.ChannelID, p.ID, models.StatusFailed)
	}
}

func newMessageOf(p models.PendingMessage) models.NewMessage {
	return models.NewMessage{
		Content:   p.Content,
		ChannelID: p.ChannelID,
		AuthorID:  p.AuthorID,
	}
}
