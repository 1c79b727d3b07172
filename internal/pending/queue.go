// Package pending implements the durable local queue of messages written while the client was offline
package pending

import (
	"chatsync/internal/kv"
	"chatsync/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"sort"
	"time"
)

const keyPrefix = "pending_"

var ErrNotExist = errors.New("pending message does not exist")

// Queue stores pending messages in a kv.Store under the "pending_" prefix
type Queue struct {
	logger *zap.SugaredLogger
	store  kv.Store
}

func NewQueue(logger *zap.SugaredLogger, store kv.Store) *Queue {
	return &Queue{
		logger: logger,
		store:  store,
	}
}

func key(id string) string {
	return keyPrefix + id
}

// Enqueue stores p, replacing a record with the same id
func (q *Queue) Enqueue(_ context.Context, p models.PendingMessage) error {
	q.logger.Debugf("Queueing pending message %s for channel %s", p.ID, p.ChannelID)

	return q.put(p)
}

// List returns pending messages of user whose retry count does not exceed maxRetries, oldest first
func (q *Queue) List(_ context.Context, user string, maxRetries int) ([]models.PendingMessage, error) {
	var out []models.PendingMessage
	err := q.store.Scan(keyPrefix, func(k string, v []byte) error {
		var p models.PendingMessage
		if err := json.Unmarshal(v, &p); err != nil {
			q.logger.Warnf("Skipping unreadable pending record %s: %v", k, err)
			return nil
		}
		if p.AuthorID == user && p.RetryCount <= maxRetries {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// Delete removes the record with id
func (q *Queue) Delete(_ context.Context, id string) error {
	if _, err := q.get(id); err != nil {
		return err
	}
	return q.store.Delete(key(id))
}

// MarkAttempt increments the retry count of record id and stamps the attempt time
func (q *Queue) MarkAttempt(_ context.Context, id string, at time.Time) error {
	p, err := q.get(id)
	if err != nil {
		return err
	}
	p.RetryCount++
	p.LastAttempt = &at

	return q.put(p)
}

func (q *Queue) get(id string) (models.PendingMessage, error) {
	var p models.PendingMessage
	raw, err := q.store.Get(key(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return p, ErrNotExist
		}
		return p, err
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decoding pending record %s: %w", id, err)
	}
	return p, nil
}

func (q *Queue) put(p models.PendingMessage) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return q.store.Set(key(p.ID), data)
}
