package memstore

import (
	"chatsync/internal/models"
	"chatsync/internal/storage"
	"context"
	"sort"
	"time"
)

// PendingMessages is the remote pending queue of the in-memory backend
type PendingMessages struct {
	store *Store
}

func (s *Store) PendingQueue() *PendingMessages {
	return &PendingMessages{store: s}
}

func (p *PendingMessages) Enqueue(_ context.Context, m models.PendingMessage) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	p.store.pending[m.ID] = m
	return nil
}

func (p *PendingMessages) List(_ context.Context, user string, maxRetries int) ([]models.PendingMessage, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	var out []models.PendingMessage
	for _, m := range p.store.pending {
		if m.AuthorID == user && m.RetryCount <= maxRetries {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (p *PendingMessages) Delete(_ context.Context, id string) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	if _, ok := p.store.pending[id]; !ok {
		return storage.ErrPendingNotExist
	}
	delete(p.store.pending, id)
	return nil
}

func (p *PendingMessages) MarkAttempt(_ context.Context, id string, at time.Time) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	m, ok := p.store.pending[id]
	if !ok {
		return storage.ErrPendingNotExist
	}
	m.RetryCount++
	m.LastAttempt = &at
	p.store.pending[id] = m
	return nil
}
