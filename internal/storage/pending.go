package storage

import (
	"chatsync/internal/models"
	"context"
	"time"
)

// PendingMessages is the pending queue kept in the pending_messages relation
type PendingMessages struct {
	store *Store
}

// PendingQueue returns the remote pending queue backed by s
func (s *Store) PendingQueue() *PendingMessages {
	return &PendingMessages{store: s}
}

func (p *PendingMessages) Enqueue(ctx context.Context, m models.PendingMessage) error {
	p.store.logger.Debugf("Queueing pending message %s for channel (id: %s)", m.ID, m.ChannelID)

	sql := `insert into pending_messages (id, content, channel_id, user_id, created_at, retry_count, last_attempt)
			values ($1, $2, $3, $4, $5, $6, $7)
			on conflict (id) do update
			   set content = excluded.content,
				   retry_count = excluded.retry_count,
				   last_attempt = excluded.last_attempt`
	_, err := p.store.db.Exec(ctx, sql, m.ID, m.Content, m.ChannelID, m.AuthorID, m.CreatedAt, m.RetryCount, m.LastAttempt)
	return err
}

// List returns pending messages of user with retry_count at most maxRetries, oldest first
func (p *PendingMessages) List(ctx context.Context, user string, maxRetries int) ([]models.PendingMessage, error) {
	sql := `select id, content, channel_id::text, user_id::text, created_at, retry_count, last_attempt
			  from pending_messages
			 where user_id = $1
			   and retry_count <= $2
			 order by created_at asc`

	rows, err := p.store.db.Query(ctx, sql, user, maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PendingMessage
	for rows.Next() {
		var m models.PendingMessage
		err := rows.Scan(&m.ID, &m.Content, &m.ChannelID, &m.AuthorID, &m.CreatedAt, &m.RetryCount, &m.LastAttempt)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return out, nil
}

func (p *PendingMessages) Delete(ctx context.Context, id string) error {
	tag, err := p.store.db.Exec(ctx, "delete from pending_messages where id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPendingNotExist
	}
	return nil
}

func (p *PendingMessages) MarkAttempt(ctx context.Context, id string, at time.Time) error {
	sql := `update pending_messages
			   set retry_count = retry_count + 1,
				   last_attempt = $2
			 where id = $1`
	tag, err := p.store.db.Exec(ctx, sql, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPendingNotExist
	}
	return nil
}
