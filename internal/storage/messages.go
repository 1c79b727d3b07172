package storage

import (
	"chatsync/internal/models"
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v4"
	"time"
)

const insertMessageSQL = `with inserted as (
				insert into messages (content, channel_id, user_id)
				values ($1, $2, $3)
				returning id, content, created_at, channel_id, user_id
			)
			select inserted.id::text,
				   inserted.content,
				   inserted.created_at,
				   inserted.channel_id::text,
				   inserted.user_id::text,
				   coalesce(profiles.username, '')
			  from inserted
			  left join profiles
				on profiles.user_id = inserted.user_id`

// LatestMessages returns the newest limit messages of channel with author names, sorted by creation time
// (from earliest to latest)
func (s *Store) LatestMessages(ctx context.Context, channel string, limit int) ([]models.Message, error) {
	s.logger.Debugf("Retrieving latest %d messages for channel (id: %s)", limit, channel)

	sql := `select recent.id::text,
				    recent.content,
				    recent.created_at,
				    recent.channel_id::text,
				    recent.user_id::text,
				    coalesce(profiles.username, '')
			  from (select *
					  from messages
					 where channel_id = $1
					 order by created_at desc
					 limit $2) as recent
			  left join profiles
				on profiles.user_id = recent.user_id
			 order by recent.created_at asc`

	rows, err := s.db.Query(ctx, sql, channel, limit)
	if err != nil {
		return nil, err
	}

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

// MessagesBefore returns up to limit messages of channel created strictly before t, sorted from earliest to latest
func (s *Store) MessagesBefore(ctx context.Context, channel string, before time.Time, limit int) ([]models.Message, error) {
	s.logger.Debugf("Retrieving %d messages before %s for channel (id: %s)", limit, before.Format(time.RFC3339Nano), channel)

	sql := `select older.id::text,
				   older.content,
				   older.created_at,
				   older.channel_id::text,
				   older.user_id::text,
				   coalesce(profiles.username, '')
			  from (select *
					  from messages
					 where channel_id = $1
					   and created_at < $2
					 order by created_at desc
					 limit $3) as older
			  left join profiles
				on profiles.user_id = older.user_id
			 order by older.created_at asc`

	rows, err := s.db.Query(ctx, sql, channel, before, limit)
	if err != nil {
		return nil, err
	}

	return scanMessages(rows)
}

// InsertMessage creates new message and returns the stored row; id and created_at are assigned by the database
func (s *Store) InsertMessage(ctx context.Context, m models.NewMessage) (models.Message, error) {
	s.logger.Debugf("Creating message from user (id: %s) in channel (id: %s)", m.AuthorID, m.ChannelID)

	var saved models.Message
	err := s.db.QueryRow(ctx, insertMessageSQL, m.Content, m.ChannelID, m.AuthorID).
		Scan(&saved.ID, &saved.Content, &saved.CreatedAt, &saved.ChannelID, &saved.AuthorID, &saved.Username)
	if err != nil {
		return saved, messageWriteError(err)
	}

	saved.Status = models.StatusSent

	return saved, nil
}

// InsertMessages sends one insert per row in a single batch. Result i belongs to row i.
// The batch runs in one implicit transaction, so a failing row fails every row
func (s *Store) InsertMessages(ctx context.Context, rows []models.NewMessage) ([]models.InsertResult, error) {
	s.logger.Debugf("Creating %d messages in batch", len(rows))

	results := make([]models.InsertResult, len(rows))
	if len(rows) == 0 {
		return results, nil
	}

	b := &pgx.Batch{}
	for _, m := range rows {
		b.Queue(insertMessageSQL, m.Content, m.ChannelID, m.AuthorID)
	}

	br := s.db.SendBatch(ctx, b)

	var failed error
	for i := range rows {
		saved := &results[i].Message
		err := br.QueryRow().Scan(&saved.ID, &saved.Content, &saved.CreatedAt, &saved.ChannelID, &saved.AuthorID, &saved.Username)
		if err != nil {
			results[i].Err = messageWriteError(err)
			if failed == nil {
				failed = fmt.Errorf("row %d: %w", i, results[i].Err)
			}
			continue
		}
		saved.Status = models.StatusSent
	}

	if err := br.Close(); err != nil && failed == nil {
		failed = err
	}

	if failed != nil {
		// rows reported before the failure were rolled back with it
		for i := range results {
			if results[i].Err == nil {
				results[i] = models.InsertResult{Err: fmt.Errorf("batch rolled back: %w", failed)}
			}
		}
	}

	return results, nil
}

// CountMessagesAfter counts messages of channel newer than after that were not written by exclude
func (s *Store) CountMessagesAfter(ctx context.Context, channel string, after time.Time, exclude string) (int, error) {
	var n int
	sql := `select count(*)
			  from messages
			 where channel_id = $1
			   and created_at > $2
			   and user_id <> $3`
	err := s.db.QueryRow(ctx, sql, channel, after, exclude).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ImportMessages bulk loads messages keeping their timestamps and returns the number of copied rows
func (s *Store) ImportMessages(ctx context.Context, messages []models.Message) (int64, error) {
	s.logger.Debugf("Importing %d messages", len(messages))

	n, err := s.db.CopyFrom(ctx, pgx.Identifier{"messages"}, messageCopyColumns, copyFromMessages(messages))
	if err != nil {
		return 0, messageWriteError(err)
	}

	return n, nil
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		err := rows.Scan(&m.ID, &m.Content, &m.CreatedAt, &m.ChannelID, &m.AuthorID, &m.Username)
		if err != nil {
			return nil, err
		}
		m.Status = models.StatusSent
		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return messages, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
