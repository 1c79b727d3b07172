package storage

import (
	"chatsync/internal/models"
	"context"
)

// ChannelReads returns the last read timestamps of user
func (s *Store) ChannelReads(ctx context.Context, user string) ([]models.ChannelRead, error) {
	sql := "select channel_id::text, last_read from channel_reads where user_id = $1"
	rows, err := s.db.Query(ctx, sql, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reads []models.ChannelRead
	for rows.Next() {
		r := models.ChannelRead{UserID: user}
		if err := rows.Scan(&r.ChannelID, &r.LastRead); err != nil {
			return nil, err
		}
		reads = append(reads, r)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return reads, nil
}

// UpsertChannelRead stores the last read timestamp of a (user, channel) pair
func (s *Store) UpsertChannelRead(ctx context.Context, r models.ChannelRead) error {
	s.logger.Debugf("Marking channel (id: %s) read for user (id: %s)", r.ChannelID, r.UserID)

	sql := `insert into channel_reads (user_id, channel_id, last_read)
			values ($1, $2, $3)
			on conflict (user_id, channel_id) do update
			   set last_read = excluded.last_read`
	_, err := s.db.Exec(ctx, sql, r.UserID, r.ChannelID, r.LastRead)
	return err
}
