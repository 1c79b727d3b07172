package storage

import (
	"chatsync/internal/models"
	"context"
	"errors"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"time"
)

const channelColumns = `id::text, name, description, created_at, members::text[], type, participants::text[]`

// Channels returns every channel ordered by creation time (from earliest to latest)
func (s *Store) Channels(ctx context.Context) ([]models.Channel, error) {
	s.logger.Debug("Retrieving channels")

	sql := `select ` + channelColumns + ` from channels order by created_at asc`
	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}

	channels, err := scanChannels(rows)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d channels", len(channels))

	return channels, nil
}

// DirectChannels returns direct message channels user takes part in
func (s *Store) DirectChannels(ctx context.Context, user string) ([]models.Channel, error) {
	s.logger.Debugf("Retrieving direct channels for user (id: %s)", user)

	sql := `select ` + channelColumns + `
			  from channels
			 where type = 'dm'
			   and participants @> array[$1::uuid]
			 order by created_at asc`
	rows, err := s.db.Query(ctx, sql, user)
	if err != nil {
		return nil, err
	}

	return scanChannels(rows)
}

// GetOrCreateDirectChannel calls get_or_create_dm_channel and returns the channel id
func (s *Store) GetOrCreateDirectChannel(ctx context.Context, user1, user2 string) (string, error) {
	s.logger.Debugf("Resolving direct channel between %s and %s", user1, user2)

	var id string
	err := s.db.QueryRow(ctx, "select get_or_create_dm_channel($1, $2)::text", user1, user2).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return "", ErrDirectBadUsers
		}
		return "", err
	}

	return id, nil
}

// CreateChannel creates channel and returns it with the assigned id and creation time
func (s *Store) CreateChannel(ctx context.Context, c models.Channel) (models.Channel, error) {
	s.logger.Debugf("Creating channel (%s)", c.Name)

	if err := c.Validate(); err != nil {
		return c, err
	}
	if c.Kind == "" {
		c.Kind = models.KindPublic
	}

	sql := `insert into channels (name, description, type, members, participants)
			values ($1, $2, $3, $4::uuid[], $5::uuid[])
			returning id::text, created_at`
	err := s.db.QueryRow(ctx, sql, c.Name, c.Description, string(c.Kind), nonNil(c.Members), nonNil(c.Participants)).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return c, ErrChannelBadKind
		}
		return c, err
	}

	s.logger.Debugf("Created channel (%s) with id %s", c.Name, c.ID)

	return c, nil
}

func scanChannels(rows pgx.Rows) ([]models.Channel, error) {
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var (
			c            models.Channel
			kind         string
			members      pgtype.TextArray
			participants pgtype.TextArray
			createdAt    time.Time
		)
		err := rows.Scan(&c.ID, &c.Name, &c.Description, &createdAt, &members, &kind, &participants)
		if err != nil {
			return nil, err
		}
		c.CreatedAt = createdAt
		c.Kind = models.ChannelKind(kind)
		if err := members.AssignTo(&c.Members); err != nil {
			return nil, err
		}
		if err := participants.AssignTo(&c.Participants); err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return channels, nil
}

// nonNil keeps empty arrays from being encoded as null
func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
