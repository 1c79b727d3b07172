package storage

import (
	"chatsync/internal/models"
	"context"
	"errors"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"time"
)

// CreateProfile creates profile of user with username
func (s *Store) CreateProfile(ctx context.Context, user, username string) (models.Profile, error) {
	s.logger.Debugf("Creating profile (%s)", username)

	p := models.Profile{UserID: user, Username: username}
	sql := "insert into profiles (user_id, username) values ($1, $2) returning created_at"
	err := s.db.QueryRow(ctx, sql, user, username).Scan(&p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return p, ErrProfileExists
		}
		return p, err
	}

	return p, nil
}

// Profile returns profile of user
func (s *Store) Profile(ctx context.Context, user string) (models.Profile, error) {
	p := models.Profile{UserID: user}
	sql := "select username, created_at from profiles where user_id = $1"
	err := s.db.QueryRow(ctx, sql, user).Scan(&p.Username, &p.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return p, ErrProfileNotExist
		}
		return p, err
	}
	return p, nil
}

// Profiles returns every profile ordered by username
func (s *Store) Profiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.db.Query(ctx, "select user_id::text, username, created_at from profiles order by username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		var (
			p         models.Profile
			createdAt time.Time
		)
		if err := rows.Scan(&p.UserID, &p.Username, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = createdAt
		profiles = append(profiles, p)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return profiles, nil
}
