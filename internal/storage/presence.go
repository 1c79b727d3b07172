package storage

import (
	"chatsync/internal/models"
	"context"
	"errors"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"time"
)

// UpsertPresence records the online flag and last seen time of user
func (s *Store) UpsertPresence(ctx context.Context, user string, online bool, at time.Time) error {
	s.logger.Debugf("Updating presence of user (id: %s) to online=%t", user, online)

	sql := `insert into online_users (user_id, online, last_seen)
			values ($1, $2, $3)
			on conflict (user_id) do update
			   set online = excluded.online,
				   last_seen = excluded.last_seen`
	_, err := s.db.Exec(ctx, sql, user, online, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrProfileNotExist
		}
		return err
	}
	return nil
}

// OnlineUsers returns presence rows joined with usernames
func (s *Store) OnlineUsers(ctx context.Context) ([]models.OnlineUser, error) {
	sql := `select online_users.user_id::text,
				   coalesce(profiles.username, ''),
				   online_users.online,
				   online_users.last_seen
			  from online_users
			  left join profiles
				on profiles.user_id = online_users.user_id`

	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.OnlineUser
	for rows.Next() {
		var u models.OnlineUser
		if err := rows.Scan(&u.UserID, &u.Username, &u.Online, &u.LastSeen); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return users, nil
}
