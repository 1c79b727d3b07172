package storage

import (
	"chatsync/internal/storage/zapadapter"
	"context"
	"errors"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrProfileExists     = errors.New("profile already exists")
	ErrProfileNotExist   = errors.New("profile does not exist")
	ErrChannelNotExist   = errors.New("channel does not exist")
	ErrChannelBadKind    = errors.New("bad channel type")
	ErrDirectBadUsers    = errors.New("direct channel needs two distinct existing users")
	ErrMessageBadChannel = errors.New("bad channel id")
	ErrMessageBadAuthor  = errors.New("bad author id")
	ErrPendingNotExist   = errors.New("pending message does not exist")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar(), pgx.LogLevelWarn)

	for _, o := range opts {
		o.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	logger.Infof("Connected to Postgres at %s:%d/%s", cfg.Host, cfg.Port, cfg.DBName)

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes all connections in the pool
func (s *Store) Close() {
	s.db.Close()
}

// messageWriteError maps constraint violations of an insert into messages
func messageWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ForeignKeyViolation:
			switch pgErr.ConstraintName {
			case "messages_channel_id_fkey":
				return ErrMessageBadChannel
			case "messages_user_id_fkey":
				return ErrMessageBadAuthor
			}
		}
	}
	return err
}
