package storage

import (
	"fmt"
	"github.com/jackc/pgx/v4/pgxpool"
	"time"
)

// Config defines the Postgres connection parameters
type Config struct {
	User     string `env:"PG_USER"`
	Password string `env:"PG_PASSWORD"`
	Host     string `env:"PG_HOST"`
	Port     uint16 `env:"PG_PORT"`
	DBName   string `env:"PG_DBNAME"`
}

// DSN returns keyword/value connection string accepted by pgxpool.ParseConfig
func (c Config) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Option alters the default configuration of the pgxpool.Config used during new Store construction
type Option interface {
	apply(*pgxpool.Config)
}

type optionFunc func(c *pgxpool.Config)

func (f optionFunc) apply(c *pgxpool.Config) { f(c) }

// ConnectionTimeout sets timeout for connection to be established
func ConnectionTimeout(d time.Duration) Option {
	return optionFunc(func(c *pgxpool.Config) {
		c.ConnConfig.ConnectTimeout = d
	})
}

// MaxConns limits the pool size; one connection is held permanently by the change feed listener
func MaxConns(n int32) Option {
	return optionFunc(func(c *pgxpool.Config) {
		if n > 1 {
			c.MaxConns = n
		}
	})
}
