// Package config loads the daemon configuration from defaults, an optional TOML file and CHATSYNC_ environment
// variables, in that order
package config

import (
	"chatsync/internal/bridge"
	"chatsync/internal/chat"
	"chatsync/internal/presence"
	"chatsync/internal/storage"
	"errors"
	"fmt"
	"github.com/caarlos0/env/v6"
	toml "github.com/pelletier/go-toml/v2"
	"os"
	"time"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "CHATSYNC_"

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	PendingLocal  = "local"
	PendingRemote = "remote"
)

var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as "5s" in TOML files and environment variables
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Postgres struct {
	User           string   `toml:"user" env:"USER"`
	Password       string   `toml:"password" env:"PASSWORD"`
	Host           string   `toml:"host" env:"HOST"`
	Port           uint16   `toml:"port" env:"PORT"`
	DBName         string   `toml:"dbname" env:"DBNAME"`
	ConnectTimeout Duration `toml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	MaxConns       int32    `toml:"max_conns" env:"MAX_CONNS"`
}

// Storage returns the connection parameters of the store
func (p Postgres) Storage() storage.Config {
	return storage.Config{
		User:     p.User,
		Password: p.Password,
		Host:     p.Host,
		Port:     p.Port,
		DBName:   p.DBName,
	}
}

type Bridge struct {
	Enabled     bool     `toml:"enabled" env:"ENABLED"`
	Host        string   `toml:"host" env:"HOST"`
	Port        uint16   `toml:"port" env:"PORT"`
	ReadTimeout Duration `toml:"read_timeout" env:"READ_TIMEOUT"`
}

func (b Bridge) Server() bridge.Config {
	return bridge.Config{Host: b.Host, Port: b.Port, ReadTimeout: b.ReadTimeout.Std()}
}

// Config defines every setting of the daemon
type Config struct {
	Backend  string   `toml:"backend" env:"BACKEND"`
	Postgres Postgres `toml:"postgres" envPrefix:"PG_"`
	// CacheDir holds the durable cache and the local pending queue; empty keeps both in memory
	CacheDir string `toml:"cache_dir" env:"CACHE_DIR"`

	UserID   string `toml:"user_id" env:"USER_ID"`
	Username string `toml:"username" env:"USERNAME"`

	HistoryLimit int      `toml:"history_limit" env:"HISTORY_LIMIT"`
	PageSize     int      `toml:"page_size" env:"PAGE_SIZE"`
	SendTimeout  Duration `toml:"send_timeout" env:"SEND_TIMEOUT"`
	RetryCeiling int      `toml:"retry_ceiling" env:"RETRY_CEILING"`
	SyncInterval Duration `toml:"sync_interval" env:"SYNC_INTERVAL"`
	LiveScope    string   `toml:"live_scope" env:"LIVE_SCOPE"`
	PendingStore string   `toml:"pending_store" env:"PENDING_STORE"`

	Heartbeat        Duration `toml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	PresenceDebounce Duration `toml:"presence_debounce" env:"PRESENCE_DEBOUNCE"`
	ProbeInterval    Duration `toml:"probe_interval" env:"PROBE_INTERVAL"`

	Bridge Bridge `toml:"bridge" envPrefix:"BRIDGE_"`

	LogLevel  string `toml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `toml:"log_format" env:"LOG_FORMAT"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		Backend: BackendPostgres,
		Postgres: Postgres{
			User:           "postgres",
			Host:           "localhost",
			Port:           5432,
			DBName:         "chatsync",
			ConnectTimeout: Duration(30 * time.Second),
			MaxConns:       4,
		},
		HistoryLimit:     chat.DefaultHistoryLimit,
		PageSize:         chat.DefaultHistoryLimit,
		SendTimeout:      Duration(chat.DefaultSendTimeout),
		RetryCeiling:     chat.DefaultRetryCeiling,
		LiveScope:        string(chat.ScopeChannel),
		PendingStore:     PendingLocal,
		Heartbeat:        Duration(presence.DefaultHeartbeat),
		PresenceDebounce: Duration(presence.DefaultDebounce),
		ProbeInterval:    Duration(10 * time.Second),
		Bridge: Bridge{
			Enabled:     true,
			Host:        "127.0.0.1",
			Port:        9000,
			ReadTimeout: Duration(5 * time.Second),
		},
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load returns Default overlaid with the TOML file at path (skipped when path is empty) and then with the
// environment. The result is validated
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects unknown enum values and non-positive limits
func (c Config) Validate() error {
	switch c.Backend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("%w: backend must be %q or %q, got %q", ErrInvalid, BackendPostgres, BackendMemory, c.Backend)
	}

	switch chat.Scope(c.LiveScope) {
	case chat.ScopeChannel, chat.ScopeGlobal:
	default:
		return fmt.Errorf("%w: live_scope must be %q or %q, got %q", ErrInvalid, chat.ScopeChannel, chat.ScopeGlobal, c.LiveScope)
	}

	switch c.PendingStore {
	case PendingLocal, PendingRemote:
	default:
		return fmt.Errorf("%w: pending_store must be %q or %q, got %q", ErrInvalid, PendingLocal, PendingRemote, c.PendingStore)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalid, c.LogLevel)
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log_format must be \"console\" or \"json\", got %q", ErrInvalid, c.LogFormat)
	}

	if c.HistoryLimit <= 0 || c.PageSize <= 0 {
		return fmt.Errorf("%w: history_limit and page_size must be positive", ErrInvalid)
	}
	if c.RetryCeiling < 0 {
		return fmt.Errorf("%w: retry_ceiling must not be negative", ErrInvalid)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("%w: sync_interval must not be negative", ErrInvalid)
	}

	durations := map[string]Duration{
		"send_timeout":       c.SendTimeout,
		"heartbeat_interval": c.Heartbeat,
		"presence_debounce":  c.PresenceDebounce,
		"probe_interval":     c.ProbeInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
		}
	}

	return nil
}
