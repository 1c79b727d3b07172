package main

import (
	"chatsync/internal/config"
	"chatsync/internal/storage"
	"context"
	"fmt"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"os"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Chat message sync daemon",
	Long: `chatsync keeps a local view of chat channels in sync with the backend:
optimistic sends, the offline pending queue, realtime updates and presence.

Settings come from defaults, the optional --config TOML file and CHATSYNC_*
environment variables (a .env file in the working directory is loaded first).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (TOML)")
}

func main() {
	_ = godotenv.Load(".env")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the zap logger selected by log_format and log_level
func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewDevelopmentConfig()
	if cfg.LogFormat == "json" {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level

	return zcfg.Build()
}

// setup loads the config and the logger shared by every command
func setup() (config.Config, *zap.SugaredLogger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("cannot build logger: %w", err)
	}

	return cfg, logger.Sugar(), func() { _ = logger.Sync() }, nil
}

// openStore connects to the postgres backend; commands reading remote state need it
func openStore(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*storage.Store, error) {
	if cfg.Backend != config.BackendPostgres {
		return nil, fmt.Errorf("this command needs the %q backend, configured backend is %q", config.BackendPostgres, cfg.Backend)
	}

	store, err := storage.New(ctx, logger, cfg.Postgres.Storage(),
		storage.ConnectionTimeout(cfg.Postgres.ConnectTimeout.Std()),
		storage.MaxConns(cfg.Postgres.MaxConns),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to postgres: %w", err)
	}
	return store, nil
}
