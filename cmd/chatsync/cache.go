package main

import (
	"chatsync/internal/cache"
	"chatsync/internal/config"
	"chatsync/internal/kv"
	"errors"
	"fmt"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"os"
	"text/tabwriter"
)

func init() {
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the local message cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, sync, err := setup()
		if err != nil {
			return err
		}
		defer sync()

		local, err := openLocal(cfg, logger)
		if err != nil {
			return err
		}
		defer local.Close()

		c := cache.New(logger, local, nil)
		ids, err := c.Channels()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("Cache is empty")
			return nil
		}

		current, _ := c.CurrentChannel()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL\tMESSAGES\tCAPTURED\t")
		for _, id := range ids {
			e, ok := c.Get(id)
			if !ok {
				continue
			}
			name := id
			if id == current {
				name += " (current)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", name, humanize.Comma(int64(len(e.Messages))), humanize.Time(e.CapturedAt))
		}
		return w.Flush()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, sync, err := setup()
		if err != nil {
			return err
		}
		defer sync()

		local, err := openLocal(cfg, logger)
		if err != nil {
			return err
		}
		defer local.Close()

		if err := cache.New(logger, local, nil).Clear(); err != nil {
			return err
		}
		fmt.Println("Cache cleared")
		return nil
	},
}

// openLocal opens the durable cache directory; an in-memory cache has nothing to inspect
func openLocal(cfg config.Config, logger *zap.SugaredLogger) (*kv.Pebble, error) {
	if cfg.CacheDir == "" {
		return nil, errors.New("cache_dir is not set, the daemon keeps its cache in memory")
	}
	return kv.OpenPebble(logger, cfg.CacheDir)
}
