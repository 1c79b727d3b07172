package main

import (
	"chatsync/internal/chat"
	"chatsync/internal/config"
	"chatsync/internal/pending"
	"errors"
	"fmt"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"math"
	"os"
	"strings"
	"text/tabwriter"
)

func init() {
	pendingCmd.AddCommand(pendingListCmd)
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect messages waiting for connectivity",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued messages of the configured user, including exhausted ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, sync, err := setup()
		if err != nil {
			return err
		}
		defer sync()

		if cfg.UserID == "" {
			return errors.New("user_id is not set")
		}

		var queue chat.PendingQueue
		if cfg.PendingStore == config.PendingRemote {
			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			queue = store.PendingQueue()
		} else {
			local, err := openLocal(cfg, logger)
			if err != nil {
				return err
			}
			defer local.Close()
			queue = pending.NewQueue(logger, local)
		}

		records, err := queue.List(cmd.Context(), cfg.UserID, math.MaxInt32)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No pending messages")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCHANNEL\tQUEUED\tRETRIES\tLAST ATTEMPT\tCONTENT\t")
		for _, p := range records {
			last := "never"
			if p.LastAttempt != nil {
				last = humanize.Time(*p.LastAttempt)
			}
			retries := humanize.Comma(int64(p.RetryCount))
			if p.RetryCount > cfg.RetryCeiling {
				retries += " (exhausted)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
				p.ID, p.ChannelID, humanize.Time(p.CreatedAt), retries, last, preview(p.Content, 40))
		}
		return w.Flush()
	},
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
