package main

import (
	"chatsync/internal/presence"
	"fmt"
	"github.com/spf13/cobra"
	"os"
	"text/tabwriter"
	"time"
)

var onlineOnly bool

func init() {
	presenceCmd.Flags().BoolVar(&onlineOnly, "online", false, "list online users only")
	rootCmd.AddCommand(presenceCmd)
}

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Show every user with online status and last activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, sync, err := setup()
		if err != nil {
			return err
		}
		defer sync()

		store, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		feed := store.Listener(nil)
		defer feed.Close()

		tracker := presence.NewTracker(logger, cfg.UserID, store, feed)
		if err := tracker.LoadAllUsers(cmd.Context()); err != nil {
			return err
		}

		users := tracker.AllUsers()
		if onlineOnly {
			users = tracker.Roster()
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tSTATUS\tLAST SEEN\t")
		for _, u := range users {
			status := "offline"
			if u.Online {
				status = "online"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", u.Username, status, presence.FormatLastSeen(u.LastSeen, now))
		}
		return w.Flush()
	},
}
