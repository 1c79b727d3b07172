package main

import (
	"chatsync/internal/app"
	"context"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"syscall"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon and its local bridge api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, sync, err := setup()
		if err != nil {
			return err
		}
		defer sync()

		logger.Info("Application is starting")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, logger, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Run(ctx); err != nil {
			return err
		}

		logger.Info("Application is stopped")
		return nil
	},
}
