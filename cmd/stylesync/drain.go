package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mtiwari1/stylesync/internal/app"
	"github.com/mtiwari1/stylesync/internal/wake"
)

func newDrainCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Drain the durable upload queue once and exit",
		Long: "Runs the upload queue drain task a single time, the way a host " +
			"background wake does, and prints the result (no_data, new_data or failed).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			a, db, err := app.FromConfig(cfg, logger)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}
			a.Start()
			defer a.Close()

			var host wake.Manual
			if err := a.RegisterWake(&host); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results := host.Fire(ctx)
			for _, r := range results {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
			logger.Info("drain finished",
				slog.Int("pending", len(a.Queue.List(context.Background()))),
			)
			if len(results) == 1 && results[0] == wake.Failed {
				return fmt.Errorf("drain: some uploads failed and stay queued")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to stylesync config file (defaults when empty)")
	return cmd
}
