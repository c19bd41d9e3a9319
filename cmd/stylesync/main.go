// stylesync
//
// Background task and upload coordination daemon. `serve` runs the UI bridge
// with the periodic drain, `drain` is the one-shot entry point a host wake
// invokes, and `pending` inspects interrupted requests over gRPC.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mtiwari1/stylesync/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "stylesync",
		Short:        "Persistent background tasks and uploads for the styling assistant",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDrainCmd())
	cmd.AddCommand(newPendingCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stylesync %s (commit: %s)\n", Version, Commit)
		},
	}
}

// loadConfig reads the config file and builds the JSON logger it selects.
func loadConfig(path string, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	return cfg, logger, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
