package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"example.com/runnerz/internal/config"
	"example.com/runnerz/internal/logging"
	"example.com/runnerz/internal/persistence"
)

var (
	// Version information (set via ldflags at build time)
	version = "dev"

	logger *slog.Logger
	cfg    config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "runnerctl",
		Short:         "Administrative tasks for the runnerz store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
				cfg.StoreDriver = driver
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				cfg.LogLevel = "debug"
			}
			logger = logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(logger)
			return nil
		},
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.PersistentFlags().String("driver", "", "Store driver override (postgres or sqlite)")

	root.AddCommand(newMigrateCmd(), newSeedCmd(), newCountCmd())
	return root
}

// setupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore opens the configured store without the cache layer, since
// administrative commands always want the source of truth.
func openStore(ctx context.Context, migrate bool) (*persistence.Store, error) {
	return persistence.Open(ctx, persistence.Options{
		Driver:      cfg.StoreDriver,
		PostgresURL: cfg.PostgresURL,
		SQLiteDSN:   cfg.SQLiteDSN,
		Migrate:     migrate,
	}, logger)
}
