package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edumarques81/nas-companion/internal/config"
	"github.com/edumarques81/nas-companion/internal/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dataDir    string
	debug      bool

	cfg config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "nascompanion",
		Short:         "Connect to, monitor and wake a NAS",
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.dataDir != "" {
				dir, err := config.ExpandPath(opts.dataDir)
				if err != nil {
					return fmt.Errorf("data dir: %w", err)
				}
				cfg.DataDir = dir
			}
			if opts.debug {
				cfg.LogLevel = zerolog.DebugLevel
			}
			opts.cfg = cfg

			setupLogging(cfg.LogLevel)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default "+config.DefaultConfigPath+")")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Directory holding the connection database")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newConnectCmd(opts),
		newWakeCmd(opts),
		newDashboardCmd(opts),
		newConnectionsCmd(opts),
		newVersionCmd(),
	)
	return root
}

func setupLogging(level zerolog.Level) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
