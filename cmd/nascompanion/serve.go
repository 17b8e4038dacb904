package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edumarques81/nas-companion/internal/transport/socketio"
	"github.com/edumarques81/nas-companion/internal/version"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon serving Socket.IO and HTTP clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = opts.cfg.Listen
			}
			return serve(cmd.Context(), opts, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default from config, :3002)")
	return cmd
}

func serve(ctx context.Context, opts *globalOptions, listen string) error {
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", version.GetInfo().String())
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("listen", listen).
		Str("data_dir", opts.cfg.DataDir).
		Dur("http_timeout", opts.cfg.HTTPTimeout).
		Dur("wake_timeout", opts.cfg.WakeTimeout).
		Msg("Configuration")

	a, err := openApp(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	socketServer, err := socketio.NewServer(a.coordinator, a.connections, a.client)
	if err != nil {
		return err
	}
	defer socketServer.Close()
	socketServer.StartConnectionWatcher(ctx)

	server := &http.Server{
		Addr:    listen,
		Handler: corsMiddleware(newMux(socketServer, a.db, a.coordinator)),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listen).Msg("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Server stopped")
	return nil
}
