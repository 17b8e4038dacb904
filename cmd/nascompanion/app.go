package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/nas-companion/internal/config"
	"github.com/edumarques81/nas-companion/internal/domain/connection"
	"github.com/edumarques81/nas-companion/internal/domain/nas"
	"github.com/edumarques81/nas-companion/internal/infra/nasapi"
	"github.com/edumarques81/nas-companion/internal/infra/store"
	"github.com/edumarques81/nas-companion/internal/infra/wol"
	"github.com/edumarques81/nas-companion/internal/version"
)

var errNoConnection = errors.New("no NAS connection stored, run 'nascompanion connect' first")

// app wires the store, the NAS client and the coordinator for one process.
type app struct {
	db          *store.DB
	connections *store.Connections
	client      *nasapi.Client
	coordinator *connection.Coordinator
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	db := store.NewDB(cfg.DatabasePath())
	if err := db.Open(); err != nil {
		return nil, err
	}

	conns := store.NewConnections(db)
	client := nasapi.NewClient(
		nasapi.WithTimeout(cfg.HTTPTimeout),
		nasapi.WithMaxRedirects(cfg.MaxRedirects),
		nasapi.WithUserAgent(version.UserAgent()),
	)
	coordinator := connection.NewCoordinator(conns, client, wol.NewSender(),
		connection.WithWakeTimeout(cfg.WakeTimeout),
		connection.WithRetryInterval(cfg.RetryInterval),
	)
	coordinator.Start(ctx)

	return &app{
		db:          db,
		connections: conns,
		client:      client,
		coordinator: coordinator,
	}, nil
}

// activeDescriptor reads the active descriptor straight from the store and
// points the client at it.
func (a *app) activeDescriptor(ctx context.Context) (nas.Descriptor, error) {
	list, err := a.connections.List(ctx)
	if err != nil {
		return nas.Descriptor{}, fmt.Errorf("list connections: %w", err)
	}
	active := connection.Active(list)
	if active == nil {
		return nas.Descriptor{}, errNoConnection
	}
	a.client.Configure(*active)
	return *active, nil
}

func (a *app) Close() error {
	if err := a.coordinator.Close(); err != nil {
		log.Warn().Err(err).Msg("Coordinator close error")
	}
	return a.db.Close()
}
