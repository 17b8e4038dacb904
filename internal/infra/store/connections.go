package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
	"github.com/edumarques81/nas-companion/internal/pubsub"
)

var (
	// ErrNotFound is returned when no descriptor matches the lookup.
	ErrNotFound = errors.New("connection not found")
	// ErrNotPersisted is returned by Update for a descriptor without an ID.
	ErrNotPersisted = errors.New("connection has no id")
	// ErrDuplicateAddress is returned when a create would violate address uniqueness.
	ErrDuplicateAddress = errors.New("connection address already exists")
)

const selectColumns = `id, address, broadcast_address, api_key, base_url, mac_address, wake_on_lan_port, is_active`

// Connections provides data access for NAS descriptors and publishes the full
// list after every write.
type Connections struct {
	db   *DB
	list *pubsub.Latest[[]nas.Descriptor]
}

// NewConnections creates a DAO over an opened DB.
func NewConnections(db *DB) *Connections {
	return &Connections{
		db:   db,
		list: pubsub.NewLatest(slices.Equal[[]nas.Descriptor]),
	}
}

// List returns all descriptors ordered by ID.
func (c *Connections) List(ctx context.Context) ([]nas.Descriptor, error) {
	db, err := c.db.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+selectColumns+` FROM nas_connections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []nas.Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FindByAddress returns the descriptor stored for address.
func (c *Connections) FindByAddress(ctx context.Context, address string) (nas.Descriptor, error) {
	db, err := c.db.handle()
	if err != nil {
		return nas.Descriptor{}, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM nas_connections WHERE address = ?`,
		strings.TrimSpace(address))
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nas.Descriptor{}, ErrNotFound
	}
	return d, err
}

// Create inserts d and returns it with the assigned ID.
func (c *Connections) Create(ctx context.Context, d nas.Descriptor) (nas.Descriptor, error) {
	db, err := c.db.handle()
	if err != nil {
		return nas.Descriptor{}, err
	}

	now := time.Now().Format(time.RFC3339)
	res, err := db.ExecContext(ctx, `
		INSERT INTO nas_connections (address, broadcast_address, api_key, base_url,
			mac_address, wake_on_lan_port, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.Address, d.BroadcastAddress, d.Credential, d.BaseURL,
		nullable(d.MACAddress), d.Port(), d.Active, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nas.Descriptor{}, fmt.Errorf("%w: %s", ErrDuplicateAddress, d.Address)
		}
		return nas.Descriptor{}, fmt.Errorf("create connection: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nas.Descriptor{}, fmt.Errorf("create connection: %w", err)
	}
	d.ID = id
	d.WakeOnLanPort = d.Port()

	log.Debug().Stringer("descriptor", d).Msg("Connection created")
	c.publish(ctx)
	return d, nil
}

// Update overwrites the stored record with d's ID.
func (c *Connections) Update(ctx context.Context, d nas.Descriptor) error {
	if d.ID == 0 {
		return ErrNotPersisted
	}
	db, err := c.db.handle()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE nas_connections SET address = ?, broadcast_address = ?, api_key = ?, base_url = ?,
			mac_address = ?, wake_on_lan_port = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`,
		d.Address, d.BroadcastAddress, d.Credential, d.BaseURL,
		nullable(d.MACAddress), d.Port(), d.Active, time.Now().Format(time.RFC3339),
		d.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateAddress, d.Address)
		}
		return fmt.Errorf("update connection %d: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, d.ID)
	}

	log.Debug().Stringer("descriptor", d).Msg("Connection updated")
	c.publish(ctx)
	return nil
}

// Subscribe streams the descriptor list. The current list is delivered first;
// identical consecutive lists are not re-emitted.
func (c *Connections) Subscribe(ctx context.Context) <-chan []nas.Descriptor {
	if _, ok := c.list.Get(); !ok {
		c.refresh(ctx)
	}
	return c.list.Subscribe(ctx)
}

// publish reloads the list after a committed write. The reload outlives the
// caller's cancellation so the stream never lags the table.
func (c *Connections) publish(ctx context.Context) {
	c.refresh(context.WithoutCancel(ctx))
}

func (c *Connections) refresh(ctx context.Context) {
	all, err := c.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to reload connections")
		return
	}
	if all == nil {
		all = []nas.Descriptor{}
	}
	c.list.Publish(all)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(s scanner) (nas.Descriptor, error) {
	var d nas.Descriptor
	var mac sql.NullString
	if err := s.Scan(&d.ID, &d.Address, &d.BroadcastAddress, &d.Credential, &d.BaseURL,
		&mac, &d.WakeOnLanPort, &d.Active); err != nil {
		return nas.Descriptor{}, err
	}
	if mac.Valid {
		d.MACAddress = mac.String
	}
	return d, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
