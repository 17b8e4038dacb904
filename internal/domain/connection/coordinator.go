// Package connection owns the single active NAS connection. It keeps the
// descriptor store and the query client consistent and drives the
// connect and wake-on-LAN workflows.
package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
	"github.com/edumarques81/nas-companion/internal/infra/nasapi"
	"github.com/edumarques81/nas-companion/internal/pubsub"
)

const (
	// DefaultWakeTimeout bounds the whole poll-after-wake loop.
	DefaultWakeTimeout = 30 * time.Second

	// DefaultRetryInterval is the pause between connect attempts after a wake.
	DefaultRetryInterval = 200 * time.Millisecond

	closeSyncTimeout = 5 * time.Second
)

// Store is the persisted descriptor collection.
type Store interface {
	List(ctx context.Context) ([]nas.Descriptor, error)
	Create(ctx context.Context, d nas.Descriptor) (nas.Descriptor, error)
	Update(ctx context.Context, d nas.Descriptor) error
	Subscribe(ctx context.Context) <-chan []nas.Descriptor
}

// QueryClient is the part of the NAS API client the coordinator drives.
type QueryClient interface {
	Configure(d nas.Descriptor) bool
	Current() (nas.Descriptor, bool)
	Descriptors(ctx context.Context) <-chan nas.Descriptor
	CheckConnection(ctx context.Context) nas.Result[nasapi.ConnectionCheckInfo]
}

// WakeSender transmits a magic packet.
type WakeSender interface {
	Send(ctx context.Context, macAddress, broadcastAddress string, port int) nas.Result[struct{}]
}

// Coordinator is the source of truth for the active NAS connection.
type Coordinator struct {
	store  Store
	client QueryClient
	sender WakeSender

	wakeTimeout   time.Duration
	retryInterval time.Duration

	// sem serializes store read-modify-write sequences.
	sem    chan struct{}
	active *pubsub.Latest[*nas.Descriptor]

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option is a functional option for configuring the coordinator.
type Option func(*Coordinator)

// WithWakeTimeout sets the overall deadline of WakeOnLan polling.
func WithWakeTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.wakeTimeout = d
		}
	}
}

// WithRetryInterval sets the delay between connect attempts after a wake.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// NewCoordinator creates a coordinator. Call Start to run the background
// observers that keep store and client in sync.
func NewCoordinator(store Store, client QueryClient, sender WakeSender, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         store,
		client:        client,
		sender:        sender,
		wakeTimeout:   DefaultWakeTimeout,
		retryInterval: DefaultRetryInterval,
		sem:           make(chan struct{}, 1),
		active:        pubsub.NewLatest(sameDescriptor),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the store and client observers. They run until ctx is done
// or Close is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.observeStore(ctx) })
	g.Go(func() error { return c.observeClient(ctx) })

	c.cancel = cancel
	c.group = g
	log.Info().Msg("Connection coordinator started")
}

// Close stops the observers and waits for them to exit.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	cancel, g := c.cancel, c.group
	c.cancel, c.group = nil, nil
	c.mu.Unlock()

	if g == nil {
		return nil
	}
	cancel()
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	// The client observer may have exited before seeing the last redirect.
	ctx, done := context.WithTimeout(context.Background(), closeSyncTimeout)
	defer done()
	if d, ok := c.client.Current(); ok && d.ID != 0 && d.Redirected() {
		if perr := c.persistBaseURL(ctx, d); perr != nil {
			log.Warn().Err(perr).Msg("Failed to persist redirected base URL on close")
		}
	}

	log.Info().Msg("Connection coordinator stopped")
	return err
}

// ActiveDescriptors streams the active descriptor, nil when the store is
// empty. The current value is replayed; repeats are suppressed.
func (c *Coordinator) ActiveDescriptors(ctx context.Context) <-chan *nas.Descriptor {
	return c.active.Subscribe(ctx)
}

// ActiveDescriptor returns the active descriptor as last observed.
func (c *Coordinator) ActiveDescriptor() (nas.Descriptor, bool) {
	d, ok := c.active.Get()
	if !ok || d == nil {
		return nas.Descriptor{}, false
	}
	return *d, true
}

// Connect persists a descriptor for address with credential, makes it the
// only active one, points the client at it and checks the connection.
func (c *Coordinator) Connect(ctx context.Context, address, credential string) nas.Result[nasapi.ConnectionCheckInfo] {
	address = strings.TrimSpace(address)

	if err := c.acquire(ctx); err != nil {
		return nas.Fail[nasapi.ConnectionCheckInfo](nas.ConnectionError)
	}
	d, err := c.activate(ctx, address, credential)
	if err != nil {
		c.release()
		log.Error().Err(err).Str("address", address).Msg("Failed to persist connection")
		return nas.Fail[nasapi.ConnectionCheckInfo](nas.InternalError)
	}
	c.client.Configure(d)
	r := c.client.CheckConnection(ctx)
	if cur, ok := c.client.Current(); ok && cur.ID == d.ID && cur.Redirected() && cur.BaseURL != d.BaseURL {
		if err := c.storeBaseURL(ctx, cur); err != nil {
			log.Warn().Err(err).Str("address", address).Msg("Failed to persist redirected base URL")
		}
	}
	c.release()

	log.Debug().Str("address", address).Stringer("result", r).Msg("Connection checked")
	return r
}

// activate upserts the descriptor for address and deactivates the others.
// Callers hold sem.
func (c *Coordinator) activate(ctx context.Context, address, credential string) (nas.Descriptor, error) {
	all, err := c.store.List(ctx)
	if err != nil {
		return nas.Descriptor{}, fmt.Errorf("list connections: %w", err)
	}

	var d nas.Descriptor
	if existing, ok := findByAddress(all, address); ok {
		d = existing
		d.Credential = credential
		d.Active = true
		if d != existing {
			if err := c.store.Update(ctx, d); err != nil {
				return nas.Descriptor{}, fmt.Errorf("update connection: %w", err)
			}
		}
	} else {
		d, err = c.store.Create(ctx, nas.NewDescriptor(address, credential))
		if err != nil {
			return nas.Descriptor{}, fmt.Errorf("create connection: %w", err)
		}
		log.Info().Str("address", address).Int64("id", d.ID).Msg("New NAS connection stored")
	}

	for _, other := range all {
		if other.Address == address || !other.Active {
			continue
		}
		other.Active = false
		if err := c.store.Update(ctx, other); err != nil {
			return nas.Descriptor{}, fmt.Errorf("deactivate connection %d: %w", other.ID, err)
		}
	}
	return d, nil
}

// WakeOnLan persists d, sends a magic packet to its MAC address and then
// retries Connect until it succeeds or the wake timeout elapses.
func (c *Coordinator) WakeOnLan(ctx context.Context, d nas.Descriptor) nas.Result[nasapi.ConnectionCheckInfo] {
	logger := log.With().Str("session", uuid.NewString()).Str("address", d.Address).Logger()

	d, err := c.save(ctx, d)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to persist connection before wake")
		return nas.Fail[nasapi.ConnectionCheckInfo](nas.InternalError)
	}

	if strings.TrimSpace(d.MACAddress) == "" {
		logger.Warn().Msg("Wake-on-LAN requested without MAC address")
		return nas.Fail[nasapi.ConnectionCheckInfo](nas.InternalError)
	}

	if sent := c.sender.Send(ctx, d.MACAddress, d.BroadcastAddress, d.Port()); !sent.IsLoaded() {
		logger.Warn().Stringer("result", sent).Msg("Magic packet not sent")
		return nas.FailAs[nasapi.ConnectionCheckInfo](sent)
	}
	logger.Info().
		Str("broadcast", d.BroadcastAddress).
		Int("port", d.Port()).
		Dur("timeout", c.wakeTimeout).
		Msg("Magic packet sent, waiting for NAS")

	wakeCtx, cancel := context.WithTimeout(ctx, c.wakeTimeout)
	defer cancel()

	var (
		result   nas.Result[nasapi.ConnectionCheckInfo]
		attempts int
	)
	start := time.Now()
	op := func() error {
		if err := wakeCtx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		r := c.Connect(wakeCtx, d.Address, d.Credential)
		if r.IsLoaded() {
			result = r
			return nil
		}
		kind, _ := r.Err()
		return fmt.Errorf("attempt %d: %s", attempts, kind)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.retryInterval), wakeCtx)
	if err := backoff.Retry(op, b); err != nil {
		logger.Warn().Err(err).Int("attempts", attempts).Dur("elapsed", time.Since(start)).Msg("NAS did not come back")
		return nas.Fail[nasapi.ConnectionCheckInfo](nas.ConnectionError)
	}

	logger.Info().Int("attempts", attempts).Dur("elapsed", time.Since(start)).Msg("NAS is awake")
	return result
}

// save writes d, matching by ID or else by address. The stored base URL is
// kept unless the address changed, so a stale copy cannot undo a redirect.
func (c *Coordinator) save(ctx context.Context, d nas.Descriptor) (nas.Descriptor, error) {
	if err := c.acquire(ctx); err != nil {
		return nas.Descriptor{}, err
	}
	defer c.release()

	d.Address = strings.TrimSpace(d.Address)
	if d.BroadcastAddress == "" {
		d.BroadcastAddress = nas.DefaultBroadcastAddress(d.Address)
	}
	d.WakeOnLanPort = d.Port()

	all, err := c.store.List(ctx)
	if err != nil {
		return nas.Descriptor{}, err
	}

	existing, ok := findByID(all, d.ID)
	if !ok && d.ID == 0 {
		existing, ok = findByAddress(all, d.Address)
	}
	if ok {
		d.ID = existing.ID
		if d.Credential == "" {
			d.Credential = existing.Credential
		}
		d.BaseURL = baseURLFor(d, existing)
		return d, c.store.Update(ctx, d)
	}

	if d.BaseURL == "" {
		d.BaseURL = nas.DefaultBaseURL(d.Address)
	}
	if d.ID != 0 {
		return d, c.store.Update(ctx, d)
	}
	return c.store.Create(ctx, d)
}

func baseURLFor(d, stored nas.Descriptor) string {
	if d.Address == stored.Address {
		return stored.BaseURL
	}
	if d.BaseURL == "" || d.BaseURL == stored.BaseURL {
		return nas.DefaultBaseURL(d.Address)
	}
	return d.BaseURL
}

// observeStore pushes the active descriptor into the client whenever the
// stored collection changes.
func (c *Coordinator) observeStore(ctx context.Context) error {
	for list := range c.store.Subscribe(ctx) {
		active := Active(list)
		if c.active.Publish(active) {
			log.Debug().Int("connections", len(list)).Bool("has_active", active != nil).Msg("Active connection changed")
		}
		if active != nil {
			c.client.Configure(*active)
		}
	}
	return nil
}

// observeClient persists base URL rewrites the client discovered while
// following redirects. Only redirected origins are written back, so a stale
// configuration never undoes a stored redirect.
func (c *Coordinator) observeClient(ctx context.Context) error {
	for d := range c.client.Descriptors(ctx) {
		if d.ID == 0 || !d.Redirected() {
			continue
		}
		if err := c.persistBaseURL(ctx, d); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("address", d.Address).Msg("Failed to persist redirected base URL")
		}
	}
	return nil
}

func (c *Coordinator) persistBaseURL(ctx context.Context, d nas.Descriptor) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.storeBaseURL(ctx, d)
}

// storeBaseURL copies d's base URL onto the stored record with d's ID.
// Callers hold sem.
func (c *Coordinator) storeBaseURL(ctx context.Context, d nas.Descriptor) error {
	all, err := c.store.List(ctx)
	if err != nil {
		return err
	}
	for _, stored := range all {
		if stored.ID != d.ID || stored.BaseURL == d.BaseURL {
			continue
		}
		log.Info().Str("address", d.Address).Str("base_url", d.BaseURL).Msg("Persisting redirected base URL")
		stored.BaseURL = d.BaseURL
		return c.store.Update(ctx, stored)
	}
	return nil
}

func (c *Coordinator) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release() {
	<-c.sem
}

// Active returns the descriptor flagged active, else the first one, else nil.
func Active(list []nas.Descriptor) *nas.Descriptor {
	for i := range list {
		if list[i].Active {
			d := list[i]
			return &d
		}
	}
	if len(list) > 0 {
		d := list[0]
		return &d
	}
	return nil
}

func findByAddress(list []nas.Descriptor, address string) (nas.Descriptor, bool) {
	for _, d := range list {
		if d.Address == address {
			return d, true
		}
	}
	return nas.Descriptor{}, false
}

func findByID(list []nas.Descriptor, id int64) (nas.Descriptor, bool) {
	if id == 0 {
		return nas.Descriptor{}, false
	}
	for _, d := range list {
		if d.ID == id {
			return d, true
		}
	}
	return nas.Descriptor{}, false
}

func sameDescriptor(a, b *nas.Descriptor) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
