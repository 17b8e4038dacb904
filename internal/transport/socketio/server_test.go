package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
	"github.com/edumarques81/nas-companion/internal/infra/nasapi"
	"github.com/edumarques81/nas-companion/internal/pubsub"
)

type fakeCoordinator struct {
	mu       sync.Mutex
	active   *pubsub.Latest[*nas.Descriptor]
	connects []string
	wakes    []nas.Descriptor
}

func newFakeCoordinator(active *nas.Descriptor) *fakeCoordinator {
	f := &fakeCoordinator{active: pubsub.NewLatest[*nas.Descriptor](nil)}
	if active != nil {
		f.active.Publish(active)
	}
	return f
}

func (f *fakeCoordinator) ActiveDescriptor() (nas.Descriptor, bool) {
	d, ok := f.active.Get()
	if !ok || d == nil {
		return nas.Descriptor{}, false
	}
	return *d, true
}

func (f *fakeCoordinator) ActiveDescriptors(ctx context.Context) <-chan *nas.Descriptor {
	return f.active.Subscribe(ctx)
}

func (f *fakeCoordinator) Connect(ctx context.Context, address, credential string) nas.Result[nasapi.ConnectionCheckInfo] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, address+"/"+credential)
	return nas.Ok(nasapi.ConnectionCheckInfo{ID: "NAS1"})
}

func (f *fakeCoordinator) WakeOnLan(ctx context.Context, d nas.Descriptor) nas.Result[nasapi.ConnectionCheckInfo] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes = append(f.wakes, d)
	return nas.Fail[nasapi.ConnectionCheckInfo](nas.ConnectionError)
}

type fakeConnections struct {
	list *pubsub.Latest[[]nas.Descriptor]
	err  error
}

func newFakeConnections(items ...nas.Descriptor) *fakeConnections {
	f := &fakeConnections{list: pubsub.NewLatest[[]nas.Descriptor](nil)}
	f.list.Publish(items)
	return f
}

func (f *fakeConnections) List(ctx context.Context) ([]nas.Descriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	items, _ := f.list.Get()
	return items, nil
}

func (f *fakeConnections) Subscribe(ctx context.Context) <-chan []nas.Descriptor {
	return f.list.Subscribe(ctx)
}

type fakeDashboard struct {
	calls int32
}

func (f *fakeDashboard) QueryDashboardData(ctx context.Context) nas.Result[nasapi.DashboardData] {
	atomic.AddInt32(&f.calls, 1)
	return nas.Ok(nasapi.DashboardData{Server: nasapi.ServerData{Name: "Tower"}})
}

func newTestServer(t *testing.T, coord *fakeCoordinator, conns *fakeConnections) (*Server, *fakeDashboard) {
	t.Helper()
	dash := &fakeDashboard{}
	s, err := NewServer(coord, conns, dash)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dash
}

func activeDescriptor() *nas.Descriptor {
	d := nas.NewDescriptor("192.168.1.10", "secret")
	d.ID = 1
	d.MACAddress = "AA:BB:CC:DD:EE:FF"
	return &d
}

func TestNewServer_NilDependency(t *testing.T) {
	if _, err := NewServer(nil, newFakeConnections(), &fakeDashboard{}); err == nil {
		t.Error("NewServer should reject a nil coordinator")
	}
}

func TestServerBroadcastWithoutClients(t *testing.T) {
	s, _ := newTestServer(t, newFakeCoordinator(nil), newFakeConnections())

	// Smoke test: no clients connected
	s.BroadcastActiveConnection()
	s.BroadcastConnections()
}

func TestConnect(t *testing.T) {
	coord := newFakeCoordinator(nil)
	s, _ := newTestServer(t, coord, newFakeConnections())

	res := s.connect(context.Background(), []any{map[string]any{"address": " 10.0.0.5 ", "apiKey": "k1"}})

	if res.RequestID == "" {
		t.Error("Expected a request id")
	}
	if res.Address != "10.0.0.5" {
		t.Errorf("Address = %q, want 10.0.0.5", res.Address)
	}
	if len(coord.connects) != 1 || coord.connects[0] != "10.0.0.5/k1" {
		t.Errorf("Connect calls = %v", coord.connects)
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"result":{"state":"loaded","value":{"id":"NAS1"}}`) {
		t.Errorf("Unexpected payload %s", data)
	}
}

func TestConnect_RejectsBadPayload(t *testing.T) {
	payloads := [][]any{
		nil,
		{"10.0.0.5"},
		{map[string]any{"address": "nas.local", "apiKey": "k"}},
		{map[string]any{"address": "10.0.0.5"}},
		{map[string]any{"address": 5, "apiKey": "k"}},
	}

	coord := newFakeCoordinator(nil)
	s, _ := newTestServer(t, coord, newFakeConnections())

	for _, args := range payloads {
		res := s.connect(context.Background(), args)
		r, ok := res.Result.(nas.Result[nasapi.ConnectionCheckInfo])
		if !ok {
			t.Fatalf("Result has type %T", res.Result)
		}
		if kind, failed := r.Err(); !failed || kind != nas.InternalError {
			t.Errorf("connect(%v) = %v, want Error(internal_error)", args, r)
		}
	}
	if len(coord.connects) != 0 {
		t.Errorf("Coordinator should not be called, got %v", coord.connects)
	}
}

func TestWakeOnLan_AppliesOverrides(t *testing.T) {
	coord := newFakeCoordinator(activeDescriptor())
	s, _ := newTestServer(t, coord, newFakeConnections())

	res := s.wakeOnLan(context.Background(), []any{map[string]any{
		"macAddress":       "11:22:33:44:55:66",
		"broadcastAddress": "192.168.255.255",
		"port":             float64(7),
	}})

	if len(coord.wakes) != 1 {
		t.Fatalf("Expected one wake, got %d", len(coord.wakes))
	}
	d := coord.wakes[0]
	if d.ID != 1 || d.MACAddress != "11:22:33:44:55:66" || d.BroadcastAddress != "192.168.255.255" || d.WakeOnLanPort != 7 {
		t.Errorf("Woke %v", d)
	}
	if d.Credential != "secret" {
		t.Errorf("Credential should be kept from the stored descriptor")
	}
	if res.Address != "192.168.1.10" {
		t.Errorf("Address = %q", res.Address)
	}

	r := res.Result.(nas.Result[nasapi.ConnectionCheckInfo])
	if kind, ok := r.Err(); !ok || kind != nas.ConnectionError {
		t.Errorf("Result = %v, want coordinator result", r)
	}
}

func TestWakeOnLan_NoPayloadUsesStoredFields(t *testing.T) {
	coord := newFakeCoordinator(activeDescriptor())
	s, _ := newTestServer(t, coord, newFakeConnections())

	s.wakeOnLan(context.Background(), nil)

	if len(coord.wakes) != 1 || coord.wakes[0] != *activeDescriptor() {
		t.Errorf("Wakes = %v", coord.wakes)
	}
}

func TestWakeOnLan_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		active *nas.Descriptor
		args   []any
	}{
		{"no active connection", nil, nil},
		{"bad mac", activeDescriptor(), []any{map[string]any{"macAddress": "zz:zz"}}},
		{"bad broadcast", activeDescriptor(), []any{map[string]any{"broadcastAddress": "everyone"}}},
		{"bad port", activeDescriptor(), []any{map[string]any{"port": float64(70000)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := newFakeCoordinator(tt.active)
			s, _ := newTestServer(t, coord, newFakeConnections())

			res := s.wakeOnLan(context.Background(), tt.args)
			r := res.Result.(nas.Result[nasapi.ConnectionCheckInfo])
			if kind, ok := r.Err(); !ok || kind != nas.InternalError {
				t.Errorf("Result = %v, want Error(internal_error)", r)
			}
			if len(coord.wakes) != 0 {
				t.Errorf("Coordinator should not be called")
			}
		})
	}
}

func TestDashboardData(t *testing.T) {
	s, dash := newTestServer(t, newFakeCoordinator(nil), newFakeConnections())
	if r := s.dashboardData(context.Background()); !r.IsError() {
		t.Errorf("Expected error without active connection, got %v", r)
	}
	if dash.calls != 0 {
		t.Errorf("Dashboard should not be queried without active connection")
	}

	s, dash = newTestServer(t, newFakeCoordinator(activeDescriptor()), newFakeConnections())
	r := s.dashboardData(context.Background())
	data, ok := r.Value()
	if !ok || data.Server.Name != "Tower" {
		t.Errorf("dashboardData = %v", r)
	}
	if dash.calls != 1 {
		t.Errorf("Expected one dashboard query, got %d", dash.calls)
	}
}

func TestListConnections(t *testing.T) {
	conns := newFakeConnections(*activeDescriptor())
	s, _ := newTestServer(t, newFakeCoordinator(nil), conns)

	list := s.listConnections(context.Background())
	if len(list) != 1 {
		t.Fatalf("Expected 1 connection, got %d", len(list))
	}

	data, _ := json.Marshal(list)
	if strings.Contains(string(data), "secret") {
		t.Errorf("Credential leaked in %s", data)
	}

	conns.err = errors.New("database not open")
	if list := s.listConnections(context.Background()); list == nil || len(list) != 0 {
		t.Errorf("Expected empty non-nil list on error, got %v", list)
	}
}

func TestConnectionWatcher_TriggersBroadcasts(t *testing.T) {
	coord := newFakeCoordinator(nil)
	conns := newFakeConnections()
	s, _ := newTestServer(t, coord, conns)

	var activeCalls, listCalls int32
	s.debouncer.Stop()
	s.debouncer = NewBroadcastDebouncer(10*time.Millisecond,
		func() { atomic.AddInt32(&activeCalls, 1) },
		func() { atomic.AddInt32(&listCalls, 1) },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartConnectionWatcher(ctx)

	// initial replay of the list
	waitFor(t, func() bool { return atomic.LoadInt32(&listCalls) == 1 })

	coord.active.Publish(activeDescriptor())
	waitFor(t, func() bool { return atomic.LoadInt32(&activeCalls) >= 2 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
