package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
	"github.com/edumarques81/nas-companion/internal/infra/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db := store.NewDB(filepath.Join(t.TempDir(), "data", "test.db"))
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBOpenClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	db := store.NewDB(path)

	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("Database file should exist after Open()")
	}

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != store.CurrentSchemaVersion {
		t.Errorf("Expected schema version %q, got %q", store.CurrentSchemaVersion, version)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
	if _, err := db.SchemaVersion(); !errors.Is(err, store.ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen after close, got %v", err)
	}
}

func TestDBReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db := store.NewDB(path)
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if _, err := store.NewConnections(db).Create(ctx, nas.NewDescriptor("10.0.0.5", "key")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	db.Close()

	db = store.NewDB(path)
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	all, err := store.NewConnections(db).List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 || all[0].Address != "10.0.0.5" {
		t.Errorf("Expected the stored descriptor after reopen, got %v", all)
	}
}

func TestCreateAndFind(t *testing.T) {
	conns := store.NewConnections(openTestDB(t))
	ctx := context.Background()

	d := nas.NewDescriptor("192.168.1.10", "secret")
	d.MACAddress = "AA:BB:CC:DD:EE:FF"

	created, err := conns.Create(ctx, d)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("Create should assign an ID")
	}

	found, err := conns.FindByAddress(ctx, " 192.168.1.10 ")
	if err != nil {
		t.Fatalf("FindByAddress failed: %v", err)
	}
	if found != created {
		t.Errorf("FindByAddress = %v, want %v", found, created)
	}
	if found.Credential != "secret" {
		t.Errorf("Credential not persisted: %q", found.Credential)
	}
}

func TestFindByAddress_NotFound(t *testing.T) {
	conns := store.NewConnections(openTestDB(t))

	_, err := conns.FindByAddress(context.Background(), "10.9.9.9")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCreate_DuplicateAddress(t *testing.T) {
	conns := store.NewConnections(openTestDB(t))
	ctx := context.Background()

	if _, err := conns.Create(ctx, nas.NewDescriptor("10.0.0.5", "a")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := conns.Create(ctx, nas.NewDescriptor("10.0.0.5", "b"))
	if !errors.Is(err, store.ErrDuplicateAddress) {
		t.Errorf("Expected ErrDuplicateAddress, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	conns := store.NewConnections(openTestDB(t))
	ctx := context.Background()

	created, err := conns.Create(ctx, nas.NewDescriptor("10.0.0.5", "old"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated := created.WithRedirect("https://nas.example.net")
	updated.Credential = "new"
	updated.Active = false
	updated.WakeOnLanPort = 7
	if err := conns.Update(ctx, updated); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	found, err := conns.FindByAddress(ctx, "10.0.0.5")
	if err != nil {
		t.Fatalf("FindByAddress failed: %v", err)
	}
	if found != updated {
		t.Errorf("FindByAddress = %v, want %v", found, updated)
	}
}

func TestUpdate_Errors(t *testing.T) {
	conns := store.NewConnections(openTestDB(t))
	ctx := context.Background()

	if err := conns.Update(ctx, nas.NewDescriptor("10.0.0.5", "k")); !errors.Is(err, store.ErrNotPersisted) {
		t.Errorf("Expected ErrNotPersisted, got %v", err)
	}

	ghost := nas.NewDescriptor("10.0.0.6", "k")
	ghost.ID = 42
	if err := conns.Update(ctx, ghost); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestList_OrderedByID(t *testing.T) {
	conns := store.NewConnections(openTestDB(t))
	ctx := context.Background()

	for _, addr := range []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"} {
		if _, err := conns.Create(ctx, nas.NewDescriptor(addr, "k")); err != nil {
			t.Fatalf("Create(%s) failed: %v", addr, err)
		}
	}

	all, err := conns.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"}
	if len(all) != len(want) {
		t.Fatalf("Expected %d descriptors, got %d", len(want), len(all))
	}
	for i, addr := range want {
		if all[i].Address != addr {
			t.Errorf("all[%d].Address = %s, want %s", i, all[i].Address, addr)
		}
	}
}

func TestSubscribe(t *testing.T) {
	conns := store.NewConnections(openTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := conns.Subscribe(ctx)

	first := receive(t, ch)
	if len(first) != 0 {
		t.Fatalf("Expected empty initial list, got %v", first)
	}

	created, err := conns.Create(ctx, nas.NewDescriptor("10.0.0.5", "k"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second := receive(t, ch)
	if len(second) != 1 || second[0] != created {
		t.Fatalf("Expected [%v], got %v", created, second)
	}

	// Writing the same values does not re-emit.
	if err := conns.Update(ctx, created); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	select {
	case got := <-ch:
		t.Errorf("Unexpected emission %v", got)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Expected channel to close after cancel")
		}
	case <-time.After(time.Second):
		t.Error("Channel not closed after cancel")
	}
}

func receive(t *testing.T, ch <-chan []nas.Descriptor) []nas.Descriptor {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for descriptor list")
		return nil
	}
}

func TestDBPing(t *testing.T) {
	db := openTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	db.Close()
	if err := db.Ping(context.Background()); !errors.Is(err, store.ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen after close, got %v", err)
	}
}
