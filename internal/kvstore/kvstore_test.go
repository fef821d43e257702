package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"notifyd/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "  NONE  "} {
		store, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if store != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put(ctx, "consent.orders", "granted"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "consent.products", "denied"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "consent.products"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen and replay the journal.
	again, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()

	v, ok, err := again.Get(ctx, "consent.orders")
	if err != nil || !ok || v != "granted" {
		t.Fatalf("Get(consent.orders) = (%q, %v, %v)", v, ok, err)
	}
	if _, ok, _ := again.Get(ctx, "consent.products"); ok {
		t.Fatal("deleted key survived reopen")
	}
}

func TestFileStoreEmptyKeyIsIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.Put(ctx, "   ", "x"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "  "); ok {
		t.Fatal("blank key should behave as absent")
	}
}

func TestFileStoreCorruptJournalDegradesToEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	journal := filepath.Join(dir, "state.kv.journal.jsonl")
	if err := os.WriteFile(journal, []byte("{not json\n"), 0o600); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	store, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if _, ok, _ := store.Get(ctx, "anything"); ok {
		t.Fatal("corrupt journal should yield empty state")
	}
	// The store stays writable after recovery.
	if err := store.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("put after recovery: %v", err)
	}
}

func TestFileStoreClosedRejectsWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := store.Put(ctx, "k", "v"); err == nil {
		t.Fatal("expected error writing to closed store")
	}
}

func TestSessionStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewSession()

	if err := store.Put(ctx, "dismissed", "1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if v, ok, _ := store.Get(ctx, "dismissed"); !ok || v != "1" {
		t.Fatalf("Get = (%q, %v)", v, ok)
	}
	if err := store.Delete(ctx, "dismissed"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "dismissed"); ok {
		t.Fatal("key survived delete")
	}
}

func TestSQLiteKVRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put(ctx, "seen.broadcasts", `["a","b"]`); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Overwrite replaces, not appends.
	if err := store.Put(ctx, "seen.broadcasts", `["b","c"]`); err != nil {
		t.Fatalf("put 2: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again, err := Open(Config{Driver: "sqlite3", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()

	v, ok, err := again.Get(ctx, "seen.broadcasts")
	if err != nil || !ok || v != `["b","c"]` {
		t.Fatalf("Get = (%q, %v, %v)", v, ok, err)
	}
	if err := again.Delete(ctx, "seen.broadcasts"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := again.Get(ctx, "seen.broadcasts"); ok {
		t.Fatal("key survived delete")
	}
}
