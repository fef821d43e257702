package seenstate

import (
	"context"
	"fmt"
	"testing"

	"notifyd/internal/kvstore"
	logx "notifyd/pkg/logx"
)

func TestSetAddDeduplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := Load(ctx, nil, CategoryBroadcasts, logx.Nop())

	if !s.Add(ctx, "m1") {
		t.Fatal("first add returned false")
	}
	if s.Add(ctx, "m1") {
		t.Fatal("duplicate add returned true")
	}
	if s.Add(ctx, "") {
		t.Fatal("empty id recorded")
	}
	if !s.Has("m1") || s.Len() != 1 {
		t.Fatalf("Has=%v Len=%d", s.Has("m1"), s.Len())
	}
}

func TestSetTruncatesToMostRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := Load(ctx, nil, CategoryProducts, logx.Nop())

	for i := 0; i < MaxEntries+1; i++ {
		s.Add(ctx, fmt.Sprintf("id-%d", i))
	}

	if s.Len() != MaxEntries {
		t.Fatalf("Len = %d, want %d", s.Len(), MaxEntries)
	}
	// Oldest entry evicted, newest kept.
	if s.Has("id-0") {
		t.Fatal("oldest id survived truncation")
	}
	if !s.Has(fmt.Sprintf("id-%d", MaxEntries)) {
		t.Fatal("newest id missing")
	}
	// An evicted id counts as new again.
	if !s.Add(ctx, "id-0") {
		t.Fatal("evicted id not re-addable")
	}
}

func TestSetPersistsAcrossLoads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kvstore.NewSession()

	s := Load(ctx, store, CategoryBroadcasts, logx.Nop())
	s.Add(ctx, "m1")
	s.Add(ctx, "m2")

	again := Load(ctx, store, CategoryBroadcasts, logx.Nop())
	if !again.Has("m1") || !again.Has("m2") || again.Len() != 2 {
		t.Fatalf("reloaded set: Len=%d", again.Len())
	}
}

func TestSetCategoriesAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kvstore.NewSession()

	Load(ctx, store, CategoryBroadcasts, logx.Nop()).Add(ctx, "x")
	if Load(ctx, store, CategoryProducts, logx.Nop()).Has("x") {
		t.Fatal("id leaked across categories")
	}
}

func TestSetCorruptStateStartsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kvstore.NewSession()
	if err := store.Put(ctx, keyPrefix+CategoryBroadcasts, "{not json"); err != nil {
		t.Fatalf("put: %v", err)
	}

	s := Load(ctx, store, CategoryBroadcasts, logx.Nop())
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
	// The set stays usable and overwrites the corrupt value.
	if !s.Add(ctx, "m1") {
		t.Fatal("add after corrupt load failed")
	}
	if !Load(ctx, store, CategoryBroadcasts, logx.Nop()).Has("m1") {
		t.Fatal("recovered set not persisted")
	}
}

func TestSetFlushWritesThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kvstore.NewSession()

	s := Load(ctx, store, CategoryProducts, logx.Nop())
	s.Add(ctx, "p1")
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !Load(ctx, store, CategoryProducts, logx.Nop()).Has("p1") {
		t.Fatal("flushed id missing after reload")
	}
}
