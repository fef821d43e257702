package watch

import (
	"context"
	"errors"
	"testing"

	"notifyd/internal/docstore"
	logx "notifyd/pkg/logx"
)

func putDoc(t *testing.T, c docstore.Collection, id string, fields map[string]any) {
	t.Helper()
	if err := c.Put(context.Background(), docstore.Document{ID: id, Fields: fields}); err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
}

func TestWatcherSuppressesInitialSnapshot(t *testing.T) {
	t.Parallel()
	store := docstore.NewMem()
	c := store.Collection("orders")
	putDoc(t, c, "a", map[string]any{"status": "pending"})
	putDoc(t, c, "b", map[string]any{"status": "approved"})

	var deltas []Delta
	var seeds []string
	w := New(func(d Delta) { deltas = append(deltas, d) }, logx.Nop(),
		WithSeedFunc(func(doc docstore.Document) { seeds = append(seeds, doc.ID) }))
	if err := w.Watch(c, docstore.Query{}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Stop()

	if len(deltas) != 0 {
		t.Fatalf("initial snapshot emitted %d deltas, want 0", len(deltas))
	}
	if len(seeds) != 2 {
		t.Fatalf("seeds = %d, want 2", len(seeds))
	}
}

func TestWatcherEmitsAddedAndModified(t *testing.T) {
	t.Parallel()
	store := docstore.NewMem()
	c := store.Collection("orders")
	putDoc(t, c, "a", map[string]any{"status": "pending"})

	var deltas []Delta
	w := New(func(d Delta) { deltas = append(deltas, d) }, logx.Nop())
	if err := w.Watch(c, docstore.Query{}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Stop()

	putDoc(t, c, "b", map[string]any{"status": "pending"})
	putDoc(t, c, "a", map[string]any{"status": "approved"})

	if len(deltas) != 2 {
		t.Fatalf("deltas = %d, want 2", len(deltas))
	}
	if deltas[0].ID != "b" || deltas[0].Kind != DeltaAdded {
		t.Fatalf("first delta = %s/%s, want b/added", deltas[0].ID, deltas[0].Kind)
	}
	if deltas[1].ID != "a" || deltas[1].Kind != DeltaModified {
		t.Fatalf("second delta = %s/%s, want a/modified", deltas[1].ID, deltas[1].Kind)
	}
}

func TestWatcherFilteredQueryIgnoresOtherDocs(t *testing.T) {
	t.Parallel()
	store := docstore.NewMem()
	c := store.Collection("orders")

	var deltas []Delta
	w := New(func(d Delta) { deltas = append(deltas, d) }, logx.Nop())
	q := docstore.Query{Filters: []docstore.Filter{{Field: "customerId", Value: "c1"}}}
	if err := w.Watch(c, q); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Stop()

	putDoc(t, c, "other", map[string]any{"customerId": "c2", "status": "pending"})
	putDoc(t, c, "mine", map[string]any{"customerId": "c1", "status": "pending"})

	if len(deltas) != 1 || deltas[0].ID != "mine" {
		t.Fatalf("deltas = %+v, want one for mine", deltas)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	t.Parallel()
	store := docstore.NewMem()
	c := store.Collection("orders")

	var count int
	w := New(func(Delta) { count++ }, logx.Nop())
	if err := w.Watch(c, docstore.Query{}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	w.Stop()
	w.Stop()

	putDoc(t, c, "a", map[string]any{"status": "pending"})
	if count != 0 {
		t.Fatalf("delta after stop: %d", count)
	}
	if err := w.Watch(c, docstore.Query{}); !errors.Is(err, ErrWatcherStopped) {
		t.Fatalf("watch after stop = %v, want ErrWatcherStopped", err)
	}
}

func TestWatcherRewatchDoesNotReplayKnownState(t *testing.T) {
	t.Parallel()
	store := docstore.NewMem()
	c := store.Collection("orders")
	putDoc(t, c, "a", map[string]any{"status": "pending"})

	var deltas []Delta
	w := New(func(d Delta) { deltas = append(deltas, d) }, logx.Nop())
	if err := w.Watch(c, docstore.Query{}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	// Reconnect. The next initial snapshot lists "a" again; it must not come
	// back as an added delta.
	if err := w.Watch(c, docstore.Query{}); err != nil {
		t.Fatalf("re-watch: %v", err)
	}
	defer w.Stop()

	if len(deltas) != 0 {
		t.Fatalf("re-watch replayed %d deltas", len(deltas))
	}

	putDoc(t, c, "b", map[string]any{"status": "pending"})
	if len(deltas) != 1 || deltas[0].ID != "b" {
		t.Fatalf("deltas after re-watch = %+v, want one for b", deltas)
	}
}

func TestWatcherErrorStopsEmission(t *testing.T) {
	t.Parallel()
	store := docstore.NewMem()
	c := store.Collection("orders")

	var deltas int
	var gotErr error
	w := New(func(Delta) { deltas++ }, logx.Nop(),
		WithErrorFunc(func(err error) { gotErr = err }))
	if err := w.Watch(c, docstore.Query{}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Stop()

	boom := errors.New("stream lost")
	store.FailCollection("orders", boom)

	if !errors.Is(gotErr, boom) {
		t.Fatalf("error callback got %v, want %v", gotErr, boom)
	}

	putDoc(t, c, "a", map[string]any{"status": "pending"})
	if deltas != 0 {
		t.Fatalf("deltas after stream failure: %d", deltas)
	}
}

func TestWatcherRecordLeavingWindowCountsAsAddedOnReturn(t *testing.T) {
	t.Parallel()
	store := docstore.NewMem()
	c := store.Collection("broadcasts")
	putDoc(t, c, "old", map[string]any{"createdAt": "2026-01-01T00:00:00Z"})

	var deltas []Delta
	w := New(func(d Delta) { deltas = append(deltas, d) }, logx.Nop())
	q := docstore.Query{OrderBy: "createdAt", Desc: true, Limit: 1}
	if err := w.Watch(c, q); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Stop()

	// "new" pushes "old" out of the one-row window.
	putDoc(t, c, "new", map[string]any{"createdAt": "2026-02-01T00:00:00Z"})
	if len(deltas) != 1 || deltas[0].ID != "new" {
		t.Fatalf("deltas = %+v, want one added for new", deltas)
	}
}
