package orders

import (
	"context"
	"testing"

	"notifyd/internal/docstore"
	logx "notifyd/pkg/logx"
)

func putOrder(t *testing.T, c docstore.Collection, id, status string) {
	t.Helper()
	err := c.Put(context.Background(), docstore.Document{
		ID:     id,
		Fields: map[string]any{FieldStatus: status, "customerId": "c1"},
	})
	if err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
}

func TestTrackerColdSnapshotSeedsSilently(t *testing.T) {
	t.Parallel()
	store := docstore.NewMem()
	c := store.Collection("orders")
	putOrder(t, c, "o1", "pending")

	var transitions []Transition
	tr := NewTracker(func(tr Transition) { transitions = append(transitions, tr) }, logx.Nop())
	if err := tr.Watch(c, docstore.Query{}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer tr.Stop()

	if len(transitions) != 0 {
		t.Fatalf("cold snapshot emitted %d transitions", len(transitions))
	}

	// The seeded status is the baseline: pending -> approved must fire.
	putOrder(t, c, "o1", "approved")
	if len(transitions) != 1 {
		t.Fatalf("transitions = %d, want 1", len(transitions))
	}
	got := transitions[0]
	if got.ID != "o1" || got.Previous != StatusPending || got.Next != StatusApproved {
		t.Fatalf("transition = %+v", got)
	}
}

func TestTrackerFirstObservationNeverTransitions(t *testing.T) {
	t.Parallel()
	store := docstore.NewMem()
	c := store.Collection("orders")

	var transitions []Transition
	tr := NewTracker(func(tr Transition) { transitions = append(transitions, tr) }, logx.Nop())
	if err := tr.Watch(c, docstore.Query{}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer tr.Stop()

	// A record added mid-stream with a final-looking status only seeds.
	putOrder(t, c, "o2", "approved")
	if len(transitions) != 0 {
		t.Fatalf("added record emitted %d transitions", len(transitions))
	}

	putOrder(t, c, "o2", "rejected")
	if len(transitions) != 1 || transitions[0].Previous != StatusApproved {
		t.Fatalf("transitions = %+v", transitions)
	}
}

func TestTrackerSameStatusWriteIsSilent(t *testing.T) {
	t.Parallel()
	store := docstore.NewMem()
	c := store.Collection("orders")
	putOrder(t, c, "o3", "pending")

	var count int
	tr := NewTracker(func(Transition) { count++ }, logx.Nop())
	if err := tr.Watch(c, docstore.Query{}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer tr.Stop()

	// Unrelated field writes bump the version but keep the status.
	putOrder(t, c, "o3", "pending")
	if count != 0 {
		t.Fatalf("same-status write emitted %d transitions", count)
	}
}

func TestTrackerMissingStatusIgnored(t *testing.T) {
	t.Parallel()
	store := docstore.NewMem()
	c := store.Collection("orders")

	var count int
	tr := NewTracker(func(Transition) { count++ }, logx.Nop())
	if err := tr.Watch(c, docstore.Query{}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer tr.Stop()

	if err := c.Put(context.Background(), docstore.Document{ID: "o4", Fields: map[string]any{"customerId": "c1"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	putOrder(t, c, "o4", "pending")
	if count != 0 {
		t.Fatalf("transitions = %d, want 0", count)
	}
}

func TestTransitionCopy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		next Status
		ok   bool
	}{
		{name: "approved", next: StatusApproved, ok: true},
		{name: "rejected", next: StatusRejected, ok: true},
		{name: "review", next: StatusReview, ok: true},
		{name: "pending", next: StatusPending, ok: false},
		{name: "unknown", next: Status("archived"), ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			title, body, ok := Transition{Next: tt.next}.Copy()
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (title == "" || body == "") {
				t.Fatal("announced transition has empty copy")
			}
		})
	}
}
