// Package orders tracks per-order status and raises events on genuine status
// transitions only: a transition fires when the previous status is known for
// that record and differs from the new one. First observations of a record —
// the cold snapshot or a record appearing later — seed state silently.
package orders

import (
	"sync"

	"notifyd/internal/docstore"
	"notifyd/internal/watch"
	logx "notifyd/pkg/logx"
)

// Status is an order's lifecycle state. The set is open: unknown strings are
// tracked verbatim so a later change away from them still transitions, but
// transitions into an unknown status carry no notification copy.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusReview   Status = "review"
)

// FieldStatus is the order document field the tracker watches.
const FieldStatus = "status"

// Transition is a genuine status change on one order.
type Transition struct {
	ID       string
	Previous Status
	Next     Status
	Doc      docstore.Document
}

// Copy returns notification title and body for the transition. ok is false
// for statuses without user-facing copy; those transitions are tracked but
// not announced.
func (t Transition) Copy() (title, body string, ok bool) {
	switch t.Next {
	case StatusApproved:
		return "Order approved", "Your order was approved and is being prepared.", true
	case StatusRejected:
		return "Order update", "Unfortunately your order could not be accepted.", true
	case StatusReview:
		return "Order in review", "Your order is being reviewed. We'll update you shortly.", true
	default:
		return "", "", false
	}
}

// Tracker specializes a watch.Watcher over an order collection.
//
// A Tracker is single-use per identity: tearing down on identity change and
// constructing a fresh Tracker guarantees a reused record id is treated as
// unseen, never as a false transition.
type Tracker struct {
	log logx.Logger

	onTransition func(Transition)

	mu        sync.Mutex
	lastKnown map[string]Status

	watcher *watch.Watcher
}

func NewTracker(onTransition func(Transition), log logx.Logger, opts ...watch.Option) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Tracker{
		log:          log,
		onTransition: onTransition,
		lastKnown:    map[string]Status{},
	}
	opts = append(opts, watch.WithSeedFunc(t.seed))
	t.watcher = watch.New(t.onDelta, log, opts...)
	return t
}

// Watch attaches the tracker to an order collection.
func (t *Tracker) Watch(c docstore.Collection, q docstore.Query) error {
	return t.watcher.Watch(c, q)
}

// Stop tears the underlying subscription down. Idempotent.
func (t *Tracker) Stop() {
	t.watcher.Stop()
}

// seed records a status without emitting; used for cold-snapshot records.
func (t *Tracker) seed(doc docstore.Document) {
	st := Status(doc.Str(FieldStatus))
	if st == "" {
		return
	}
	t.mu.Lock()
	t.lastKnown[doc.ID] = st
	t.mu.Unlock()
}

func (t *Tracker) onDelta(d watch.Delta) {
	next := Status(d.Doc.Str(FieldStatus))
	if next == "" {
		return
	}

	t.mu.Lock()
	prev, known := t.lastKnown[d.ID]
	t.lastKnown[d.ID] = next
	t.mu.Unlock()

	// A record first observed here (added mid-stream, or modified while we
	// had no previous status) only seeds state.
	if !known || prev == next {
		return
	}

	t.log.Debug("order status transition",
		logx.String("order", d.ID),
		logx.String("from", string(prev)),
		logx.String("to", string(next)),
	)
	t.onTransition(Transition{ID: d.ID, Previous: prev, Next: next, Doc: d.Doc})
}
