// Package watch reduces the live snapshots of one collection into a stream of
// record-level deltas, suppressing the synthetic "everything is new" delta of
// the first snapshot after subscribing.
package watch

import (
	"errors"
	"sync"

	"notifyd/internal/docstore"
	"notifyd/internal/eventbus"
	logx "notifyd/pkg/logx"
)

var ErrWatcherStopped = errors.New("watcher stopped")

type DeltaKind string

const (
	DeltaAdded    DeltaKind = "added"
	DeltaModified DeltaKind = "modified"
)

// Delta is one change between two consecutive snapshots.
type Delta struct {
	ID   string
	Kind DeltaKind
	Doc  docstore.Document
}

// Watcher wraps a single live subscription and emits Deltas.
//
// The first snapshot observed after Watch seeds the known-record map and
// emits nothing; that holds across re-Watch calls on the same Watcher, so a
// reconnect never replays pre-existing state as fresh deltas. Stop is
// idempotent. All callbacks run on the store's delivery goroutine.
type Watcher struct {
	log logx.Logger
	bus eventbus.Bus

	onDelta func(Delta)
	onSeed  func(docstore.Document)
	onError func(error)

	mu      sync.Mutex
	gen     uint64
	stopped bool
	primed  bool
	known   map[string]int64 // id -> last seen version
	sub     docstore.Subscription
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithBus publishes watch lifecycle events to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(w *Watcher) { w.bus = bus }
}

// WithErrorFunc installs fn, called once when the underlying subscription
// fails mid-stream. The watcher emits no further deltas after that.
func WithErrorFunc(fn func(error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// WithSeedFunc installs fn, called for every record of a suppressed initial
// snapshot. Specializations use it to prime per-record state (for example a
// last-known-status map) without treating pre-existing records as events.
func WithSeedFunc(fn func(docstore.Document)) Option {
	return func(w *Watcher) { w.onSeed = fn }
}

func New(onDelta func(Delta), log logx.Logger, opts ...Option) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Watcher{
		log:     log,
		onDelta: onDelta,
		known:   map[string]int64{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch subscribes to c with q. Calling Watch on an already watching Watcher
// first tears the previous subscription down; the known-record map carries
// over so the next initial snapshot cannot re-notify.
func (w *Watcher) Watch(c docstore.Collection, q docstore.Query) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrWatcherStopped
	}
	if w.sub != nil {
		w.sub.Stop()
		w.sub = nil
	}
	w.gen++
	gen := w.gen
	w.mu.Unlock()

	sub, err := c.Subscribe(q, func(snap docstore.Snapshot, err error) {
		w.onSnapshot(gen, snap, err)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.stopped || gen != w.gen {
		// Stopped or re-watched while subscribing.
		w.mu.Unlock()
		sub.Stop()
		return nil
	}
	w.sub = sub
	w.mu.Unlock()

	if w.bus != nil {
		w.bus.Publish(eventbus.Event{Type: eventbus.TypeWatchStarted, Data: c.Name()})
	}
	return nil
}

// Stop tears the subscription down. Safe to call multiple times; after the
// first call returns, no callback mutates watcher state again.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.gen++
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	if w.bus != nil {
		w.bus.Publish(eventbus.Event{Type: eventbus.TypeWatchStopped})
	}
}

func (w *Watcher) onSnapshot(gen uint64, snap docstore.Snapshot, err error) {
	w.mu.Lock()
	if w.stopped || gen != w.gen {
		// Late callback from a stale subscription generation.
		w.mu.Unlock()
		return
	}

	if err != nil {
		// Subscription failed mid-stream; stop emitting. Resumption is the
		// caller's decision.
		w.gen++
		w.sub = nil
		onError := w.onError
		w.mu.Unlock()

		w.log.Warn("live subscription failed", logx.Err(err))
		if w.bus != nil {
			w.bus.Publish(eventbus.Event{Type: eventbus.TypeWatchError, Data: err.Error()})
		}
		if onError != nil {
			onError(err)
		}
		return
	}

	deltas, seeds := w.reduceLocked(snap)
	onDelta := w.onDelta
	onSeed := w.onSeed
	w.mu.Unlock()

	if onSeed != nil {
		for _, d := range seeds {
			onSeed(d)
		}
	}
	for _, d := range deltas {
		onDelta(d)
	}
}

// reduceLocked diffs snap against the known map and updates it. Records of a
// suppressed initial snapshot come back as seeds instead of deltas.
func (w *Watcher) reduceLocked(snap docstore.Snapshot) (deltas []Delta, seeds []docstore.Document) {
	present := make(map[string]struct{}, len(snap.Docs))
	for _, d := range snap.Docs {
		present[d.ID] = struct{}{}
		prev, ok := w.known[d.ID]
		w.known[d.ID] = d.Version
		if !w.primed {
			seeds = append(seeds, d)
			continue
		}
		switch {
		case !ok:
			deltas = append(deltas, Delta{ID: d.ID, Kind: DeltaAdded, Doc: d})
		case prev != d.Version:
			deltas = append(deltas, Delta{ID: d.ID, Kind: DeltaModified, Doc: d})
		}
	}
	// Records that left the result window stop being tracked; if one comes
	// back later it counts as added again.
	for id := range w.known {
		if _, ok := present[id]; !ok {
			delete(w.known, id)
		}
	}
	w.primed = true
	return deltas, seeds
}
