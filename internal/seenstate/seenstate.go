// Package seenstate persists bounded sets of already-notified identifiers so
// restarts and offline windows do not re-notify.
package seenstate

import (
	"context"
	"encoding/json"
	"sync"

	"notifyd/internal/kvstore"
	logx "notifyd/pkg/logx"
)

// Categories partition the persisted sets.
const (
	CategoryBroadcasts = "broadcasts"
	CategoryProducts   = "products"
)

// MaxEntries bounds each category's set. Eviction is FIFO by insertion
// order: every save keeps the most recently inserted ids only.
const MaxEntries = 300

const keyPrefix = "seen."

// Set is an append-only, bounded id set for one category.
//
// Entries are never removed individually. Concurrent writers from other
// processes are not coordinated; last-write-wins is acceptable because
// losing an entry can only cause one extra notification, never a missed one.
type Set struct {
	mu    sync.Mutex
	store kvstore.Store // may be nil (memory only)
	key   string
	log   logx.Logger

	order []string
	index map[string]struct{}
}

// Load reads the persisted set for category. Malformed stored JSON is treated
// as an empty set and never surfaced to the caller.
func Load(ctx context.Context, store kvstore.Store, category string, log logx.Logger) *Set {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Set{
		store: store,
		key:   keyPrefix + category,
		log:   log,
		index: map[string]struct{}{},
	}
	if store == nil {
		return s
	}

	raw, ok, err := store.Get(ctx, s.key)
	if err != nil || !ok {
		if err != nil {
			log.Warn("seen set load failed; starting empty", logx.String("category", category), logx.Err(err))
		}
		return s
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		log.Warn("seen set corrupt; starting empty", logx.String("category", category), logx.Err(err))
		return s
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := s.index[id]; dup {
			continue
		}
		s.order = append(s.order, id)
		s.index[id] = struct{}{}
	}
	s.truncateLocked()
	return s
}

// Has reports whether id was already recorded.
func (s *Set) Has(id string) bool {
	s.mu.Lock()
	_, ok := s.index[id]
	s.mu.Unlock()
	return ok
}

// Add records id and persists the set. It reports whether the id was new.
// Persistence failures are logged, not returned: the in-memory set stays
// authoritative for the rest of the session.
func (s *Set) Add(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	if _, dup := s.index[id]; dup {
		s.mu.Unlock()
		return false
	}
	s.order = append(s.order, id)
	s.index[id] = struct{}{}
	s.truncateLocked()
	err := s.saveLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("seen set save failed", logx.String("key", s.key), logx.Err(err))
	}
	return true
}

// Len returns the current number of recorded ids.
func (s *Set) Len() int {
	s.mu.Lock()
	n := len(s.order)
	s.mu.Unlock()
	return n
}

// Flush persists the current set. Used by the periodic maintenance job as a
// safety net behind the synchronous saves in Add.
func (s *Set) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Set) truncateLocked() {
	if len(s.order) <= MaxEntries {
		return
	}
	drop := s.order[:len(s.order)-MaxEntries]
	for _, id := range drop {
		delete(s.index, id)
	}
	s.order = append([]string(nil), s.order[len(s.order)-MaxEntries:]...)
}

func (s *Set) saveLocked(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	b, err := json.Marshal(s.order)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, s.key, string(b))
}
