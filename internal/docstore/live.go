package docstore

import (
	"sync"
)

// liveSet owns the live subscriptions of one collection.
//
// Delivery happens synchronously under deliverMu, which gives each
// subscription strictly ordered snapshots and makes Stop() a hard barrier:
// once Stop returns, the callback cannot run again. No ordering is promised
// across different subscriptions.
type liveSet struct {
	deliverMu sync.Mutex
	subs      []*liveSub
}

type liveSub struct {
	set *liveSet

	q  Query
	fn SnapshotFunc

	// known maps id -> version of the last delivered snapshot.
	known   map[string]int64
	primed  bool
	stopped bool
	failed  bool

	stopOnce sync.Once
}

func (s *liveSub) Stop() {
	s.stopOnce.Do(func() {
		s.set.deliverMu.Lock()
		s.stopped = true
		for i, cur := range s.set.subs {
			if cur == s {
				last := len(s.set.subs) - 1
				s.set.subs[i] = s.set.subs[last]
				s.set.subs[last] = nil
				s.set.subs = s.set.subs[:last]
				break
			}
		}
		s.set.deliverMu.Unlock()
	})
}

// subscribe registers fn and synchronously delivers the initial snapshot
// computed from docs.
func (ls *liveSet) subscribe(q Query, fn SnapshotFunc, docs []Document) Subscription {
	sub := &liveSub{set: ls, q: q, fn: fn, known: map[string]int64{}}

	ls.deliverMu.Lock()
	ls.subs = append(ls.subs, sub)
	ls.deliverOne(sub, docs)
	ls.deliverMu.Unlock()

	return sub
}

// broadcast recomputes every live query against docs and delivers annotated
// snapshots to the subscriptions whose result sets changed.
func (ls *liveSet) broadcast(docs []Document) {
	ls.deliverMu.Lock()
	// Copy: a callback may Stop() its own subscription mid-iteration.
	subs := append([]*liveSub(nil), ls.subs...)
	for _, sub := range subs {
		ls.deliverOne(sub, docs)
	}
	ls.deliverMu.Unlock()
}

// fail terminates every subscription with err. Mirrors a store-side stream
// error: subscribers get exactly one error callback and nothing after.
func (ls *liveSet) fail(err error) {
	ls.deliverMu.Lock()
	subs := ls.subs
	ls.subs = nil
	for _, sub := range subs {
		if sub.stopped || sub.failed {
			continue
		}
		sub.failed = true
		sub.fn(Snapshot{}, err)
	}
	ls.deliverMu.Unlock()
}

// deliverOne is called with deliverMu held.
func (ls *liveSet) deliverOne(sub *liveSub, docs []Document) {
	if sub.stopped || sub.failed {
		return
	}

	result := evalQuery(docs, sub.q)

	var changes []Change
	next := make(map[string]int64, len(result))
	for _, d := range result {
		next[d.ID] = d.Version
		prev, ok := sub.known[d.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: ChangeAdded, Doc: d})
		case prev != d.Version:
			changes = append(changes, Change{Kind: ChangeModified, Doc: d})
		}
	}
	for id := range sub.known {
		if _, ok := next[id]; !ok {
			changes = append(changes, Change{Kind: ChangeRemoved, Doc: Document{ID: id}})
		}
	}

	initial := !sub.primed
	if !initial && len(changes) == 0 {
		// Result set unchanged; skip the redundant snapshot.
		return
	}

	sub.known = next
	sub.primed = true
	sub.fn(Snapshot{Docs: result, Changes: changes, Initial: initial}, nil)
}
