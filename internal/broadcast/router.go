// Package broadcast routes the shared operator broadcast stream: it filters
// by targeting rule and identity state, deduplicates against the persisted
// seen set, and covers offline windows with a one-shot catch-up scan.
package broadcast

import (
	"context"

	"notifyd/internal/docstore"
	"notifyd/internal/identity"
	"notifyd/internal/seenstate"
	"notifyd/internal/watch"
	logx "notifyd/pkg/logx"
)

// Router consumes the broadcast stream for one process.
//
// Dedup rule: a message id is recorded into the seen set the first time it is
// evaluated, whether or not it was allowed, so a message rejected for this
// identity is never re-evaluated. The cold snapshot seeds the seen set with
// the ids of untargeted (target=all) messages only; user-targeted ids are
// left for the catch-up scan to judge, otherwise a restart would swallow
// exactly the messages the catch-up exists to deliver.
type Router struct {
	log logx.Logger

	seen     *seenstate.Set
	provider identity.Provider
	onNotify func(Message)

	watcher *watch.Watcher
}

func NewRouter(seen *seenstate.Set, provider identity.Provider, onNotify func(Message), log logx.Logger, opts ...watch.Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:      log,
		seen:     seen,
		provider: provider,
		onNotify: onNotify,
	}
	opts = append(opts, watch.WithSeedFunc(r.seed))
	r.watcher = watch.New(r.onDelta, log, opts...)
	return r
}

// Watch attaches the live subscription: newest messages first, bounded to
// LiveWindow.
func (r *Router) Watch(c docstore.Collection) error {
	return r.watcher.Watch(c, liveQuery())
}

// Stop tears the live subscription down. Idempotent.
func (r *Router) Stop() {
	r.watcher.Stop()
}

// CatchUp scans the historical window once for messages targeted at user
// that were never evaluated, delivers them, and records their ids. A fetch
// failure is returned for logging only: the scan is skipped for this
// session, the live subscription is unaffected.
func (r *Router) CatchUp(ctx context.Context, c docstore.Collection, user identity.UserID) error {
	docs, err := c.Query(ctx, catchUpQuery())
	if err != nil {
		return err
	}
	delivered := 0
	for _, doc := range docs {
		msg := FromDoc(doc)
		if msg.Target != TargetUser || msg.TargetUserID != string(user) {
			continue
		}
		if !r.seen.Add(ctx, msg.ID) {
			continue
		}
		delivered++
		r.onNotify(msg)
	}
	if delivered > 0 {
		r.log.Info("catch-up delivered missed broadcasts", logx.Int("count", delivered), logx.String("user", string(user)))
	}
	return nil
}

// seed records cold-snapshot ids without notifying.
func (r *Router) seed(doc docstore.Document) {
	if doc.Str(FieldTarget) == TargetUser {
		return
	}
	r.seen.Add(context.Background(), doc.ID)
}

func (r *Router) onDelta(d watch.Delta) {
	// Broadcasts are immutable; a modified delta means a backfilled write and
	// is evaluated the same way.
	msg := FromDoc(d.Doc)

	// Record on first evaluation, allowed or not.
	if !r.seen.Add(context.Background(), msg.ID) {
		return
	}

	if !r.allowed(msg) {
		r.log.Debug("broadcast filtered", logx.String("id", msg.ID), logx.String("target", msg.Target))
		return
	}
	r.onNotify(msg)
}

func (r *Router) allowed(msg Message) bool {
	if msg.Target == TargetAll {
		return true
	}
	id, signedIn := r.provider.Current()
	return signedIn && msg.Target == TargetUser && msg.TargetUserID == string(id)
}
