package engine

import (
	"context"
	"time"

	"notifyd/internal/broadcast"
	"notifyd/internal/consent"
	"notifyd/internal/delivery"
	"notifyd/internal/docstore"
	"notifyd/internal/eventbus"
	"notifyd/internal/identity"
	"notifyd/internal/orders"
	"notifyd/internal/watch"
	logx "notifyd/pkg/logx"
)

// attachCustomerWatches starts the identity-independent customer
// subscriptions: the product catalog watch and the broadcast live stream.
// Owner-scoped order tracking attaches per sign-in in onIdentityChange.
func (e *Engine) attachCustomerWatches() error {
	coll := e.store.Collection(CollectionProducts)
	w := watch.New(e.onProductDelta, e.log.With(logx.String("watch", CollectionProducts)),
		watch.WithBus(e.bus),
		e.resubscribeOption(func() *watch.Watcher {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.catalogWatch
		}, coll, catalogQuery()),
	)
	if err := w.Watch(coll, catalogQuery()); err != nil {
		return err
	}

	r := broadcast.NewRouter(e.seenBroadcasts, e.provider, e.onBroadcast,
		e.log.With(logx.String("watch", broadcast.CollectionName)),
		watch.WithBus(e.bus),
	)
	if err := r.Watch(e.store.Collection(broadcast.CollectionName)); err != nil {
		w.Stop()
		return err
	}

	e.mu.Lock()
	e.catalogWatch = w
	e.router = r
	e.mu.Unlock()
	return nil
}

// attachOperatorWatch starts the cross-customer order feed. Operators are
// told about new orders only; status transitions are customer-facing.
func (e *Engine) attachOperatorWatch() error {
	coll := e.store.Collection(CollectionOrders)
	w := watch.New(e.onOperatorOrderDelta, e.log.With(logx.String("watch", CollectionOrders)),
		watch.WithBus(e.bus),
		e.resubscribeOption(func() *watch.Watcher {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.operatorWatch
		}, coll, operatorQuery()),
	)
	if err := w.Watch(coll, operatorQuery()); err != nil {
		return err
	}

	e.mu.Lock()
	e.operatorWatch = w
	e.mu.Unlock()
	return nil
}

// resubscribeOption returns a WithErrorFunc that re-attaches the watcher
// after a delay when the resubscribe policy is on, and a no-op error hook
// otherwise. The getter re-reads the watcher from engine state so a retry
// scheduled before Destroy finds nil and gives up.
func (e *Engine) resubscribeOption(get func() *watch.Watcher, c docstore.Collection, q docstore.Query) watch.Option {
	return watch.WithErrorFunc(func(err error) {
		if !e.cfg.Resubscribe {
			return
		}
		time.AfterFunc(e.cfg.ResubscribeDelay, func() {
			w := get()
			if w == nil {
				return
			}
			if err := w.Watch(c, q); err != nil {
				e.log.Warn("resubscribe failed", logx.String("collection", c.Name()), logx.Err(err))
				return
			}
			e.log.Info("resubscribed after stream failure", logx.String("collection", c.Name()))
		})
	})
}

// onIdentityChange tears down owner-scoped subscriptions synchronously, then
// resolves the new identity's owner record in the background. The generation
// captured before the resolution guards attachment: if the identity changed
// again while the query ran, the stale attachment is abandoned.
func (e *Engine) onIdentityChange(id identity.UserID, signedIn bool) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.gen++
	gen := e.gen
	tracker := e.tracker
	e.tracker = nil
	e.mu.Unlock()

	if tracker != nil {
		tracker.Stop()
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeIdentityChanged, Data: string(id)})
	}
	if !signedIn || e.cfg.Mode == consent.ModeOperator {
		return
	}

	go e.attachOwner(gen, id)
}

// attachOwner resolves the customer record for id, attaches a fresh order
// tracker scoped to it, and runs the broadcast catch-up scan. Every step
// re-checks the identity generation before mutating engine state.
func (e *Engine) attachOwner(gen uint64, id identity.UserID) {
	ctx, cancel := context.WithTimeout(e.runCtx, 15*time.Second)
	defer cancel()

	ownerID, err := e.resolveOwner(ctx, id)
	if err != nil {
		e.log.Warn("owner resolution failed; order tracking disabled for this session",
			logx.String("user", string(id)), logx.Err(err))
		return
	}
	if ownerID == "" {
		// No customer record. Catalog and broadcast streams still run;
		// there are simply no orders to track.
		e.log.Debug("no owner record for identity", logx.String("user", string(id)))
	} else {
		tracker := orders.NewTracker(e.onTransition,
			e.log.With(logx.String("watch", CollectionOrders), logx.String("owner", ownerID)),
			watch.WithBus(e.bus),
		)
		q := docstore.Query{
			Filters: []docstore.Filter{{Field: FieldOwner, Value: ownerID}},
			OrderBy: FieldCreatedAt,
			Desc:    true,
		}

		e.mu.Lock()
		if !e.started || gen != e.gen {
			e.mu.Unlock()
			return
		}
		e.tracker = tracker
		e.mu.Unlock()

		if err := tracker.Watch(e.store.Collection(CollectionOrders), q); err != nil {
			e.log.Warn("order tracker attach failed", logx.String("owner", ownerID), logx.Err(err))
		}
	}

	e.mu.Lock()
	router := e.router
	stale := !e.started || gen != e.gen
	e.mu.Unlock()
	if stale || router == nil {
		return
	}
	if err := router.CatchUp(ctx, e.store.Collection(broadcast.CollectionName), id); err != nil {
		e.log.Warn("broadcast catch-up skipped", logx.Err(err))
	}
}

// resolveOwner maps an auth identity onto its customer record id. An empty
// id with nil error means no record exists.
func (e *Engine) resolveOwner(ctx context.Context, id identity.UserID) (string, error) {
	docs, err := e.store.Collection(CollectionCustomers).Query(ctx, docstore.Query{
		Filters: []docstore.Filter{{Field: FieldCustomerUID, Value: string(id)}},
		Limit:   1,
	})
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	return docs[0].ID, nil
}

func (e *Engine) onTransition(t orders.Transition) {
	title, body, ok := t.Copy()
	if !ok {
		return
	}
	e.notify(delivery.Notification{
		Category: CategoryOrders,
		Title:    title,
		Body:     body,
		DedupTag: "order_" + t.ID,
	})
}

// onProductDelta announces newly added catalog products once per product id,
// across restarts, via the persisted seen set. Modifications are not news.
func (e *Engine) onProductDelta(d watch.Delta) {
	if d.Kind != watch.DeltaAdded {
		return
	}
	if !e.seenProducts.Add(e.runCtx, d.ID) {
		return
	}
	name := d.Doc.Str(FieldProductName)
	if name == "" {
		name = d.ID
	}
	e.notify(delivery.Notification{
		Category: CategoryProducts,
		Title:    "New product",
		Body:     name + " just landed in the catalog.",
		DedupTag: "product_" + d.ID,
	})
}

func (e *Engine) onOperatorOrderDelta(d watch.Delta) {
	if d.Kind != watch.DeltaAdded {
		return
	}
	e.notify(delivery.Notification{
		Category: CategoryOrders,
		Title:    "New order",
		Body:     "Order " + d.ID + " was placed.",
		DedupTag: "order_" + d.ID,
	})
}

func (e *Engine) onBroadcast(msg broadcast.Message) {
	e.notify(delivery.Notification{
		Category: CategoryBroadcasts,
		Title:    msg.Title,
		Body:     msg.Body,
		URL:      msg.URL,
		DedupTag: "broadcast_" + msg.ID,
	})
}

func (e *Engine) notify(n delivery.Notification) {
	if err := e.deliver.Notify(e.runCtx, n); err != nil {
		e.log.Warn("notification dropped", logx.String("tag", n.DedupTag), logx.Err(err))
	}
}

func catalogQuery() docstore.Query {
	return docstore.Query{OrderBy: FieldCreatedAt, Desc: true}
}

func operatorQuery() docstore.Query {
	return docstore.Query{OrderBy: FieldCreatedAt, Desc: true}
}
