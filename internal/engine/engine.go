package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"notifyd/internal/broadcast"
	"notifyd/internal/consent"
	"notifyd/internal/delivery"
	"notifyd/internal/docstore"
	"notifyd/internal/eventbus"
	"notifyd/internal/identity"
	"notifyd/internal/orders"
	"notifyd/internal/seenstate"
	"notifyd/internal/watch"
	logx "notifyd/pkg/logx"
)

// Collection names the engine reads.
const (
	CollectionOrders    = "orders"
	CollectionProducts  = "products"
	CollectionCustomers = "customers"
)

// Order/customer document fields.
const (
	FieldOwner       = "customerId"
	FieldCustomerUID = "uid"
	FieldProductName = "name"
	FieldCreatedAt   = "createdAt"
)

// Notification categories, shared with the consent gate's per-category flags.
const (
	CategoryOrders     = "orders"
	CategoryProducts   = seenstate.CategoryProducts
	CategoryBroadcasts = seenstate.CategoryBroadcasts
)

// Config controls the orchestrator.
type Config struct {
	Mode consent.Mode

	// Resubscribe re-attaches a live watch after a mid-stream failure, after
	// ResubscribeDelay. Off by default: the store contract does not promise
	// that resubscribing a failed stream can succeed.
	Resubscribe      bool
	ResubscribeDelay time.Duration

	// FlushSchedule is a cron spec for the periodic seen-state flush.
	// Empty disables the job (saves still happen synchronously on append).
	FlushSchedule string
}

// Engine wires watchers, router, consent gate, and delivery pipeline per
// operating mode, and owns the subscription lifecycle tied to identity
// changes.
type Engine struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	store    docstore.Store
	provider identity.Provider
	gate     *consent.Gate
	deliver  *delivery.Service

	seenBroadcasts *seenstate.Set
	seenProducts   *seenstate.Set

	mu      sync.Mutex
	started bool
	// gen counts identity generations. Owner-scoped work captures the
	// current value and re-checks it before touching engine state, so a
	// slow owner resolution can never attach to a newer identity's session.
	gen uint64

	cancelIdentity func()
	router         *broadcast.Router
	catalogWatch   *watch.Watcher
	operatorWatch  *watch.Watcher
	tracker        *orders.Tracker

	cron *cron.Cron

	publisher *broadcast.Publisher

	// runCtx outlives Init's caller; notifications fire from store callbacks.
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, store docstore.Store, provider identity.Provider, gate *consent.Gate, deliver *delivery.Service, seenBroadcasts, seenProducts *seenstate.Set, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = 5 * time.Second
	}
	return &Engine{
		cfg:            cfg,
		log:            log,
		bus:            bus,
		store:          store,
		provider:       provider,
		gate:           gate,
		deliver:        deliver,
		seenBroadcasts: seenBroadcasts,
		seenProducts:   seenProducts,
	}
}

// Init starts the engine. Startup order matters: the seen sets were loaded by
// the caller before construction, the delivery pipeline registers its
// background sink first (best-effort), then the identity listener attaches,
// then the role branch subscribes.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.runCtx, e.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	e.deliver.Start(ctx)

	cancel := e.provider.OnChange(e.onIdentityChange)
	e.mu.Lock()
	e.cancelIdentity = cancel
	e.mu.Unlock()

	switch e.cfg.Mode {
	case consent.ModeOperator:
		pub := broadcast.NewPublisher(e.store.Collection(broadcast.CollectionName), e.log.With(logx.String("comp", "publisher")))
		e.mu.Lock()
		e.publisher = pub
		e.mu.Unlock()
		if err := e.attachOperatorWatch(); err != nil {
			return err
		}
	default:
		if err := e.attachCustomerWatches(); err != nil {
			return err
		}
	}

	// Catch up and attach owner-scoped work if an identity is already
	// resolved at startup.
	if id, ok := e.provider.Current(); ok {
		e.onIdentityChange(id, true)
	}

	if e.cfg.FlushSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(e.cfg.FlushSchedule, e.flushSeenState); err != nil {
			e.log.Warn("invalid flush schedule; periodic flush disabled", logx.String("spec", e.cfg.FlushSchedule), logx.Err(err))
		} else {
			c.Start()
			e.mu.Lock()
			e.cron = c
			e.mu.Unlock()
		}
	}

	e.log.Info("engine started", logx.String("mode", string(e.cfg.Mode)))
	return nil
}

// Destroy releases every live subscription, the identity listener, the
// maintenance schedule, and drains the delivery pipeline. Idempotent.
func (e *Engine) Destroy(ctx context.Context) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.gen++
	cancelIdentity := e.cancelIdentity
	e.cancelIdentity = nil
	router := e.router
	catalog := e.catalogWatch
	operator := e.operatorWatch
	tracker := e.tracker
	e.router = nil
	e.catalogWatch = nil
	e.operatorWatch = nil
	e.tracker = nil
	e.publisher = nil
	c := e.cron
	e.cron = nil
	runCancel := e.runCancel
	e.mu.Unlock()

	if cancelIdentity != nil {
		cancelIdentity()
	}
	if tracker != nil {
		tracker.Stop()
	}
	if router != nil {
		router.Stop()
	}
	if catalog != nil {
		catalog.Stop()
	}
	if operator != nil {
		operator.Stop()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	e.flushSeenState()
	e.deliver.Stop(ctx)
	if runCancel != nil {
		runCancel()
	}
	e.log.Info("engine stopped")
}

// RequestConsentPrompt manually triggers the consent prompt, honoring the
// gate's suppression rules.
func (e *Engine) RequestConsentPrompt(ctx context.Context) (consent.Permission, error) {
	if !e.gate.ShouldPrompt(ctx, e.cfg.Mode) {
		return e.gate.Permission(), nil
	}
	return e.gate.RequestConsent(ctx)
}

func (e *Engine) IsCategoryEnabled(ctx context.Context, category string) bool {
	return e.gate.CategoryEnabled(ctx, category)
}

func (e *Engine) SetCategoryEnabled(ctx context.Context, category string, enabled bool) {
	e.gate.SetCategoryEnabled(ctx, category, enabled)
}

// PublishBroadcast emits an operator broadcast. Only valid in operator mode.
func (e *Engine) PublishBroadcast(ctx context.Context, msg broadcast.Message) (string, error) {
	e.mu.Lock()
	pub := e.publisher
	e.mu.Unlock()
	if pub == nil {
		return "", errors.New("broadcasts can only be published in operator mode")
	}
	by, _ := e.provider.Current()
	return pub.Publish(ctx, msg, by)
}

// DeliveryHistory exposes the recent deliveries for status surfaces.
func (e *Engine) DeliveryHistory() []delivery.HistoryItem {
	return e.deliver.Snapshot()
}

func (e *Engine) flushSeenState() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.seenBroadcasts.Flush(ctx); err != nil {
		e.log.Warn("seen broadcasts flush failed", logx.Err(err))
	}
	if err := e.seenProducts.Flush(ctx); err != nil {
		e.log.Warn("seen products flush failed", logx.Err(err))
	}
}
