// Package app wires configuration, logging, storage, the delivery pipeline,
// and the notification engine into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notifyd/internal/consent"
	"notifyd/internal/delivery"
	"notifyd/internal/docstore"
	"notifyd/internal/engine"
	"notifyd/internal/eventbus"
	"notifyd/internal/identity"
	"notifyd/internal/kvstore"
	"notifyd/internal/seenstate"
	logx "notifyd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	state   kvstore.Store
	docs    docstore.Store
	gate    *consent.Gate
	ident   *identity.Switchable
	deliver *delivery.Service
	eng     *engine.Engine
}

// NewApp loads configuration and constructs every component. Nothing is
// started yet; call Start.
func NewApp(cfgPath string, prompter consent.Prompter) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode := mapMode(cfg)

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Durable kv state (optional).
	var state kvstore.Store
	if sc, enabled, err := mapStateConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := kvstore.Open(sc, log.With(logx.String("comp", "state")))
		if err != nil {
			return nil, err
		}
		state = st
		log.Info("state store enabled", logx.String("driver", sc.Driver))
	}

	session := kvstore.NewSession()
	gate := consent.NewGate(prompter, state, session, log.With(logx.String("comp", "consent")))

	// Document store.
	var docs docstore.Store
	if dc, sqlite, err := mapDocStoreConfig(cfg); err != nil {
		return nil, err
	} else if sqlite {
		ds, err := docstore.OpenSQLite(dc, log.With(logx.String("comp", "docstore")))
		if err != nil {
			return nil, err
		}
		docs = ds
	} else {
		docs = docstore.NewMem()
	}

	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	seenBroadcasts := seenstate.Load(loadCtx, state, seenstate.CategoryBroadcasts, log)
	seenProducts := seenstate.Load(loadCtx, state, seenstate.CategoryProducts, log)

	// Delivery pipeline: telegram background sink when configured, console
	// fallback always.
	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	var background delivery.Sink
	if tc, ok, err := mapTelegramConfig(cfg); err != nil {
		return nil, err
	} else if ok {
		background = delivery.NewTelegramSink(tc, log.With(logx.String("comp", "telegram")))
	}
	foreground := delivery.NewConsoleSink(log.With(logx.String("comp", "console")))
	deliver := delivery.New(dcfg, gate, background, foreground, log.With(logx.String("comp", "delivery")), bus)

	ident := identity.NewSwitchable()

	ecfg, err := mapEngineConfig(cfg, mode)
	if err != nil {
		return nil, err
	}
	eng := engine.New(ecfg, docs, ident, gate, deliver, seenBroadcasts, seenProducts,
		log.With(logx.String("comp", "engine")), bus)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		state:   state,
		docs:    docs,
		gate:    gate,
		ident:   ident,
		deliver: deliver,
		eng:     eng,
	}, nil
}

// Engine exposes the notification engine for operational surfaces (consent
// prompt, category toggles, operator broadcast publishing).
func (a *App) Engine() *engine.Engine { return a.eng }

// Identity exposes the switchable identity provider; sign-in and sign-out
// flow through it.
func (a *App) Identity() *identity.Switchable { return a.ident }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, _, err := mapStateConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapDocStoreConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDeliveryConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapTelegramConfig(cfg); err != nil {
			return err
		}
		_, err := mapEngineConfig(cfg, mapMode(cfg))
		return err
	})

	if err := a.eng.Init(a.sup.Context()); err != nil {
		return err
	}

	// Event log for observability; components publish, this just surfaces.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out. Logging applies live; storage and pipeline shape
	// need a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}

				for _, s := range sections {
					switch s {
					case "state", "docstore", "delivery", "mode", "engine":
						a.log.Warn("config section changed; restart required for changes to take effect",
							logx.String("section", s))
					}
				}

				a.logs.Apply(mapLoggingConfig(newCfg))

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("engine", 5*time.Second, func(c context.Context) error { a.eng.Destroy(c); return nil })
	step("docstore", 2*time.Second, func(context.Context) error { return a.docs.Close() })
	step("state", 1*time.Second, func(context.Context) error {
		if a.state != nil {
			return a.state.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
