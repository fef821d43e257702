// Package consent negotiates user permission for notification delivery.
//
// Three layers gate a delivery: the platform-level permission (owned by the
// injected Prompter), per-category enable flags (durable), and the prompt
// suppression flags — a permanent "never ask again" choice (durable) and a
// single-session dismissal (session scope). The two suppression flags are
// stored separately on purpose: the former survives restarts, the latter
// must not.
package consent

import (
	"context"
	"strings"
	"sync"

	"notifyd/internal/kvstore"
	logx "notifyd/pkg/logx"
)

// Permission is the platform-level notification permission state.
type Permission string

const (
	PermissionUnset   Permission = "unset"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Mode is the operating role the engine runs under.
type Mode string

const (
	ModeCustomer Mode = "customer"
	ModeOperator Mode = "operator"
)

// ParseMode normalizes a configured mode string. Unknown values default to
// customer, the less privileged role.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeOperator)) {
		return ModeOperator
	}
	return ModeCustomer
}

// Prompter is the platform permission surface. Request may block on user
// interaction; implementations must be context-aware.
type Prompter interface {
	State() Permission
	Request(ctx context.Context) (Permission, error)
}

const (
	keyNeverAsk         = "consent.neverask"
	keySessionDismissed = "consent.dismissed"
	keyCategoryPrefix   = "consent.category."
)

// Gate owns consent decisions. Safe for concurrent use.
type Gate struct {
	mu sync.Mutex

	prompter Prompter
	durable  kvstore.Store // may be nil
	session  kvstore.Store
	log      logx.Logger
}

func NewGate(prompter Prompter, durable, session kvstore.Store, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	if session == nil {
		session = kvstore.NewSession()
	}
	return &Gate{prompter: prompter, durable: durable, session: session, log: log}
}

// Permission returns the current platform permission state.
func (g *Gate) Permission() Permission {
	if g.prompter == nil {
		return PermissionUnset
	}
	return g.prompter.State()
}

// RequestConsent asks the platform for permission. It is idempotent: when the
// platform state is already decided it is returned directly, no prompt fires.
func (g *Gate) RequestConsent(ctx context.Context) (Permission, error) {
	if g.prompter == nil {
		return PermissionUnset, nil
	}
	if st := g.prompter.State(); st != PermissionUnset {
		return st, nil
	}
	st, err := g.prompter.Request(ctx)
	if err != nil {
		return PermissionUnset, err
	}
	return st, nil
}

// ShouldPrompt reports whether the consent prompt may be shown. True only for
// the customer role while permission is still unset and neither suppression
// flag is set.
func (g *Gate) ShouldPrompt(ctx context.Context, mode Mode) bool {
	if mode != ModeCustomer {
		return false
	}
	if g.Permission() != PermissionUnset {
		return false
	}
	if g.flag(ctx, g.durable, keyNeverAsk) {
		return false
	}
	if g.flag(ctx, g.session, keySessionDismissed) {
		return false
	}
	return true
}

// DismissForSession suppresses the prompt until the next process start.
func (g *Gate) DismissForSession(ctx context.Context) {
	g.setFlag(ctx, g.session, keySessionDismissed)
}

// NeverAskAgain permanently suppresses the prompt.
func (g *Gate) NeverAskAgain(ctx context.Context) {
	g.setFlag(ctx, g.durable, keyNeverAsk)
}

// CategoryEnabled reports whether a notification category is switched on.
// Categories default to enabled until explicitly disabled.
func (g *Gate) CategoryEnabled(ctx context.Context, category string) bool {
	if g.durable == nil {
		return true
	}
	v, ok, err := g.durable.Get(ctx, keyCategoryPrefix+category)
	if err != nil {
		g.log.Warn("category flag read failed", logx.String("category", category), logx.Err(err))
		return true
	}
	if !ok {
		return true
	}
	return v != "0"
}

// SetCategoryEnabled persists a per-category enable flag.
func (g *Gate) SetCategoryEnabled(ctx context.Context, category string, enabled bool) {
	if g.durable == nil {
		return
	}
	v := "1"
	if !enabled {
		v = "0"
	}
	if err := g.durable.Put(ctx, keyCategoryPrefix+category, v); err != nil {
		g.log.Warn("category flag write failed", logx.String("category", category), logx.Err(err))
	}
}

func (g *Gate) flag(ctx context.Context, st kvstore.Store, key string) bool {
	if st == nil {
		return false
	}
	v, ok, err := st.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	return v == "1"
}

func (g *Gate) setFlag(ctx context.Context, st kvstore.Store, key string) {
	if st == nil {
		return
	}
	if err := st.Put(ctx, key, "1"); err != nil {
		g.log.Warn("consent flag write failed", logx.String("key", key), logx.Err(err))
	}
}
