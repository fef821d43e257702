package consent

import (
	"context"
	"testing"

	"notifyd/internal/kvstore"
	logx "notifyd/pkg/logx"
)

// fakePrompter counts Request calls and flips state to the configured answer.
type fakePrompter struct {
	state    Permission
	answer   Permission
	requests int
}

func (p *fakePrompter) State() Permission { return p.state }

func (p *fakePrompter) Request(context.Context) (Permission, error) {
	p.requests++
	p.state = p.answer
	return p.state, nil
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Mode
	}{
		{"operator", ModeOperator},
		{" Operator ", ModeOperator},
		{"customer", ModeCustomer},
		{"", ModeCustomer},
		{"garbage", ModeCustomer},
	}
	for _, tt := range tests {
		if got := ParseMode(tt.raw); got != tt.want {
			t.Fatalf("ParseMode(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestRequestConsentIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &fakePrompter{state: PermissionUnset, answer: PermissionGranted}
	g := NewGate(p, kvstore.NewSession(), nil, logx.Nop())

	got, err := g.RequestConsent(ctx)
	if err != nil || got != PermissionGranted {
		t.Fatalf("first request = %s, %v", got, err)
	}
	got, err = g.RequestConsent(ctx)
	if err != nil || got != PermissionGranted {
		t.Fatalf("second request = %s, %v", got, err)
	}
	if p.requests != 1 {
		t.Fatalf("prompter asked %d times, want 1", p.requests)
	}
}

func TestShouldPrompt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("customer unset", func(t *testing.T) {
		t.Parallel()
		g := NewGate(&fakePrompter{state: PermissionUnset}, kvstore.NewSession(), nil, logx.Nop())
		if !g.ShouldPrompt(ctx, ModeCustomer) {
			t.Fatal("want prompt for customer with unset permission")
		}
	})

	t.Run("operator never prompts", func(t *testing.T) {
		t.Parallel()
		g := NewGate(&fakePrompter{state: PermissionUnset}, kvstore.NewSession(), nil, logx.Nop())
		if g.ShouldPrompt(ctx, ModeOperator) {
			t.Fatal("operator must not be prompted")
		}
	})

	t.Run("decided permission suppresses", func(t *testing.T) {
		t.Parallel()
		for _, st := range []Permission{PermissionGranted, PermissionDenied} {
			g := NewGate(&fakePrompter{state: st}, kvstore.NewSession(), nil, logx.Nop())
			if g.ShouldPrompt(ctx, ModeCustomer) {
				t.Fatalf("prompt with permission %s", st)
			}
		}
	})

	t.Run("never ask again survives reload", func(t *testing.T) {
		t.Parallel()
		durable := kvstore.NewSession()
		g := NewGate(&fakePrompter{state: PermissionUnset}, durable, nil, logx.Nop())
		g.NeverAskAgain(ctx)
		if g.ShouldPrompt(ctx, ModeCustomer) {
			t.Fatal("prompt after never-ask-again")
		}
		// A new gate over the same durable store still suppresses.
		g2 := NewGate(&fakePrompter{state: PermissionUnset}, durable, nil, logx.Nop())
		if g2.ShouldPrompt(ctx, ModeCustomer) {
			t.Fatal("never-ask-again not durable")
		}
	})

	t.Run("session dismissal resets with the session", func(t *testing.T) {
		t.Parallel()
		durable := kvstore.NewSession()
		g := NewGate(&fakePrompter{state: PermissionUnset}, durable, nil, logx.Nop())
		g.DismissForSession(ctx)
		if g.ShouldPrompt(ctx, ModeCustomer) {
			t.Fatal("prompt after session dismissal")
		}
		// A fresh gate gets a fresh session store: the dismissal is gone.
		g2 := NewGate(&fakePrompter{state: PermissionUnset}, durable, nil, logx.Nop())
		if !g2.ShouldPrompt(ctx, ModeCustomer) {
			t.Fatal("session dismissal leaked into next session")
		}
	})
}

func TestCategoryFlags(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	durable := kvstore.NewSession()
	g := NewGate(&fakePrompter{state: PermissionGranted}, durable, nil, logx.Nop())

	if !g.CategoryEnabled(ctx, "orders") {
		t.Fatal("categories must default to enabled")
	}
	g.SetCategoryEnabled(ctx, "orders", false)
	if g.CategoryEnabled(ctx, "orders") {
		t.Fatal("disabled category reported enabled")
	}
	if !g.CategoryEnabled(ctx, "broadcasts") {
		t.Fatal("flag leaked across categories")
	}
	g.SetCategoryEnabled(ctx, "orders", true)
	if !g.CategoryEnabled(ctx, "orders") {
		t.Fatal("re-enabled category reported disabled")
	}
}

func TestCategoryFlagsWithoutDurableStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGate(&fakePrompter{state: PermissionGranted}, nil, nil, logx.Nop())

	g.SetCategoryEnabled(ctx, "orders", false)
	// Without durable storage the toggle is a no-op and defaults hold.
	if !g.CategoryEnabled(ctx, "orders") {
		t.Fatal("default enabled expected without durable store")
	}
}
