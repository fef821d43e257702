package identity

import "testing"

type change struct {
	id       UserID
	signedIn bool
}

func record(dst *[]change) func(UserID, bool) {
	return func(id UserID, signedIn bool) {
		*dst = append(*dst, change{id, signedIn})
	}
}

func TestSwitchableStartsAnonymous(t *testing.T) {
	t.Parallel()
	p := NewSwitchable()
	if id, ok := p.Current(); ok || id != "" {
		t.Fatalf("Current() = (%q, %v), want anonymous", id, ok)
	}
}

func TestSignInNotifiesListeners(t *testing.T) {
	t.Parallel()
	p := NewSwitchable()
	var got []change
	cancel := p.OnChange(record(&got))
	defer cancel()

	p.SignIn("u-1")

	if id, ok := p.Current(); !ok || id != "u-1" {
		t.Fatalf("Current() = (%q, %v), want (u-1, true)", id, ok)
	}
	if len(got) != 1 || got[0] != (change{"u-1", true}) {
		t.Fatalf("changes = %+v", got)
	}
}

func TestRepeatedSignInSameUserIsNoOp(t *testing.T) {
	t.Parallel()
	p := NewSwitchable()
	var got []change
	cancel := p.OnChange(record(&got))
	defer cancel()

	p.SignIn("u-1")
	p.SignIn("u-1")
	if len(got) != 1 {
		t.Fatalf("changes = %+v, want a single sign-in", got)
	}

	// Switching users fires again.
	p.SignIn("u-2")
	if len(got) != 2 || got[1] != (change{"u-2", true}) {
		t.Fatalf("changes = %+v", got)
	}
}

func TestSignOut(t *testing.T) {
	t.Parallel()
	p := NewSwitchable()
	var got []change
	cancel := p.OnChange(record(&got))
	defer cancel()

	p.SignOut() // anonymous sign-out is silent
	if len(got) != 0 {
		t.Fatalf("changes = %+v, want none", got)
	}

	p.SignIn("u-1")
	p.SignOut()
	if id, ok := p.Current(); ok || id != "" {
		t.Fatalf("Current() = (%q, %v), want anonymous", id, ok)
	}
	if len(got) != 2 || got[1] != (change{"", false}) {
		t.Fatalf("changes = %+v", got)
	}
}

func TestOnChangeCancelDeregisters(t *testing.T) {
	t.Parallel()
	p := NewSwitchable()
	var got []change
	cancel := p.OnChange(record(&got))

	p.SignIn("u-1")
	cancel()
	cancel() // idempotent
	p.SignOut()
	p.SignIn("u-2")

	if len(got) != 1 {
		t.Fatalf("changes = %+v, want only the pre-cancel sign-in", got)
	}
}
