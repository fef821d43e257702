// Package identity is the identity-provider collaborator: a current, possibly
// absent user reference plus change notification.
package identity

import "sync"

// UserID is an opaque stable user reference.
type UserID string

// Provider exposes the current identity and change registration. The second
// return is false while anonymous.
type Provider interface {
	Current() (UserID, bool)
	// OnChange registers fn, invoked on every sign-in and sign-out. The
	// returned cancel deregisters fn and is idempotent.
	OnChange(fn func(id UserID, signedIn bool)) (cancel func())
}

// Switchable is a Provider with programmatic SignIn/SignOut, used by the
// daemon wiring and tests. Listeners run synchronously on the calling
// goroutine, matching the engine's single-threaded callback model.
type Switchable struct {
	mu        sync.Mutex
	id        UserID
	signedIn  bool
	listeners map[int]func(UserID, bool)
	nextKey   int
}

func NewSwitchable() *Switchable {
	return &Switchable{listeners: map[int]func(UserID, bool){}}
}

func (s *Switchable) Current() (UserID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.signedIn
}

func (s *Switchable) OnChange(fn func(UserID, bool)) func() {
	s.mu.Lock()
	key := s.nextKey
	s.nextKey++
	s.listeners[key] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, key)
			s.mu.Unlock()
		})
	}
}

// SignIn sets the identity and notifies listeners. A repeated sign-in with
// the same id is a no-op.
func (s *Switchable) SignIn(id UserID) {
	s.mu.Lock()
	if s.signedIn && s.id == id {
		s.mu.Unlock()
		return
	}
	s.id = id
	s.signedIn = true
	fns := s.snapshotLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(id, true)
	}
}

// SignOut clears the identity and notifies listeners.
func (s *Switchable) SignOut() {
	s.mu.Lock()
	if !s.signedIn {
		s.mu.Unlock()
		return
	}
	s.id = ""
	s.signedIn = false
	fns := s.snapshotLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn("", false)
	}
}

func (s *Switchable) snapshotLocked() []func(UserID, bool) {
	fns := make([]func(UserID, bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}
