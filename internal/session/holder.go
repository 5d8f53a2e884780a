package session

import (
	"context"
	"sync"

	"github.com/dukerupert/pestlist/internal/model"
)

// EventKind is an auth-state transition reported by the auth service.
type EventKind string

const (
	EventInitial        EventKind = "initial"
	EventSignedIn       EventKind = "signed_in"
	EventTokenRefreshed EventKind = "token_refreshed"
	EventUserUpdated    EventKind = "user_updated"
	EventSignedOut      EventKind = "signed_out"
)

// Event is one auth-state notification. Session is nil when no account is
// signed in.
type Event struct {
	Kind    EventKind
	Session *Identity
}

// State is the current session snapshot.
type State struct {
	Account *Identity
	Profile *model.Profile
	Role    model.Role
	Loading bool
}

// Holder owns the session state of one client and notifies subscribers on
// every change. It lives from app start until sign-out resets it. The HTTP
// server resolves each request statelessly through Bootstrap; Holder is for
// long-lived clients of this package that follow auth-state events.
type Holder struct {
	bootstrap *Bootstrap

	mu     sync.Mutex
	state  State
	subs   map[int]func(State)
	nextID int
}

func NewHolder(b *Bootstrap) *Holder {
	return &Holder{
		bootstrap: b,
		state:     State{Loading: true},
		subs:      make(map[int]func(State)),
	}
}

// State returns the current snapshot.
func (h *Holder) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Subscribe registers fn for state changes and returns its cancel func.
func (h *Holder) Subscribe(fn func(State)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// HandleEvent reacts to an auth-state transition. Overlapping events for
// the same account share one profile fetch.
func (h *Holder) HandleEvent(ctx context.Context, ev Event) State {
	if ev.Kind == EventSignedOut || ev.Session == nil {
		return h.Reset()
	}

	account := *ev.Session
	h.set(func(s *State) {
		s.Account = &account
		s.Loading = true
	})

	res := h.bootstrap.Resolve(ctx, account)

	return h.set(func(s *State) {
		// A newer event switched accounts while this one was resolving.
		if s.Account == nil || s.Account.ID != account.ID {
			return
		}
		s.Profile = res.Profile
		s.Role = res.Role
		s.Loading = false
	})
}

// Reset clears the session, as on sign-out.
func (h *Holder) Reset() State {
	return h.set(func(s *State) {
		*s = State{}
	})
}

func (h *Holder) set(mutate func(*State)) State {
	h.mu.Lock()
	mutate(&h.state)
	snapshot := h.state
	subs := make([]func(State), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return snapshot
}
