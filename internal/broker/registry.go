// Package broker tracks the delegated trading agent assigned to each
// account. Broker changes commit only after a configurable delay, so an
// in-flight signed order cannot be redirected to a different broker
// between signing and execution.
package broker

import (
	"github.com/rs/zerolog"
)

// Clock supplies monotonic logical ticks (block counter). The registry
// treats it as untrusted input bounded only by monotonicity.
type Clock interface {
	Now() int64
}

type entry struct {
	previous  string
	current   string
	appliedAt int64 // tick at which current becomes active
}

// Registry resolves the active broker per account.
type Registry struct {
	log     zerolog.Logger
	clock   Clock
	entries map[string]*entry
}

func NewRegistry(clock Clock, log zerolog.Logger) *Registry {
	return &Registry{
		log:     log,
		clock:   clock,
		entries: make(map[string]*entry),
	}
}

// SetBroker records a pending broker change for account. The previously
// active broker stays authoritative until delayTicks have elapsed.
// Requesting the same pending broker again resets the delay timer; a
// different broker replaces the pending one and resets the timer.
func (r *Registry) SetBroker(account, newBroker string, delayTicks int64) {
	now := r.clock.Now()
	e, ok := r.entries[account]
	if !ok {
		e = &entry{}
		r.entries[account] = e
	}

	active := r.resolve(e, now)
	if newBroker == active {
		// Re-asserting the active broker cancels any pending change.
		e.previous = active
		e.current = active
		e.appliedAt = now
		return
	}

	e.previous = active
	e.current = newBroker
	e.appliedAt = now + delayTicks

	r.log.Info().
		Str("account", account).
		Str("broker", newBroker).
		Int64("applied_at", e.appliedAt).
		Msg("broker change pending")
}

// CurrentBroker resolves the active broker for account at the current
// tick. Empty string means no broker is assigned.
func (r *Registry) CurrentBroker(account string) string {
	e, ok := r.entries[account]
	if !ok {
		return ""
	}
	return r.resolve(e, r.clock.Now())
}

func (r *Registry) resolve(e *entry, now int64) string {
	if now >= e.appliedAt {
		return e.current
	}
	return e.previous
}

// EntryState is one account's serializable broker assignment.
type EntryState struct {
	Previous  string `json:"previous,omitempty"`
	Current   string `json:"current,omitempty"`
	AppliedAt int64  `json:"applied_at"`
}

// Snapshot captures all broker assignments, pending changes included.
func (r *Registry) Snapshot() map[string]EntryState {
	out := make(map[string]EntryState, len(r.entries))
	for account, e := range r.entries {
		out[account] = EntryState{
			Previous:  e.previous,
			Current:   e.current,
			AppliedAt: e.appliedAt,
		}
	}
	return out
}

// Restore replaces the registry contents with a snapshot's.
func (r *Registry) Restore(entries map[string]EntryState) {
	r.entries = make(map[string]*entry, len(entries))
	for account, st := range entries {
		r.entries[account] = &entry{
			previous:  st.Previous,
			current:   st.Current,
			appliedAt: st.AppliedAt,
		}
	}
}
