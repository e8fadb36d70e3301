package broker

import (
	"testing"

	"github.com/rs/zerolog"
)

type stubClock struct {
	tick int64
}

func (c *stubClock) Now() int64 { return c.tick }

func newRegistry(tick int64) (*Registry, *stubClock) {
	clock := &stubClock{tick: tick}
	return NewRegistry(clock, zerolog.Nop()), clock
}

func TestUnassignedAccountHasNoBroker(t *testing.T) {
	r, _ := newRegistry(100)
	if got := r.CurrentBroker("alice"); got != "" {
		t.Errorf("broker = %q, want empty", got)
	}
}

func TestBrokerChangeAppliesAfterDelay(t *testing.T) {
	r, clock := newRegistry(100)

	r.SetBroker("alice", "broker-a", 2)
	if got := r.CurrentBroker("alice"); got != "" {
		t.Errorf("broker at tick 100 = %q, want empty during delay", got)
	}

	clock.tick = 101
	if got := r.CurrentBroker("alice"); got != "" {
		t.Errorf("broker at tick 101 = %q, want empty during delay", got)
	}

	clock.tick = 102
	if got := r.CurrentBroker("alice"); got != "broker-a" {
		t.Errorf("broker at tick 102 = %q, want broker-a", got)
	}
}

func TestReplacementResetsTimer(t *testing.T) {
	r, clock := newRegistry(100)

	r.SetBroker("alice", "broker-a", 2)
	clock.tick = 101
	r.SetBroker("alice", "broker-b", 2)

	// broker-a never activated; the pending change now points at b.
	clock.tick = 102
	if got := r.CurrentBroker("alice"); got != "" {
		t.Errorf("broker at tick 102 = %q, want empty", got)
	}
	clock.tick = 103
	if got := r.CurrentBroker("alice"); got != "broker-b" {
		t.Errorf("broker at tick 103 = %q, want broker-b", got)
	}
}

func TestReassertingActiveBrokerCancelsPending(t *testing.T) {
	r, clock := newRegistry(100)

	r.SetBroker("alice", "broker-a", 2)
	clock.tick = 102
	if got := r.CurrentBroker("alice"); got != "broker-a" {
		t.Fatalf("broker = %q, want broker-a", got)
	}

	// A pending switch to b, cancelled by re-asserting a.
	clock.tick = 103
	r.SetBroker("alice", "broker-b", 2)
	r.SetBroker("alice", "broker-a", 2)

	clock.tick = 110
	if got := r.CurrentBroker("alice"); got != "broker-a" {
		t.Errorf("broker = %q, want broker-a after cancel", got)
	}
}

func TestAccountsAreIndependent(t *testing.T) {
	r, clock := newRegistry(100)

	r.SetBroker("alice", "broker-a", 0)
	r.SetBroker("bob", "broker-b", 5)

	if got := r.CurrentBroker("alice"); got != "broker-a" {
		t.Errorf("alice broker = %q, want broker-a with zero delay", got)
	}
	if got := r.CurrentBroker("bob"); got != "" {
		t.Errorf("bob broker = %q, want empty during delay", got)
	}
	clock.tick = 105
	if got := r.CurrentBroker("bob"); got != "broker-b" {
		t.Errorf("bob broker = %q, want broker-b", got)
	}
}

func TestSnapshotRestoreKeepsPendingChanges(t *testing.T) {
	r, clock := newRegistry(100)
	r.SetBroker("alice", "broker-a", 2)
	clock.tick = 102
	r.SetBroker("alice", "broker-b", 2)

	snap := r.Snapshot()

	restored := NewRegistry(clock, zerolog.Nop())
	restored.Restore(snap)

	clock.tick = 103
	if got := restored.CurrentBroker("alice"); got != "broker-a" {
		t.Errorf("broker at tick 103 = %q, want broker-a before pending applies", got)
	}
	clock.tick = 104
	if got := restored.CurrentBroker("alice"); got != "broker-b" {
		t.Errorf("broker at tick 104 = %q, want broker-b", got)
	}
}
