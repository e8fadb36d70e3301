package guard

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newGuard() *Guard {
	return New("owner", zerolog.Nop())
}

func TestOwnerHoldsEveryRole(t *testing.T) {
	g := newGuard()
	for _, r := range []Role{RoleWhitelistAdmin, RolePauseController, RoleWithdrawController} {
		if !g.HasRole("owner", r) {
			t.Errorf("owner missing role %s", r)
		}
		if g.HasRole("stranger", r) {
			t.Errorf("stranger holds role %s", r)
		}
	}
	if !g.IsOwner("owner") || g.IsOwner("stranger") {
		t.Error("IsOwner mismatch")
	}
}

func TestGrantAndRevokeRole(t *testing.T) {
	g := newGuard()

	if err := g.GrantRole("stranger", "alice", RolePauseController); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("grant by stranger: got %v, want %v", err, ErrUnauthorized)
	}
	if err := g.GrantRole("owner", "alice", RolePauseController); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := g.GrantRole("owner", "alice", RolePauseController); !errors.Is(err, ErrDuplicateCandidate) {
		t.Errorf("double grant: got %v, want %v", err, ErrDuplicateCandidate)
	}

	if err := g.Pause("alice"); err != nil {
		t.Errorf("pause by granted controller: %v", err)
	}
	if err := g.Unpause("alice"); err != nil {
		t.Errorf("unpause: %v", err)
	}

	if err := g.RevokeRole("owner", "alice", RolePauseController); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := g.RevokeRole("owner", "alice", RolePauseController); !errors.Is(err, ErrNotFound) {
		t.Errorf("double revoke: got %v, want %v", err, ErrNotFound)
	}
	if err := g.Pause("alice"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("pause after revoke: got %v, want %v", err, ErrUnauthorized)
	}
}

func TestWhitelist(t *testing.T) {
	g := newGuard()

	if err := g.AddWhitelisted("stranger", "sys:vault"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("add by stranger: got %v, want %v", err, ErrUnauthorized)
	}
	if err := g.AddWhitelisted("owner", "sys:vault"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := g.AddWhitelisted("owner", "sys:vault"); !errors.Is(err, ErrDuplicateCandidate) {
		t.Errorf("duplicate add: got %v, want %v", err, ErrDuplicateCandidate)
	}
	if !g.IsWhitelisted("sys:vault") {
		t.Error("component not whitelisted after add")
	}

	if err := g.RemoveWhitelisted("owner", "sys:amm"); !errors.Is(err, ErrNotFound) {
		t.Errorf("remove missing: got %v, want %v", err, ErrNotFound)
	}
	if err := g.RemoveWhitelisted("owner", "sys:vault"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if g.IsWhitelisted("sys:vault") {
		t.Error("component still whitelisted after remove")
	}
}

func TestSwitches(t *testing.T) {
	g := newGuard()

	if g.Paused() || g.WithdrawDisabled() {
		t.Fatal("fresh guard has a switch flipped")
	}
	if err := g.Pause("owner"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !g.Paused() {
		t.Error("not paused after Pause")
	}
	if err := g.DisableWithdraw("owner"); err != nil {
		t.Fatalf("disable withdraw: %v", err)
	}
	if !g.WithdrawDisabled() {
		t.Error("withdrawals not disabled")
	}
	if err := g.Unpause("owner"); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := g.EnableWithdraw("owner"); err != nil {
		t.Fatalf("enable withdraw: %v", err)
	}
	if g.Paused() || g.WithdrawDisabled() {
		t.Error("switches did not reset")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	g := newGuard()
	if err := g.AddWhitelisted("owner", "sys:vault"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddWhitelisted("owner", "sys:amm"); err != nil {
		t.Fatal(err)
	}
	if err := g.GrantRole("owner", "alice", RoleWithdrawController); err != nil {
		t.Fatal(err)
	}
	if err := g.Pause("owner"); err != nil {
		t.Fatal(err)
	}

	st := g.Snapshot()

	restored := newGuard()
	restored.Restore(st)

	if !restored.Paused() || restored.WithdrawDisabled() {
		t.Error("switch state not restored")
	}
	if !restored.IsWhitelisted("sys:vault") || !restored.IsWhitelisted("sys:amm") {
		t.Error("whitelist not restored")
	}
	if !restored.HasRole("alice", RoleWithdrawController) {
		t.Error("granted role not restored")
	}
	// The owner keeps every role through a restore.
	if !restored.HasRole("owner", RoleWhitelistAdmin) {
		t.Error("owner role lost in restore")
	}
}
