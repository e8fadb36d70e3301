// Package guard is the access-control gate for the venue core: a whitelist
// of components allowed to call privileged ledger mutators, the pause and
// withdraw-disable switches, and the role sets controlling each switch.
package guard

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrDuplicateCandidate = errors.New("duplicate candidate")
	ErrNotFound           = errors.New("not found")
)

// Role gates who may flip each switch.
type Role int

const (
	RoleWhitelistAdmin Role = iota
	RolePauseController
	RoleWithdrawController
)

func (r Role) String() string {
	switch r {
	case RoleWhitelistAdmin:
		return "WhitelistAdmin"
	case RolePauseController:
		return "PauseController"
	case RoleWithdrawController:
		return "WithdrawController"
	default:
		return "Unknown"
	}
}

// Guard holds the whitelist, switches and role membership. Mutated only on
// the engine goroutine, so it carries no locking.
type Guard struct {
	log   zerolog.Logger
	owner string

	whitelist map[string]bool
	roles     map[Role]map[string]bool

	paused           bool
	withdrawDisabled bool
}

// New creates a Guard whose owner holds every role and may grant them.
func New(owner string, log zerolog.Logger) *Guard {
	g := &Guard{
		log:       log,
		owner:     owner,
		whitelist: make(map[string]bool),
		roles:     make(map[Role]map[string]bool),
	}
	for _, r := range []Role{RoleWhitelistAdmin, RolePauseController, RoleWithdrawController} {
		g.roles[r] = map[string]bool{owner: true}
	}
	return g
}

// IsOwner reports whether account is the venue owner.
func (g *Guard) IsOwner(account string) bool {
	return account == g.owner
}

// HasRole reports role membership.
func (g *Guard) HasRole(account string, role Role) bool {
	return g.roles[role][account]
}

// GrantRole adds account to role. Owner-gated.
func (g *Guard) GrantRole(caller, account string, role Role) error {
	if caller != g.owner {
		return fmt.Errorf("grant role %s: %w", role, ErrUnauthorized)
	}
	if g.roles[role][account] {
		return fmt.Errorf("grant role %s to %s: %w", role, account, ErrDuplicateCandidate)
	}
	g.roles[role][account] = true
	g.log.Info().Str("account", account).Stringer("role", role).Msg("role granted")
	return nil
}

// RevokeRole removes account from role. Owner-gated.
func (g *Guard) RevokeRole(caller, account string, role Role) error {
	if caller != g.owner {
		return fmt.Errorf("revoke role %s: %w", role, ErrUnauthorized)
	}
	if !g.roles[role][account] {
		return fmt.Errorf("revoke role %s from %s: %w", role, account, ErrNotFound)
	}
	delete(g.roles[role], account)
	g.log.Info().Str("account", account).Stringer("role", role).Msg("role revoked")
	return nil
}

// AddWhitelisted authorizes a component to call privileged mutators.
func (g *Guard) AddWhitelisted(caller, component string) error {
	if !g.HasRole(caller, RoleWhitelistAdmin) {
		return fmt.Errorf("whitelist add: %w", ErrUnauthorized)
	}
	if g.whitelist[component] {
		return fmt.Errorf("whitelist add %s: %w", component, ErrDuplicateCandidate)
	}
	g.whitelist[component] = true
	g.log.Info().Str("component", component).Msg("component whitelisted")
	return nil
}

// RemoveWhitelisted revokes a component's authorization.
func (g *Guard) RemoveWhitelisted(caller, component string) error {
	if !g.HasRole(caller, RoleWhitelistAdmin) {
		return fmt.Errorf("whitelist remove: %w", ErrUnauthorized)
	}
	if !g.whitelist[component] {
		return fmt.Errorf("whitelist remove %s: %w", component, ErrNotFound)
	}
	delete(g.whitelist, component)
	g.log.Info().Str("component", component).Msg("component removed from whitelist")
	return nil
}

// IsWhitelisted reports whether component may call privileged mutators.
func (g *Guard) IsWhitelisted(component string) bool {
	return g.whitelist[component]
}

// Pause blocks deposit/trade/liquidate/transfer/withdraw uniformly.
func (g *Guard) Pause(caller string) error {
	if !g.HasRole(caller, RolePauseController) {
		return fmt.Errorf("pause: %w", ErrUnauthorized)
	}
	g.paused = true
	g.log.Warn().Str("caller", caller).Msg("venue paused")
	return nil
}

func (g *Guard) Unpause(caller string) error {
	if !g.HasRole(caller, RolePauseController) {
		return fmt.Errorf("unpause: %w", ErrUnauthorized)
	}
	g.paused = false
	g.log.Warn().Str("caller", caller).Msg("venue unpaused")
	return nil
}

func (g *Guard) Paused() bool {
	return g.paused
}

// DisableWithdraw blocks only withdrawal, leaving trading and deposits
// functional. A narrower emergency brake than a full pause.
func (g *Guard) DisableWithdraw(caller string) error {
	if !g.HasRole(caller, RoleWithdrawController) {
		return fmt.Errorf("disable withdraw: %w", ErrUnauthorized)
	}
	g.withdrawDisabled = true
	g.log.Warn().Str("caller", caller).Msg("withdrawals disabled")
	return nil
}

func (g *Guard) EnableWithdraw(caller string) error {
	if !g.HasRole(caller, RoleWithdrawController) {
		return fmt.Errorf("enable withdraw: %w", ErrUnauthorized)
	}
	g.withdrawDisabled = false
	g.log.Warn().Str("caller", caller).Msg("withdrawals enabled")
	return nil
}

func (g *Guard) WithdrawDisabled() bool {
	return g.withdrawDisabled
}

// State is the serializable access-control state. Membership lists are
// sorted so the serialized form is deterministic.
type State struct {
	Whitelist        []string            `json:"whitelist,omitempty"`
	Roles            map[string][]string `json:"roles,omitempty"`
	Paused           bool                `json:"paused"`
	WithdrawDisabled bool                `json:"withdraw_disabled"`
}

// Snapshot captures the current access-control state.
func (g *Guard) Snapshot() State {
	st := State{
		Paused:           g.paused,
		WithdrawDisabled: g.withdrawDisabled,
		Roles:            make(map[string][]string, len(g.roles)),
	}
	for component := range g.whitelist {
		st.Whitelist = append(st.Whitelist, component)
	}
	sort.Strings(st.Whitelist)

	for role, members := range g.roles {
		var accounts []string
		for account := range members {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)
		st.Roles[role.String()] = accounts
	}
	return st
}

// Restore replaces the access-control state with a snapshot's.
func (g *Guard) Restore(st State) {
	g.paused = st.Paused
	g.withdrawDisabled = st.WithdrawDisabled

	g.whitelist = make(map[string]bool, len(st.Whitelist))
	for _, component := range st.Whitelist {
		g.whitelist[component] = true
	}

	g.roles = make(map[Role]map[string]bool)
	for _, r := range []Role{RoleWhitelistAdmin, RolePauseController, RoleWithdrawController} {
		members := map[string]bool{g.owner: true}
		for _, account := range st.Roles[r.String()] {
			members[account] = true
		}
		g.roles[r] = members
	}
}
