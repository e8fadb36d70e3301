package vault

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpvenue/internal/config"
	"perpvenue/internal/fixmath"
	"perpvenue/internal/guard"
	"perpvenue/internal/perpetual"
)

const tokenAddr = "0xusd"

type tokenFixture struct {
	vault  *Vault
	ledger *perpetual.Ledger
	asset  *TokenAsset
	clock  *stubClock
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	g := guard.New("owner", zerolog.Nop())
	require.NoError(t, g.AddWhitelisted("owner", vaultID))

	ledger := perpetual.NewLedger(config.DefaultGovernance(), g, zerolog.Nop())
	asset := NewTokenAsset(vaultID, tokenAddr)
	scaler, err := NewScaler(0)
	require.NoError(t, err)
	clock := &stubClock{tick: 100}
	mark := &stubMark{price: fixmath.MustParse("7000")}

	v := New(vaultID, 0, ledger, g, asset, scaler, mark, clock, zerolog.Nop())
	return &tokenFixture{vault: v, ledger: ledger, asset: asset, clock: clock}
}

func TestTokenTransferFromEnforcesAllowance(t *testing.T) {
	a := NewTokenAsset(vaultID, tokenAddr)
	a.Mint("alice", fixmath.MustParse("100"))

	// No approval, no pull.
	ok, err := a.TransferFrom("alice", vaultID, fixmath.MustParse("10"))
	require.NoError(t, err)
	assert.False(t, ok)

	a.Approve("alice", fixmath.MustParse("50"))
	ok, err = a.TransferFrom("alice", vaultID, fixmath.MustParse("60"))
	require.NoError(t, err)
	assert.False(t, ok, "pull over the approval")

	ok, err = a.TransferFrom("alice", vaultID, fixmath.MustParse("50"))
	require.NoError(t, err)
	assert.True(t, ok)

	// The approval is spent, a second pull fails.
	ok, err = a.TransferFrom("alice", vaultID, fixmath.One)
	require.NoError(t, err)
	assert.False(t, ok)

	balance, err := a.BalanceOf(vaultID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(fixmath.MustParse("50")))
}

func TestTokenAllowanceIsSpenderScoped(t *testing.T) {
	a := NewTokenAsset(vaultID, tokenAddr)
	a.Approve("alice", fixmath.MustParse("25"))

	al, err := a.Allowance("alice", vaultID)
	require.NoError(t, err)
	assert.True(t, al.Equal(fixmath.MustParse("25")))

	al, err = a.Allowance("alice", "mallory")
	require.NoError(t, err)
	assert.True(t, al.IsZero())
}

func TestTokenDepositAndWithdraw(t *testing.T) {
	f := newTokenFixture(t)

	// The attested credit carries the approval for the pull.
	require.NoError(t, f.vault.Deposit("alice", fixmath.MustParse("100")))

	assert.True(t, f.ledger.Account("alice").CashBalance.Equal(fixmath.MustParse("100")))
	assert.True(t, f.vault.Balance().Equal(fixmath.MustParse("100")))

	held, err := f.asset.BalanceOf(vaultID)
	require.NoError(t, err)
	assert.True(t, held.Equal(fixmath.MustParse("100")))

	al, err := f.asset.Allowance("alice", vaultID)
	require.NoError(t, err)
	assert.True(t, al.IsZero(), "the deposit consumed its approval")

	require.NoError(t, f.vault.Withdraw("alice", fixmath.MustParse("40")))
	out, err := f.asset.BalanceOf("alice")
	require.NoError(t, err)
	assert.True(t, out.Equal(fixmath.MustParse("40")))
	assert.True(t, f.vault.Balance().Equal(fixmath.MustParse("60")))
}

func TestTokenSnapshotRestoreRoundTrip(t *testing.T) {
	f := newTokenFixture(t)
	require.NoError(t, f.vault.Deposit("alice", fixmath.MustParse("100")))
	f.asset.Approve("bob", fixmath.MustParse("5"))

	st := f.vault.Snapshot()

	g2 := newTokenFixture(t)
	g2.vault.Restore(st)

	assert.True(t, g2.vault.Balance().Equal(fixmath.MustParse("100")))
	held, err := g2.asset.BalanceOf(vaultID)
	require.NoError(t, err)
	assert.True(t, held.Equal(fixmath.MustParse("100")))

	al, err := g2.asset.Allowance("bob", vaultID)
	require.NoError(t, err)
	assert.True(t, al.Equal(fixmath.MustParse("5")))
}
