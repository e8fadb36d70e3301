package amm

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpvenue/internal/config"
	"perpvenue/internal/fixmath"
	"perpvenue/internal/guard"
	"perpvenue/internal/perpetual"
)

const (
	ammID  = "sys:amm"
	poolID = "sys:amm:position"
	devID  = "dev"
)

type stubClock struct {
	tick int64
}

func (c *stubClock) Now() int64 { return c.tick }

type stubIndex struct {
	price   decimal.Decimal
	accrued bool
	err     error
}

func (s *stubIndex) LastIndexPrice() decimal.Decimal { return s.price }
func (s *stubIndex) UpdateIndex() (bool, error)      { return s.accrued, s.err }

type fixture struct {
	pool   *Pool
	ledger *perpetual.Ledger
	gov    *config.Governance
	clock  *stubClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := guard.New("owner", zerolog.Nop())
	require.NoError(t, g.AddWhitelisted("owner", ammID))

	gov := config.DefaultGovernance()
	ledger := perpetual.NewLedger(gov, g, zerolog.Nop())
	clock := &stubClock{tick: 100}
	pool := NewPool(ammID, poolID, devID, gov, ledger, clock, zerolog.Nop())
	pool.SetIndexSource(&stubIndex{price: fixmath.MustParse("7000")})
	return &fixture{pool: pool, ledger: ledger, gov: gov, clock: clock}
}

func (f *fixture) credit(t *testing.T, account, amount string) {
	t.Helper()
	require.NoError(t, f.ledger.CreditCash(ammID, account, fixmath.MustParse(amount)))
}

// seeded returns a fixture with a 10-contract pool created at index 7000:
// x=70000, y=10, fair price 7000.
func seeded(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.credit(t, "lp", "150000")
	require.NoError(t, f.pool.CreatePool("lp", fixmath.MustParse("10")))
	return f
}

func TestCreatePoolSeedsReserves(t *testing.T) {
	f := seeded(t)

	assert.True(t, f.pool.PositionSize().Equal(fixmath.MustParse("10")))
	assert.True(t, f.pool.CurrentAvailableMargin().Equal(fixmath.MustParse("70000")))

	fair, err := f.pool.CurrentFairPrice()
	require.NoError(t, err)
	assert.True(t, fair.Equal(fixmath.MustParse("7000")))

	assert.True(t, f.pool.ShareBalance("lp").Equal(fixmath.MustParse("10")))
	assert.True(t, f.pool.ShareSupply().Equal(fixmath.MustParse("10")))

	// The creator funded 2*price*amount and went short against the pool.
	lp := f.ledger.Account("lp")
	assert.Equal(t, perpetual.SideShort, lp.Side)
	assert.True(t, lp.CashBalance.Equal(fixmath.MustParse("10000")))

	require.NoError(t, f.ledger.CheckInvariants())
}

func TestCreatePoolOnlyOnce(t *testing.T) {
	f := seeded(t)
	f.credit(t, "lp2", "150000")
	err := f.pool.CreatePool("lp2", fixmath.MustParse("10"))
	assert.ErrorIs(t, err, ErrPoolExists)
}

func TestCreatePoolNeedsIndexPrice(t *testing.T) {
	f := newFixture(t)
	f.pool.SetIndexSource(&stubIndex{price: decimal.Zero})
	f.credit(t, "lp", "150000")
	err := f.pool.CreatePool("lp", fixmath.MustParse("10"))
	assert.ErrorIs(t, err, ErrNoIndexPrice)
}

func TestBuyQuotesBondingCurve(t *testing.T) {
	f := seeded(t)
	f.credit(t, "trader", "2000")

	price, err := f.pool.Buy("trader", fixmath.One, fixmath.MustParse("8000"), 200)
	require.NoError(t, err)

	// x/(y-amount) = 70000/9
	assert.Equal(t, "7777.777777777777777778", price.String())

	trader := f.ledger.Account("trader")
	assert.Equal(t, perpetual.SideLong, trader.Side)
	assert.True(t, trader.Size.Equal(fixmath.One))

	// Both fee legs came out of the trader's cash.
	fee := fixmath.Mul(price, f.gov.PoolFeeRate)
	wantCash := fixmath.MustParse("2000").Sub(fee).Sub(fee)
	assert.True(t, trader.CashBalance.Equal(wantCash), "cash = %s", trader.CashBalance)
	assert.True(t, f.ledger.Account(devID).CashBalance.Equal(fee))

	require.NoError(t, f.ledger.CheckInvariants())
}

func TestSellQuotesBondingCurve(t *testing.T) {
	f := seeded(t)
	f.credit(t, "trader", "2000")

	price, err := f.pool.Sell("trader", fixmath.One, fixmath.MustParse("6000"), 200)
	require.NoError(t, err)

	// x/(y+amount) = 70000/11
	assert.Equal(t, "6363.636363636363636364", price.String())
	assert.Equal(t, perpetual.SideShort, f.ledger.Account("trader").Side)
}

func TestOrderRejections(t *testing.T) {
	f := seeded(t)
	f.credit(t, "trader", "2000")

	_, err := f.pool.Buy("trader", fixmath.One, fixmath.MustParse("7000"), 200)
	assert.ErrorIs(t, err, ErrSlippageExceeded, "buy limit below curve price")

	_, err = f.pool.Sell("trader", fixmath.One, fixmath.MustParse("7000"), 200)
	assert.ErrorIs(t, err, ErrSlippageExceeded, "sell limit above curve price")

	_, err = f.pool.Buy("trader", fixmath.One, fixmath.MustParse("8000"), 50)
	assert.ErrorIs(t, err, ErrExpired, "deadline behind the clock")

	_, err = f.pool.Buy("trader", fixmath.MustParse("10"), fixmath.MustParse("99999"), 200)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity, "order consuming the whole pool")

	_, err = f.pool.Buy("trader", fixmath.MustParse("0.5"), fixmath.MustParse("8000"), 200)
	assert.ErrorIs(t, err, perpetual.ErrLotSizeViolation)

	_, err = f.pool.Buy("trader", decimal.Zero, fixmath.MustParse("8000"), 200)
	assert.ErrorIs(t, err, perpetual.ErrInvalidAmount)
}

func TestBuyRollsBackUnsafeTrader(t *testing.T) {
	f := seeded(t)
	f.credit(t, "trader", "100")

	_, err := f.pool.Buy("trader", fixmath.One, fixmath.MustParse("8000"), 200)
	assert.ErrorIs(t, err, perpetual.ErrMarginUnsafe)

	// Rollback left no trace of the attempted fill.
	trader := f.ledger.Account("trader")
	assert.True(t, trader.IsFlat())
	assert.True(t, trader.CashBalance.Equal(fixmath.MustParse("100")))
	assert.True(t, f.pool.PositionSize().Equal(fixmath.MustParse("10")))
	require.NoError(t, f.ledger.CheckInvariants())
}

func TestFillRejectsWhenDevAccountUnsafe(t *testing.T) {
	f := seeded(t)
	f.credit(t, "trader", "2000")
	f.credit(t, devID, "600")
	f.credit(t, "cpty", "100000")

	// The dev account carries a long 1 @ 7000 on 600 cash: under its
	// 700 initial margin at the fair price, so fee income must not let
	// a fill through.
	require.NoError(t, f.ledger.Trade(ammID, devID, "cpty", perpetual.SideLong, fixmath.MustParse("7000"), fixmath.One))

	_, err := f.pool.Sell("trader", fixmath.One, fixmath.MustParse("6000"), 200)
	assert.ErrorIs(t, err, perpetual.ErrMarginUnsafe)

	// Rollback undid the fill and the fee legs.
	assert.True(t, f.ledger.Account("trader").IsFlat())
	assert.True(t, f.pool.PositionSize().Equal(fixmath.MustParse("10")))
	assert.True(t, f.ledger.Account(devID).CashBalance.Equal(fixmath.MustParse("600")))
	require.NoError(t, f.ledger.CheckInvariants())
}

func TestAddLiquidityMintsProRata(t *testing.T) {
	f := seeded(t)
	f.credit(t, "lp2", "100000")

	require.NoError(t, f.pool.AddLiquidity("lp2", fixmath.MustParse("5")))

	assert.True(t, f.pool.ShareBalance("lp2").Equal(fixmath.MustParse("5")))
	assert.True(t, f.pool.ShareSupply().Equal(fixmath.MustParse("15")))
	assert.True(t, f.pool.PositionSize().Equal(fixmath.MustParse("15")))

	// Adding liquidity at the fair price leaves the quote unchanged.
	fair, err := f.pool.CurrentFairPrice()
	require.NoError(t, err)
	assert.True(t, fair.Equal(fixmath.MustParse("7000")))
}

func TestRemoveLiquidityReturnsSlice(t *testing.T) {
	f := seeded(t)

	require.NoError(t, f.pool.RemoveLiquidity("lp", fixmath.MustParse("5")))

	assert.True(t, f.pool.ShareBalance("lp").Equal(fixmath.MustParse("5")))
	assert.True(t, f.pool.ShareSupply().Equal(fixmath.MustParse("5")))
	assert.True(t, f.pool.PositionSize().Equal(fixmath.MustParse("5")))

	// Half the short closed flat at entry, half the seed cash came back.
	lp := f.ledger.Account("lp")
	assert.True(t, lp.Size.Equal(fixmath.MustParse("5")))
	assert.True(t, lp.CashBalance.Equal(fixmath.MustParse("80000")))

	fair, err := f.pool.CurrentFairPrice()
	require.NoError(t, err)
	assert.True(t, fair.Equal(fixmath.MustParse("7000")))
	require.NoError(t, f.ledger.CheckInvariants())
}

func TestRemoveLiquidityTruncatesToLotSize(t *testing.T) {
	f := seeded(t)

	// 2.5 shares of a 10-share, 10-contract pool map to 2.5 contracts;
	// the position slice truncates to the lot, the dust stays pooled.
	require.NoError(t, f.pool.RemoveLiquidity("lp", fixmath.MustParse("2.5")))

	assert.True(t, f.pool.ShareBalance("lp").Equal(fixmath.MustParse("7.5")))
	assert.True(t, f.pool.PositionSize().Equal(fixmath.MustParse("8")))
}

func TestRemoveLiquidityInsufficientShares(t *testing.T) {
	f := seeded(t)
	err := f.pool.RemoveLiquidity("lp", fixmath.MustParse("100"))
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestUpdateIndexPaysPrizeOnAccrual(t *testing.T) {
	f := seeded(t)
	f.gov.UpdatePremiumPrize = fixmath.One
	f.pool.SetIndexSource(&stubIndex{price: fixmath.MustParse("7000"), accrued: true})

	accrued, err := f.pool.UpdateIndex("keeper")
	require.NoError(t, err)
	assert.True(t, accrued)
	assert.True(t, f.ledger.Account("keeper").CashBalance.Equal(fixmath.One))

	// No accrual, no prize.
	f.pool.SetIndexSource(&stubIndex{price: fixmath.MustParse("7000"), accrued: false})
	accrued, err = f.pool.UpdateIndex("keeper")
	require.NoError(t, err)
	assert.False(t, accrued)
	assert.True(t, f.ledger.Account("keeper").CashBalance.Equal(fixmath.One))
}

func TestUpdateIndexSkipsUnpayablePrize(t *testing.T) {
	f := seeded(t)
	f.gov.UpdatePremiumPrize = fixmath.MustParse("1000000000")
	f.pool.SetIndexSource(&stubIndex{price: fixmath.MustParse("7000"), accrued: true})

	// The accrual already applied upstream; an unpayable prize must not
	// turn it into a failed operation.
	accrued, err := f.pool.UpdateIndex("keeper")
	require.NoError(t, err)
	assert.True(t, accrued)
	assert.True(t, f.ledger.Account("keeper").CashBalance.IsZero())
	assert.True(t, f.ledger.Account(poolID).CashBalance.Equal(fixmath.MustParse("140000")))
}
