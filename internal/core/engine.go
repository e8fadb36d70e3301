// Package core is the single-threaded operation engine: it consumes
// ordered operations, dispatches them to the venue components, verifies
// ledger invariants after every mutation, and emits hash-chained events
// to the persistence and projection channels.
package core

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpvenue/internal/amm"
	"perpvenue/internal/broker"
	"perpvenue/internal/config"
	"perpvenue/internal/event"
	"perpvenue/internal/funding"
	"perpvenue/internal/guard"
	"perpvenue/internal/observability"
	"perpvenue/internal/perpetual"
	"perpvenue/internal/vault"
)

// Output is one applied operation's emission. Account is the touched
// account's state after the operation, for projection read models; nil
// on global events.
type Output struct {
	Envelope *event.Envelope
	Account  *AccountState
}

// AccountState is a projection-friendly view of one margin account.
type AccountState struct {
	Account         string
	Side            string
	Size            decimal.Decimal
	EntryValue      decimal.Decimal
	CashBalance     decimal.Decimal
	MarginBalance   decimal.Decimal
	AvailableMargin decimal.Decimal
}

// Deps wires the engine to the venue components.
type Deps struct {
	Log     zerolog.Logger
	Gov     *config.Governance
	Guard   *guard.Guard
	Ledger  *perpetual.Ledger
	Vault   *vault.Vault
	Pool    *amm.Pool
	Funding *funding.Engine
	Oracle  *funding.FeedOracle
	Brokers *broker.Registry
	Clock   *TickClock
	Metrics *observability.Metrics

	BrokerDelayTicks int64

	PersistChan    chan<- Output
	ProjectionChan chan<- Output

	DBChecker DBIdempotencyChecker
}

// Engine is the deterministic operation processor. All venue state is
// mutated here, on one goroutine; the channels fan results out.
type Engine struct {
	log     zerolog.Logger
	gov     *config.Governance
	guard   *guard.Guard
	ledger  *perpetual.Ledger
	vault   *vault.Vault
	pool    *amm.Pool
	funding *funding.Engine
	oracle  *funding.FeedOracle
	brokers *broker.Registry
	clock   *TickClock
	metrics *observability.Metrics

	brokerDelay int64

	// mu serializes Process against snapshot capture. Operations still
	// apply one at a time; only the snapshot goroutine contends.
	mu sync.Mutex

	sequence     int64
	hasher       *StateHasher
	idempotency  *IdempotencyChecker
	seqValidator *SequenceValidator

	persistChan    chan<- Output
	projectionChan chan<- Output
}

func NewEngine(d Deps) *Engine {
	// Source sequences start at 1; partition state defaults to 0.
	seqValidator := NewSequenceValidator()
	seqValidator.SetExpectedSequence(PartitionOps, 1)

	return &Engine{
		log:            d.Log,
		gov:            d.Gov,
		guard:          d.Guard,
		ledger:         d.Ledger,
		vault:          d.Vault,
		pool:           d.Pool,
		funding:        d.Funding,
		oracle:         d.Oracle,
		brokers:        d.Brokers,
		clock:          d.Clock,
		metrics:        d.Metrics,
		brokerDelay:    d.BrokerDelayTicks,
		hasher:         NewStateHasher(),
		idempotency:    NewIdempotencyChecker(1_000_000, d.DBChecker),
		seqValidator:   seqValidator,
		persistChan:    d.PersistChan,
		projectionChan: d.ProjectionChan,
	}
}

// Now implements the Clock interfaces of vault, amm and broker.
func (e *Engine) Now() int64 {
	return e.clock.Now()
}

// Sequence returns the next sequence number to assign.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// StateHash returns the current chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// Process applies one operation end to end: dedup, ordering, dispatch,
// invariant check, auto-settlement trigger, emission.
func (e *Engine) Process(op Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	kind := op.Kind()
	key := op.Key()

	isDup := e.idempotency.IsDuplicate(kind, key)

	if _, ok := op.(OpOraclePrice); ok {
		if err := e.seqValidator.ValidatePriceSequence(op.SourceSeq()); err != nil {
			return err
		}
	} else {
		if err := e.seqValidator.ValidateSequence(PartitionOps, op.SourceSeq(), isDup); err != nil {
			if e.metrics != nil {
				e.metrics.OpsRejected.WithLabelValues(kind, "sequence").Inc()
			}
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDup {
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(kind, "duplicate").Inc()
		}
		return nil
	}

	e.clock.Advance(op.Tick())

	result, err := e.dispatch(op)
	if err != nil {
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(kind, "rejected").Inc()
		}
		e.log.Debug().Err(err).Str("kind", kind).Str("key", key).Msg("operation rejected")
		return err
	}

	if err := e.ledger.CheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: ledger invariant violated after %s: %v", kind, err))
	}

	if result.emit {
		e.emit(result.evtType, key, result.account, result.payload, op.Tick())
	}

	e.maybeAutoSettle()

	e.idempotency.MarkProcessed(kind, key)

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(kind).Inc()
		e.metrics.OpDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		e.metrics.Sequence.Set(float64(e.sequence))
		e.updateGauges()
	}

	return nil
}

// dispatchResult is what a handler hands back for emission.
type dispatchResult struct {
	evtType event.EventType
	account string
	payload any
	emit    bool
}

func applied(t event.EventType, account string, payload any) (dispatchResult, error) {
	return dispatchResult{evtType: t, account: account, payload: payload, emit: true}, nil
}

func silent() (dispatchResult, error) {
	return dispatchResult{}, nil
}

func rejected(err error) (dispatchResult, error) {
	return dispatchResult{}, err
}

func (e *Engine) dispatch(op Operation) (dispatchResult, error) {
	switch o := op.(type) {
	case OpDeposit:
		if err := e.vault.Deposit(o.Account, o.Amount); err != nil {
			return rejected(err)
		}
		return applied(event.EventTypeDeposit, o.Account, event.Deposit{Account: o.Account, Amount: o.Amount})

	case OpApplyWithdrawal:
		if err := e.vault.ApplyForWithdrawal(o.Account, o.Amount); err != nil {
			return rejected(err)
		}
		return applied(event.EventTypeWithdrawalApplied, o.Account, event.WithdrawalApplied{
			Account: o.Account, Amount: o.Amount, AppliedAt: e.clock.Now(),
		})

	case OpWithdraw:
		if err := e.vault.Withdraw(o.Account, o.Amount); err != nil {
			return rejected(err)
		}
		if e.metrics != nil {
			e.metrics.Withdrawals.Inc()
		}
		return applied(event.EventTypeWithdrawal, o.Account, event.Withdrawal{Account: o.Account, Amount: o.Amount})

	case OpSettleAccount:
		payout, err := e.vault.SettleAndWithdraw(o.Account)
		if err != nil {
			return rejected(err)
		}
		return applied(event.EventTypeAccountSettled, o.Account, event.AccountSettled{Account: o.Account, Payout: payout})

	case OpCreatePool:
		if err := e.pool.CreatePool(o.Creator, o.Amount); err != nil {
			return rejected(err)
		}
		return applied(event.EventTypePoolCreated, o.Creator, event.PoolCreated{
			Creator: o.Creator,
			Price:   e.funding.LastIndexPrice(),
			Amount:  o.Amount,
			Shares:  e.pool.ShareBalance(o.Creator),
		})

	case OpBuy:
		price, err := e.pool.Buy(o.Trader, o.Amount, o.LimitPrice, o.Deadline)
		if err != nil {
			return rejected(err)
		}
		return applied(event.EventTypePoolTrade, o.Trader, event.PoolTrade{
			Trader: o.Trader, Side: perpetual.SideLong.String(), Price: price, Amount: o.Amount,
		})

	case OpSell:
		price, err := e.pool.Sell(o.Trader, o.Amount, o.LimitPrice, o.Deadline)
		if err != nil {
			return rejected(err)
		}
		return applied(event.EventTypePoolTrade, o.Trader, event.PoolTrade{
			Trader: o.Trader, Side: perpetual.SideShort.String(), Price: price, Amount: o.Amount,
		})

	case OpAddLiquidity:
		if err := e.pool.AddLiquidity(o.Provider, o.Amount); err != nil {
			return rejected(err)
		}
		return applied(event.EventTypeLiquidityAdded, o.Provider, event.LiquidityAdded{
			Provider: o.Provider, Amount: o.Amount, Shares: e.pool.ShareBalance(o.Provider),
		})

	case OpRemoveLiquidity:
		if err := e.pool.RemoveLiquidity(o.Provider, o.ShareAmount); err != nil {
			return rejected(err)
		}
		return applied(event.EventTypeLiquidityRemoved, o.Provider, event.LiquidityRemoved{
			Provider: o.Provider, Shares: o.ShareAmount,
		})

	case OpOraclePrice:
		e.oracle.Set(o.Price, o.Timestamp)
		accrued, err := e.pool.UpdateIndex(o.Caller)
		if err != nil {
			return rejected(err)
		}
		if !accrued {
			// Seeding observation or repeated timestamp: state may have
			// advanced (first seed) but nothing accrued, so no event.
			return silent()
		}
		if e.metrics != nil {
			e.metrics.FundingAccruals.Inc()
		}
		st := e.funding.State()
		mark, _ := e.pool.CurrentFairPrice()
		return applied(event.EventTypeFundingAccrual, o.Caller, event.FundingAccrual{
			IndexPrice:  st.LastIndexPrice,
			MarkPrice:   mark,
			Premium:     st.LastPremium,
			Rate:        e.funding.CurrentFundingRate(),
			Accumulated: st.AccumulatedFundingPerContract,
			Timestamp:   st.LastFundingTime,
		})

	case OpLiquidate:
		mark, err := e.pool.CurrentFairPrice()
		if err != nil {
			return rejected(fmt.Errorf("liquidate: %w", err))
		}
		liquidated, err := e.ledger.Liquidate(o.Caller, o.Target, mark, o.Amount)
		if err != nil {
			return rejected(err)
		}
		if e.metrics != nil {
			e.metrics.Liquidations.Inc()
		}
		return applied(event.EventTypeLiquidation, o.Target, event.Liquidation{
			Caller: o.Caller, Target: o.Target, MarkPrice: mark, Amount: liquidated,
		})

	case OpSetBroker:
		e.brokers.SetBroker(o.Account, o.Broker, e.brokerDelay)
		return applied(event.EventTypeBrokerChanged, o.Account, event.BrokerChanged{
			Account: o.Account, Broker: o.Broker, AppliedAt: e.clock.Now() + e.brokerDelay,
		})

	case OpSetParam:
		if !e.guard.IsOwner(o.Caller) {
			return rejected(fmt.Errorf("set param %s: %w", o.Param, guard.ErrUnauthorized))
		}
		if err := e.gov.Set(o.Param, o.Value); err != nil {
			return rejected(err)
		}
		return applied(event.EventTypeParamUpdated, "", event.ParamUpdated{Key: o.Param.String(), Value: o.Value})

	case OpPause:
		var err error
		if o.Paused {
			err = e.guard.Pause(o.Caller)
		} else {
			err = e.guard.Unpause(o.Caller)
		}
		if err != nil {
			return rejected(err)
		}
		return applied(event.EventTypePauseChanged, "", event.SwitchChanged{Caller: o.Caller, Enabled: o.Paused})

	case OpWithdrawSwitch:
		var err error
		if o.Disabled {
			err = e.guard.DisableWithdraw(o.Caller)
		} else {
			err = e.guard.EnableWithdraw(o.Caller)
		}
		if err != nil {
			return rejected(err)
		}
		return applied(event.EventTypeWithdrawSwitchChanged, "", event.SwitchChanged{Caller: o.Caller, Enabled: o.Disabled})

	case OpWhitelist:
		var err error
		if o.Add {
			err = e.guard.AddWhitelisted(o.Caller, o.Component)
		} else {
			err = e.guard.RemoveWhitelisted(o.Caller, o.Component)
		}
		if err != nil {
			return rejected(err)
		}
		return applied(event.EventTypeWhitelistChanged, "", event.WhitelistChanged{Component: o.Component, Added: o.Add})

	case OpBeginSettlement:
		if !e.guard.IsOwner(o.Caller) {
			return rejected(fmt.Errorf("begin settlement: %w", guard.ErrUnauthorized))
		}
		if err := e.ledger.BeginGlobalSettlement(o.Price); err != nil {
			return rejected(err)
		}
		return applied(event.EventTypeGlobalSettlementBegun, "", event.GlobalSettlement{Price: o.Price})

	case OpEndSettlement:
		if !e.guard.IsOwner(o.Caller) {
			return rejected(fmt.Errorf("end settlement: %w", guard.ErrUnauthorized))
		}
		if err := e.ledger.EndGlobalSettlement(); err != nil {
			return rejected(err)
		}
		return applied(event.EventTypeGlobalSettlementEnded, "", event.GlobalSettlement{})

	default:
		return rejected(fmt.Errorf("unknown operation type: %T", op))
	}
}

// maybeAutoSettle freezes the market when the per-contract social loss
// on either side breaches the governance threshold. The settlement price
// is the pool fair price, falling back to the last index price when the
// pool cannot quote.
func (e *Engine) maybeAutoSettle() {
	if e.ledger.Status() != perpetual.StatusNormal {
		return
	}
	threshold := e.gov.SocialLossThreshold
	if threshold.Sign() <= 0 {
		return
	}
	long := e.ledger.SocialLossPerContract(perpetual.SideLong)
	short := e.ledger.SocialLossPerContract(perpetual.SideShort)
	if long.LessThan(threshold) && short.LessThan(threshold) {
		return
	}

	price, err := e.pool.CurrentFairPrice()
	if err != nil || price.Sign() <= 0 {
		price = e.funding.LastIndexPrice()
	}
	if price.Sign() <= 0 {
		e.log.Error().Msg("social loss threshold breached but no settlement price available")
		return
	}
	if err := e.ledger.BeginGlobalSettlement(price); err != nil {
		e.log.Error().Err(err).Msg("auto settlement failed")
		return
	}

	key := fmt.Sprintf("auto_settle:%d", e.sequence)
	e.emit(event.EventTypeGlobalSettlementBegun, key, "", event.GlobalSettlement{Price: price}, e.clock.Now())
}

// emit assigns a sequence, extends the hash chain, and fans the envelope
// out. The persist send is blocking (backpressure); the projection send
// drops on a full channel, since projections rebuild from the log.
func (e *Engine) emit(t event.EventType, key, account string, payload any, tick int64) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s payload: %v", t, err))
	}

	prevHash := e.hasher.GetPrevHash()
	digest := e.stateDigest()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)

	env := &event.Envelope{
		Sequence:       e.sequence,
		ID:             uuid.New(),
		IdempotencyKey: key,
		Type:           t,
		Account:        account,
		Tick:           tick,
		Payload:        raw,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	e.sequence++

	out := Output{Envelope: env}
	if account != "" {
		out.Account = e.accountState(account)
	}

	e.persistChan <- out

	select {
	case e.projectionChan <- out:
	default:
		if e.metrics != nil {
			e.metrics.ProjectionDrops.Inc()
		}
	}
}

// accountState captures the account's post-operation state. Margin
// figures use the pool fair price, falling back to the last index price
// when the pool cannot quote.
func (e *Engine) accountState(id string) *AccountState {
	a := e.ledger.Account(id)

	mark, err := e.pool.CurrentFairPrice()
	if err != nil || mark.Sign() <= 0 {
		mark = e.funding.LastIndexPrice()
	}

	st := &AccountState{
		Account:     id,
		Side:        a.Side.String(),
		Size:        a.Size,
		EntryValue:  a.EntryValue,
		CashBalance: a.CashBalance,
	}
	if mark.Sign() > 0 {
		st.MarginBalance = e.ledger.MarginBalance(id, mark)
		st.AvailableMargin = e.ledger.AvailableMargin(id, mark)
	} else {
		st.MarginBalance = a.CashBalance
		st.AvailableMargin = a.CashBalance
	}
	return st
}

// stateDigest serializes the full venue state deterministically: JSON
// object keys are emitted in sorted order and decimals as strings.
func (e *Engine) stateDigest() []byte {
	snap := struct {
		Ledger      perpetual.Snapshot           `json:"ledger"`
		Funding     funding.State                `json:"funding"`
		Shares      map[string]decimal.Decimal   `json:"shares"`
		ShareSupply decimal.Decimal              `json:"share_supply"`
		Guard       guard.State                  `json:"guard"`
		Vault       vault.State                  `json:"vault"`
		Brokers     map[string]broker.EntryState `json:"brokers"`
	}{
		Ledger:      e.ledger.Snapshot(),
		Funding:     e.funding.State(),
		Shares:      e.pool.Shares(),
		ShareSupply: e.pool.ShareSupply(),
		Guard:       e.guard.Snapshot(),
		Vault:       e.vault.Snapshot(),
		Brokers:     e.brokers.Snapshot(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal state digest: %v", err))
	}
	return raw
}

func (e *Engine) updateGauges() {
	m := e.metrics

	st := e.funding.State()
	m.FundingRate.Set(decToFloat(e.funding.CurrentFundingRate()))
	m.FundingAccumulator.Set(decToFloat(st.AccumulatedFundingPerContract))
	m.IndexPrice.Set(decToFloat(st.LastIndexPrice))

	if fair, err := e.pool.CurrentFairPrice(); err == nil {
		m.PoolFairPrice.Set(decToFloat(fair))
	}
	m.PoolPositionSize.Set(decToFloat(e.pool.PositionSize()))
	m.PoolAvailableMargin.Set(decToFloat(e.pool.CurrentAvailableMargin()))
	m.PoolShareSupply.Set(decToFloat(e.pool.ShareSupply()))

	m.InsuranceFundBalance.Set(decToFloat(e.ledger.InsuranceFund()))
	m.SocialLossAccrued.WithLabelValues("long").Set(decToFloat(e.ledger.SocialLossPerContract(perpetual.SideLong)))
	m.SocialLossAccrued.WithLabelValues("short").Set(decToFloat(e.ledger.SocialLossPerContract(perpetual.SideShort)))
	m.OpenInterest.WithLabelValues("long").Set(decToFloat(e.ledger.TotalSize(perpetual.SideLong)))
	m.OpenInterest.WithLabelValues("short").Set(decToFloat(e.ledger.TotalSize(perpetual.SideShort)))
	m.VaultBalance.Set(decToFloat(e.vault.Balance()))
}

func decToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// --- Snapshot restore & startup ---

// SnapshotState holds the serializable engine state for warm restarts.
type SnapshotState struct {
	Sequence        int64                        `json:"sequence"`
	Tick            int64                        `json:"tick"`
	StateHash       [32]byte                     `json:"state_hash"`
	Ledger          perpetual.Snapshot           `json:"ledger"`
	Funding         funding.State                `json:"funding"`
	Shares          map[string]decimal.Decimal   `json:"shares"`
	ShareSupply     decimal.Decimal              `json:"share_supply"`
	Guard           guard.State                  `json:"guard"`
	Vault           vault.State                  `json:"vault"`
	Brokers         map[string]broker.EntryState `json:"brokers,omitempty"`
	SequenceState   map[string]int64             `json:"sequence_state"`
	IdempotencyKeys []string                     `json:"idempotency_keys,omitempty"`
}

// RestoreFromSnapshot restores the engine's in-memory state. Operations
// past the snapshot arrive again through stream redelivery and are
// absorbed by dedup and sequence validation.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence
	e.clock.Advance(snap.Tick)
	e.hasher.SetPrevHash(snap.StateHash)
	e.ledger.RestoreFromSnapshot(snap.Ledger)
	e.funding.RestoreState(snap.Funding)
	e.pool.RestoreShares(snap.Shares, snap.ShareSupply)
	e.guard.Restore(snap.Guard)
	e.vault.Restore(snap.Vault)
	e.brokers.Restore(snap.Brokers)
	e.oracle.Set(snap.Funding.LastIndexPrice, snap.Funding.LastFundingTime)
	for partition, next := range snap.SequenceState {
		e.seqValidator.SetExpectedSequence(partition, next)
	}
	e.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
}

// CreateSnapshotState captures the current in-memory state.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return &SnapshotState{
		Sequence:        e.sequence,
		Tick:            e.clock.Now(),
		StateHash:       e.hasher.GetPrevHash(),
		Ledger:          e.ledger.Snapshot(),
		Funding:         e.funding.State(),
		Shares:          e.pool.Shares(),
		ShareSupply:     e.pool.ShareSupply(),
		Guard:           e.guard.Snapshot(),
		Vault:           e.vault.Snapshot(),
		Brokers:         e.brokers.Snapshot(),
		SequenceState:   e.seqValidator.GetAllPartitions(),
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (e *Engine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.lru.WarmFromKeys(keys)
}
