package perpetual

import "github.com/shopspring/decimal"

// Snapshot is the serializable ledger state, used for the state digest
// and for warm-restart snapshots. Maps marshal with sorted keys, so the
// JSON encoding is deterministic.
type Snapshot struct {
	Accounts        map[string]Account `json:"accounts"`
	SocialLossLong  decimal.Decimal    `json:"social_loss_long"`
	SocialLossShort decimal.Decimal    `json:"social_loss_short"`
	TotalLong       decimal.Decimal    `json:"total_long"`
	TotalShort      decimal.Decimal    `json:"total_short"`
	InsuranceFund   decimal.Decimal    `json:"insurance_fund"`
	Status          Status             `json:"status"`
	SettlementPrice decimal.Decimal    `json:"settlement_price"`
}

// Snapshot captures the full ledger state by value.
func (l *Ledger) Snapshot() Snapshot {
	accounts := make(map[string]Account, len(l.accounts))
	for id, a := range l.accounts {
		accounts[id] = a.clone()
	}
	return Snapshot{
		Accounts:        accounts,
		SocialLossLong:  l.socialLossPerContract[SideLong],
		SocialLossShort: l.socialLossPerContract[SideShort],
		TotalLong:       l.totalSize[SideLong],
		TotalShort:      l.totalSize[SideShort],
		InsuranceFund:   l.insuranceFund,
		Status:          l.status,
		SettlementPrice: l.settlementPrice,
	}
}

// RestoreFromSnapshot replaces the ledger state wholesale. Warm-restart
// path only; callers must not hold account pointers across a restore.
func (l *Ledger) RestoreFromSnapshot(s Snapshot) {
	l.accounts = make(map[string]*Account, len(s.Accounts))
	for id, a := range s.Accounts {
		acc := a
		l.accounts[id] = &acc
	}
	l.socialLossPerContract[SideLong] = s.SocialLossLong
	l.socialLossPerContract[SideShort] = s.SocialLossShort
	l.totalSize[SideLong] = s.TotalLong
	l.totalSize[SideShort] = s.TotalShort
	l.insuranceFund = s.InsuranceFund
	l.status = s.Status
	l.settlementPrice = s.SettlementPrice
}
