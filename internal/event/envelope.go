// Package event defines the outbound event log: every applied operation
// produces one enveloped event, hash-chained for audit and replay.
package event

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads.
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposit
	EventTypeWithdrawalApplied
	EventTypeWithdrawal
	EventTypeAccountSettled
	EventTypePoolCreated
	EventTypePoolTrade
	EventTypeLiquidityAdded
	EventTypeLiquidityRemoved
	EventTypeFundingAccrual
	EventTypeLiquidation
	EventTypeGlobalSettlementBegun
	EventTypeGlobalSettlementEnded
	EventTypeParamUpdated
	EventTypeBrokerChanged
	EventTypePauseChanged
	EventTypeWithdrawSwitchChanged
	EventTypeWhitelistChanged
)

// Envelope wraps every event in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64 `json:"sequence"`

	// Unique event ID
	ID uuid.UUID `json:"id"`

	// Stable idempotency key of the operation that produced this event
	IdempotencyKey string `json:"idempotency_key"`

	// Event type discriminator
	Type EventType `json:"type"`

	// Primary account affected (empty for global events)
	Account string `json:"account,omitempty"`

	// Versioned input tick (NOT wall-clock)
	Tick int64 `json:"tick"`

	// JSON-encoded event-specific data
	Payload json.RawMessage `json:"payload,omitempty"`

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte `json:"state_hash"`

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte `json:"prev_hash"`
}

func (et EventType) String() string {
	switch et {
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdrawalApplied:
		return "WithdrawalApplied"
	case EventTypeWithdrawal:
		return "Withdrawal"
	case EventTypeAccountSettled:
		return "AccountSettled"
	case EventTypePoolCreated:
		return "PoolCreated"
	case EventTypePoolTrade:
		return "PoolTrade"
	case EventTypeLiquidityAdded:
		return "LiquidityAdded"
	case EventTypeLiquidityRemoved:
		return "LiquidityRemoved"
	case EventTypeFundingAccrual:
		return "FundingAccrual"
	case EventTypeLiquidation:
		return "Liquidation"
	case EventTypeGlobalSettlementBegun:
		return "GlobalSettlementBegun"
	case EventTypeGlobalSettlementEnded:
		return "GlobalSettlementEnded"
	case EventTypeParamUpdated:
		return "ParamUpdated"
	case EventTypeBrokerChanged:
		return "BrokerChanged"
	case EventTypePauseChanged:
		return "PauseChanged"
	case EventTypeWithdrawSwitchChanged:
		return "WithdrawSwitchChanged"
	case EventTypeWhitelistChanged:
		return "WhitelistChanged"
	default:
		return "Unknown"
	}
}

// Subject returns the NATS subject leaf for outbound publishing.
func (et EventType) Subject() string {
	switch et {
	case EventTypeDeposit, EventTypeWithdrawalApplied, EventTypeWithdrawal, EventTypeAccountSettled:
		return "collateral"
	case EventTypePoolCreated, EventTypePoolTrade, EventTypeLiquidityAdded, EventTypeLiquidityRemoved:
		return "pool"
	case EventTypeFundingAccrual:
		return "funding"
	case EventTypeLiquidation:
		return "liquidation"
	default:
		return "admin"
	}
}
