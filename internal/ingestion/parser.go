// Package ingestion is the non-deterministic shell in front of the
// engine: it consumes raw operations from NATS JetStream, parses and
// validates them, and feeds typed operations to the single-threaded
// core. Processed events flow back out through the publisher.
package ingestion

import (
	"encoding/json"
	"fmt"

	"perpvenue/internal/core"
)

// ParseOperation converts a raw JSON payload into a typed operation.
// The kind is carried on the NATS subject, not inside the payload, so
// producers can route and scale per operation type.
func ParseOperation(kind string, data []byte) (core.Operation, error) {
	var (
		op  core.Operation
		err error
	)

	switch kind {
	case "deposit":
		op, err = parseInto[core.OpDeposit](data)
	case "apply_withdrawal":
		op, err = parseInto[core.OpApplyWithdrawal](data)
	case "withdraw":
		op, err = parseInto[core.OpWithdraw](data)
	case "settle_account":
		op, err = parseInto[core.OpSettleAccount](data)
	case "create_pool":
		op, err = parseInto[core.OpCreatePool](data)
	case "buy":
		op, err = parseInto[core.OpBuy](data)
	case "sell":
		op, err = parseInto[core.OpSell](data)
	case "add_liquidity":
		op, err = parseInto[core.OpAddLiquidity](data)
	case "remove_liquidity":
		op, err = parseInto[core.OpRemoveLiquidity](data)
	case "oracle_price":
		op, err = parseInto[core.OpOraclePrice](data)
	case "liquidate":
		op, err = parseInto[core.OpLiquidate](data)
	case "set_broker":
		op, err = parseInto[core.OpSetBroker](data)
	case "set_param":
		op, err = parseInto[core.OpSetParam](data)
	case "pause":
		op, err = parseInto[core.OpPause](data)
	case "withdraw_switch":
		op, err = parseInto[core.OpWithdrawSwitch](data)
	case "whitelist":
		op, err = parseInto[core.OpWhitelist](data)
	case "begin_settlement":
		op, err = parseInto[core.OpBeginSettlement](data)
	case "end_settlement":
		op, err = parseInto[core.OpEndSettlement](data)
	default:
		return nil, fmt.Errorf("unknown operation kind: %s", kind)
	}

	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", kind, err)
	}
	if err := validate(op); err != nil {
		return nil, fmt.Errorf("validate %s: %w", kind, err)
	}
	return op, nil
}

func parseInto[T core.Operation](data []byte) (core.Operation, error) {
	var op T
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, err
	}
	return op, nil
}

func validate(op core.Operation) error {
	if op.Key() == "" {
		return fmt.Errorf("missing id")
	}
	if op.SourceSeq() <= 0 {
		return fmt.Errorf("source sequence must be positive, got %d", op.SourceSeq())
	}
	if op.Tick() < 0 {
		return fmt.Errorf("tick must be non-negative, got %d", op.Tick())
	}
	return nil
}
