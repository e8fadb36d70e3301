package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/shopspring/decimal"

	"perpvenue/internal/config"
	"perpvenue/internal/core"
)

// Injector publishes admin-originated operations onto the same
// JetStream subjects that external producers use, so manual operations
// get the identical durability, ordering, and dedup path. It allocates
// source sequences from a local cursor seeded off the ops stream.
type Injector struct {
	js      jetstream.JetStream
	nextSeq int64
}

func NewInjector(js jetstream.JetStream, nextSeq int64) *Injector {
	return &Injector{js: js, nextSeq: nextSeq}
}

// InjectOraclePrice publishes an index price observation.
func (in *Injector) InjectOraclePrice(ctx context.Context, caller string, price decimal.Decimal, timestamp int64) error {
	if price.Sign() <= 0 {
		return fmt.Errorf("price must be positive")
	}
	op := core.OpOraclePrice{
		Meta:      in.meta(timestamp),
		Caller:    caller,
		Price:     price,
		Timestamp: timestamp,
	}
	return in.publish(ctx, op)
}

// InjectDeposit publishes a deposit operation for an account.
func (in *Injector) InjectDeposit(ctx context.Context, account string, amount decimal.Decimal, tick int64) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	op := core.OpDeposit{
		Meta:    in.meta(tick),
		Account: account,
		Amount:  amount,
	}
	return in.publish(ctx, op)
}

// InjectPause publishes a venue-wide pause or unpause.
func (in *Injector) InjectPause(ctx context.Context, caller string, paused bool, tick int64) error {
	op := core.OpPause{
		Meta:   in.meta(tick),
		Caller: caller,
		Paused: paused,
	}
	return in.publish(ctx, op)
}

// InjectSetParam publishes a governance parameter change.
func (in *Injector) InjectSetParam(ctx context.Context, caller string, param string, value decimal.Decimal, tick int64) error {
	key, err := config.ParseParamKey(param)
	if err != nil {
		return err
	}
	op := core.OpSetParam{
		Meta:   in.meta(tick),
		Caller: caller,
		Param:  key,
		Value:  value,
	}
	return in.publish(ctx, op)
}

// InjectBeginSettlement publishes a global settlement trigger.
func (in *Injector) InjectBeginSettlement(ctx context.Context, caller string, price decimal.Decimal, tick int64) error {
	if price.Sign() <= 0 {
		return fmt.Errorf("settlement price must be positive")
	}
	op := core.OpBeginSettlement{
		Meta:   in.meta(tick),
		Caller: caller,
		Price:  price,
	}
	return in.publish(ctx, op)
}

func (in *Injector) meta(tick int64) core.Meta {
	seq := in.nextSeq
	in.nextSeq++
	return core.Meta{
		ID:  uuid.NewString(),
		Seq: seq,
		At:  tick,
	}
}

func (in *Injector) publish(ctx context.Context, op core.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", op.Kind(), err)
	}

	subject := "venue.ops." + op.Kind()
	if op.Kind() == "oracle_price" {
		subject = "venue.prices.oracle_price"
	}

	if _, err := in.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", op.Kind(), err)
	}
	return nil
}
