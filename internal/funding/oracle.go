package funding

import (
	"github.com/shopspring/decimal"
)

// FeedOracle is the in-process oracle: the engine stores each accepted
// price observation here before forwarding the funding tick. Single
// goroutine access only.
type FeedOracle struct {
	value     decimal.Decimal
	timestamp int64
	seen      bool
}

func NewFeedOracle() *FeedOracle {
	return &FeedOracle{}
}

// Set records an observation.
func (f *FeedOracle) Set(value decimal.Decimal, timestamp int64) {
	f.value = value
	f.timestamp = timestamp
	f.seen = true
}

// Price implements Oracle.
func (f *FeedOracle) Price() (decimal.Decimal, int64, error) {
	if !f.seen {
		return decimal.Zero, 0, ErrStalePrice
	}
	return f.value, f.timestamp, nil
}
