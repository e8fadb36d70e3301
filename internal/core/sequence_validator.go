package core

import (
	"errors"
	"fmt"
)

// Partition names for source sequence validation. Commands require
// strict contiguity; oracle prices tolerate gaps.
const (
	PartitionOps    = "ops"
	PartitionPrices = "prices"
)

// ErrSequenceGap means an operation arrived before its predecessor.
// The ingestion shell NAKs these so redelivery can restore order.
var ErrSequenceGap = errors.New("sequence gap")

// ErrOutOfOrder means an operation's sequence is behind the partition
// cursor and it is not a known duplicate. These are not retryable.
var ErrOutOfOrder = errors.New("out-of-order operation")

// SequenceValidator validates source sequences per partition.
// Not thread-safe; only accessed from the engine.
type SequenceValidator struct {
	expectedNextSeq map[string]int64
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence checks strict source sequence ordering.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			// Already processed, expected on redelivery.
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
		ErrSequenceGap, partition, expected, sourceSequence)
}

// ValidatePriceSequence validates oracle price updates. Stale prices are
// silently ignored; gaps are recorded but accepted, since the funding
// engine integrates over elapsed time rather than per observation.
func (sv *SequenceValidator) ValidatePriceSequence(priceSequence int64) error {
	expected := sv.expectedNextSeq[PartitionPrices]

	if priceSequence <= expected {
		return nil
	}

	if priceSequence > expected+1 {
		sv.metrics.RecordPriceGap(expected, priceSequence)
	}

	sv.expectedNextSeq[PartitionPrices] = priceSequence + 1

	return nil
}

// GetExpectedSequence returns the next expected sequence for a partition.
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes an expected sequence (recovery path).
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// GetAllPartitions returns a copy of the partition state for snapshots.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe; only accessed from the engine.
type SequenceMetrics struct {
	gaps       map[string]int64
	outOfOrder map[string]int64
	priceGaps  int64
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordPriceGap(expected, got int64) {
	m.priceGaps++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) GetPriceGaps() int64 {
	return m.priceGaps
}
