package core

import (
	"errors"
	"testing"
)

func TestValidateSequenceStrictOrdering(t *testing.T) {
	sv := NewSequenceValidator()
	sv.SetExpectedSequence(PartitionOps, 1)

	for seq := int64(1); seq <= 3; seq++ {
		if err := sv.ValidateSequence(PartitionOps, seq, false); err != nil {
			t.Fatalf("seq %d: %v", seq, err)
		}
	}
	if got := sv.GetExpectedSequence(PartitionOps); got != 4 {
		t.Errorf("expected next = %d, want 4", got)
	}
}

func TestValidateSequenceGap(t *testing.T) {
	sv := NewSequenceValidator()
	sv.SetExpectedSequence(PartitionOps, 1)

	err := sv.ValidateSequence(PartitionOps, 5, false)
	if !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("got %v, want %v", err, ErrSequenceGap)
	}
	// The cursor did not move; the missing operation is still awaited.
	if got := sv.GetExpectedSequence(PartitionOps); got != 1 {
		t.Errorf("expected next = %d, want 1", got)
	}
}

func TestValidateSequenceBehindCursor(t *testing.T) {
	sv := NewSequenceValidator()
	sv.SetExpectedSequence(PartitionOps, 1)

	if err := sv.ValidateSequence(PartitionOps, 1, false); err != nil {
		t.Fatal(err)
	}

	// A redelivered duplicate is fine; an unknown stale sequence is not.
	if err := sv.ValidateSequence(PartitionOps, 1, true); err != nil {
		t.Errorf("duplicate redelivery: %v", err)
	}
	if err := sv.ValidateSequence(PartitionOps, 1, false); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("got %v, want %v", err, ErrOutOfOrder)
	}
}

func TestValidatePriceSequenceToleratesGaps(t *testing.T) {
	sv := NewSequenceValidator()

	if err := sv.ValidatePriceSequence(1); err != nil {
		t.Fatal(err)
	}
	// A jump is accepted and recorded, not rejected.
	if err := sv.ValidatePriceSequence(10); err != nil {
		t.Fatal(err)
	}
	if got := sv.metrics.GetPriceGaps(); got != 1 {
		t.Errorf("price gaps = %d, want 1", got)
	}
	// Stale observations pass through silently.
	if err := sv.ValidatePriceSequence(3); err != nil {
		t.Errorf("stale price: %v", err)
	}
	if got := sv.GetExpectedSequence(PartitionPrices); got != 11 {
		t.Errorf("expected next = %d, want 11", got)
	}
}

func TestGetAllPartitionsCopies(t *testing.T) {
	sv := NewSequenceValidator()
	sv.SetExpectedSequence(PartitionOps, 7)
	sv.SetExpectedSequence(PartitionPrices, 3)

	state := sv.GetAllPartitions()
	state[PartitionOps] = 99

	if got := sv.GetExpectedSequence(PartitionOps); got != 7 {
		t.Errorf("mutating the copy changed the validator: %d", got)
	}
}
