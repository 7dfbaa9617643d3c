package types

import (
	"errors"
	"testing"
)

func TestBlockRetrievalRequestValidate(t *testing.T) {
	req := &BlockRetrievalRequest{BlockID: "b1", NumBlocks: 3}
	if err := req.Validate(); err != nil {
		t.Errorf("Valid request rejected: %v", err)
	}

	if err := (&BlockRetrievalRequest{NumBlocks: 3}).Validate(); !errors.Is(err, ErrEmptyBlockID) {
		t.Errorf("Expected ErrEmptyBlockID, got %v", err)
	}
	if err := (&BlockRetrievalRequest{BlockID: "b1"}).Validate(); !errors.Is(err, ErrZeroNumBlocks) {
		t.Errorf("Expected ErrZeroNumBlocks, got %v", err)
	}
}

func TestEpochRetrievalRequestValidate(t *testing.T) {
	if err := (&EpochRetrievalRequest{StartEpoch: 2, EndEpoch: 5}).Validate(); err != nil {
		t.Errorf("Valid range rejected: %v", err)
	}
	if err := (&EpochRetrievalRequest{StartEpoch: 5, EndEpoch: 2}).Validate(); !errors.Is(err, ErrEpochRange) {
		t.Errorf("Expected ErrEpochRange, got %v", err)
	}
	// A single-epoch range is allowed.
	if err := (&EpochRetrievalRequest{StartEpoch: 3, EndEpoch: 3}).Validate(); err != nil {
		t.Errorf("Single-epoch range rejected: %v", err)
	}
}

func TestBlockRetrievalStatusString(t *testing.T) {
	cases := map[BlockRetrievalStatus]string{
		RetrievalSucceeded:       "succeeded",
		RetrievalIDNotFound:      "id_not_found",
		RetrievalNotEnoughBlocks: "not_enough_blocks",
		BlockRetrievalStatus(99): "unknown",
	}

	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status %d: expected %q, got %q", status, want, got)
		}
	}
}
