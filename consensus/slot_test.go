package consensus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openbft/consensuswire/types"
)

func TestSlotFulfill(t *testing.T) {
	slot := NewSlot()
	slot.Fulfill(types.NewVoteMsg(&types.VoteMsg{Vote: types.Vote{BlockID: "b1"}}))

	msg, err := slot.Await(context.Background())
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if msg.Kind() != types.KindVote {
		t.Errorf("Expected KindVote, got %s", msg.Kind())
	}
}

func TestSlotFail(t *testing.T) {
	slot := NewSlot()
	wantErr := errors.New("request abandoned")
	slot.Fail(wantErr)

	_, err := slot.Await(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected %v, got %v", wantErr, err)
	}
}

func TestSlotFulfilledAtMostOnce(t *testing.T) {
	slot := NewSlot()
	slot.Fulfill(types.NewSyncInfoMsg(&types.SyncInfo{Epoch: 1}))
	// The loser of the response/timeout race must be a no-op.
	slot.Fail(errors.New("too late"))
	slot.Fulfill(types.NewSyncInfoMsg(&types.SyncInfo{Epoch: 2}))

	msg, err := slot.Await(context.Background())
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if msg.SyncInfo().Epoch != 1 {
		t.Errorf("Expected first fulfillment to win, got epoch %d", msg.SyncInfo().Epoch)
	}
}

func TestSlotAwaitOnce(t *testing.T) {
	slot := NewSlot()
	slot.Fulfill(types.NewSyncInfoMsg(&types.SyncInfo{}))

	if _, err := slot.Await(context.Background()); err != nil {
		t.Fatalf("First Await failed: %v", err)
	}
	if _, err := slot.Await(context.Background()); !errors.Is(err, ErrSlotConsumed) {
		t.Errorf("Expected ErrSlotConsumed, got %v", err)
	}
}

func TestSlotAwaitCancellation(t *testing.T) {
	slot := NewSlot()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := slot.Await(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestSlotAwaitBlocksUntilFulfilled(t *testing.T) {
	slot := NewSlot()

	go func() {
		time.Sleep(10 * time.Millisecond)
		slot.Fulfill(types.NewVoteMsg(&types.VoteMsg{}))
	}()

	msg, err := slot.Await(context.Background())
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if msg.Kind() != types.KindVote {
		t.Errorf("Expected KindVote, got %s", msg.Kind())
	}
}
