package consensus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/openbft/consensuswire/types"
)

// Slot errors
var (
	ErrSlotConsumed = errors.New("completion slot already awaited")
)

// outcome is the terminal result of one RPC: a typed response or an error,
// never both.
type outcome struct {
	msg types.ConsensusMsg
	err error
}

// Slot is a single-use completion slot for one outstanding RPC. Whichever
// component observes the matching response (or the failure) fulfills the
// slot exactly once; the issuing caller awaits it exactly once. The
// transport's response path and its timeout path may race; the loser of
// that race is a silent no-op.
type Slot struct {
	ch      chan outcome
	once    sync.Once
	awaited atomic.Bool
}

// NewSlot creates an unfulfilled completion slot.
func NewSlot() *Slot {
	return &Slot{
		ch: make(chan outcome, 1),
	}
}

// Fulfill completes the slot with a typed response. Only the first of
// Fulfill/Fail takes effect.
func (s *Slot) Fulfill(msg types.ConsensusMsg) {
	s.once.Do(func() {
		s.ch <- outcome{msg: msg}
	})
}

// Fail completes the slot with a terminal error. Only the first of
// Fulfill/Fail takes effect.
func (s *Slot) Fail(err error) {
	s.once.Do(func() {
		s.ch <- outcome{err: err}
	})
}

// Await suspends until the slot is fulfilled or ctx is done, whichever
// comes first. It may be called at most once; a second call reports
// ErrSlotConsumed instead of hanging on a drained channel.
func (s *Slot) Await(ctx context.Context) (types.ConsensusMsg, error) {
	if !s.awaited.CompareAndSwap(false, true) {
		return types.ConsensusMsg{}, ErrSlotConsumed
	}

	select {
	case out := <-s.ch:
		return out.msg, out.err
	case <-ctx.Done():
		return types.ConsensusMsg{}, ctx.Err()
	}
}
