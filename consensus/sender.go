package consensus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/openbft/consensuswire/types"
)

// Channel identifiers for the two consensus protocols multiplexed over
// the transport. Direct-send traffic and RPC traffic must never
// cross-deliver, so each gets its own channel.
const (
	ChannelDirectSend = "consensus.direct"
	ChannelRPC        = "consensus.rpc"
)

// Sender errors
var (
	ErrPeerUnavailable = errors.New("no live peer handle for recipient")
)

// PeerResolver maps a participant address to a live peer handle. The
// mapping is owned and mutated by the network layer; this layer only
// reads it, and looks a handle up fresh on every send because peer
// reachability changes concurrently. Absence of a mapping is a normal
// outcome, not an error.
type PeerResolver interface {
	Resolve(addr types.Address) (types.PeerHandle, bool)
}

// Dispatcher hands one envelope to the transport on a channel. A nil
// return means the transport accepted the hand-off, not that the peer
// will ever receive the message.
type Dispatcher interface {
	Dispatch(channel string, peer types.PeerHandle, msg types.ConsensusMsg) error
}

// RequestManager issues an RPC-style request on behalf of the sender.
// recipient may be the zero handle, meaning any suitable peer; selection
// and retry policy are entirely the manager's. complete is invoked
// exactly once with the decoded response or a terminal error, unless
// Issue itself returns an error, in which case the request was never
// issued and complete is never invoked.
type RequestManager interface {
	Issue(ctx context.Context, recipient types.PeerHandle, req types.ConsensusMsg, complete func(types.ConsensusMsg, error)) error
}

// SenderStats is a snapshot of the sender's counters.
type SenderStats struct {
	Handoffs         int64 `json:"handoffs"`
	HandoffFailures  int64 `json:"handoff_failures"`
	ResolutionMisses int64 `json:"resolution_misses"`
	RPCIssued        int64 `json:"rpc_issued"`
	RPCFailed        int64 `json:"rpc_failed"`
	SelfEnqueued     int64 `json:"self_enqueued"`
}

// Sender moves consensus messages between participants. It carries no
// mutable state of its own besides counters, so concurrent calls from
// independent consensus tasks need no coordination.
type Sender struct {
	self     types.Address
	resolver PeerResolver
	dispatch Dispatcher
	requests RequestManager
	loopback *Loopback

	// Atomic counters for thread-safe statistics
	handoffs         int64
	handoffFailures  int64
	resolutionMisses int64
	rpcIssued        int64
	rpcFailed        int64
	selfEnqueued     int64
}

// NewSender creates a sender for the participant at self.
func NewSender(self types.Address, resolver PeerResolver, dispatch Dispatcher, requests RequestManager, loopback *Loopback) *Sender {
	return &Sender{
		self:     self,
		resolver: resolver,
		dispatch: dispatch,
		requests: requests,
		loopback: loopback,
	}
}

// SendTo sends a single envelope to the recipient on the direct-send
// channel. A recipient with no live peer handle is silently skipped.
// Self-addressed envelopes go to the loopback queue instead of the
// network. The nil return means the hand-off was issued (or skipped),
// never that the message was delivered.
func (s *Sender) SendTo(recipient types.Address, msg types.ConsensusMsg) error {
	if recipient == s.self {
		return s.SendSelf(msg)
	}

	handle, ok := s.resolver.Resolve(recipient)
	if !ok {
		atomic.AddInt64(&s.resolutionMisses, 1)
		return nil
	}

	if err := s.dispatch.Dispatch(ChannelDirectSend, handle, msg); err != nil {
		atomic.AddInt64(&s.handoffFailures, 1)
		log.Printf("consensus: failed to send %s to %s: %v", msg.Kind(), recipient, err)
		return fmt.Errorf("direct send hand-off failed: %w", err)
	}

	atomic.AddInt64(&s.handoffs, 1)
	return nil
}

// SendToMany sends the envelope to each recipient independently. One
// recipient's missing handle or hand-off failure never blocks or fails
// delivery to the others; per-recipient failures are logged and counted
// but not surfaced. Returns once all attempts have been issued.
func (s *Sender) SendToMany(recipients []types.Address, msg types.ConsensusMsg) error {
	for _, recipient := range recipients {
		if err := s.SendTo(recipient, msg); err != nil {
			// Counted and logged inside SendTo. Consensus retry logic,
			// not this layer, detects non-delivery.
			continue
		}
	}
	return nil
}

// SendRPC issues req on the RPC channel and suspends until the matching
// typed response arrives or the request is abandoned. recipient nil
// means any suitable peer, delegated to the request manager. The caller
// observes exactly one terminal outcome: a response, an error, or ctx
// cancellation (which releases the completion slot).
func (s *Sender) SendRPC(ctx context.Context, recipient *types.Address, req types.ConsensusMsg) (types.ConsensusMsg, error) {
	var handle types.PeerHandle
	if recipient != nil {
		h, ok := s.resolver.Resolve(*recipient)
		if !ok {
			atomic.AddInt64(&s.rpcFailed, 1)
			return types.ConsensusMsg{}, fmt.Errorf("%w: %s", ErrPeerUnavailable, recipient)
		}
		handle = h
	}

	slot := NewSlot()
	err := s.requests.Issue(ctx, handle, req, func(msg types.ConsensusMsg, err error) {
		if err != nil {
			slot.Fail(err)
			return
		}
		slot.Fulfill(msg)
	})
	if err != nil {
		// The request was never issued; the slot is never fulfilled.
		atomic.AddInt64(&s.rpcFailed, 1)
		return types.ConsensusMsg{}, fmt.Errorf("rpc hand-off failed: %w", err)
	}

	atomic.AddInt64(&s.rpcIssued, 1)
	return slot.Await(ctx)
}

// SendSelf enqueues the envelope for the local participant, bypassing
// resolver and transport. It fails only when the loopback has been torn
// down: self-messages are locally reliable and a drop must be observable.
func (s *Sender) SendSelf(msg types.ConsensusMsg) error {
	if err := s.loopback.Enqueue(s.self, msg); err != nil {
		return fmt.Errorf("self delivery failed: %w", err)
	}
	atomic.AddInt64(&s.selfEnqueued, 1)
	return nil
}

// Self returns the local participant address.
func (s *Sender) Self() types.Address {
	return s.self
}

// Stats returns a snapshot of the sender's counters.
func (s *Sender) Stats() SenderStats {
	return SenderStats{
		Handoffs:         atomic.LoadInt64(&s.handoffs),
		HandoffFailures:  atomic.LoadInt64(&s.handoffFailures),
		ResolutionMisses: atomic.LoadInt64(&s.resolutionMisses),
		RPCIssued:        atomic.LoadInt64(&s.rpcIssued),
		RPCFailed:        atomic.LoadInt64(&s.rpcFailed),
		SelfEnqueued:     atomic.LoadInt64(&s.selfEnqueued),
	}
}
