package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openbft/consensuswire/types"
)

// Request manager errors
var (
	ErrRPCTimeout  = errors.New("rpc timed out")
	ErrBadResponse = errors.New("failed to decode rpc response")
	ErrNoPeers     = errors.New("no connected peers to issue request to")
)

// RequestHandler consumes inbound RPC requests from remote peers. The
// handler responds (or declines to) via Respond with the same request id.
type RequestHandler func(from types.PeerHandle, requestID string, req types.ConsensusMsg)

// RequestManagerConfig defines configuration for the request manager.
type RequestManagerConfig struct {
	Timeout time.Duration `json:"timeout"`
}

// DefaultRequestManagerConfig returns a configuration with sensible defaults.
func DefaultRequestManagerConfig() RequestManagerConfig {
	return RequestManagerConfig{
		Timeout: 4 * time.Second,
	}
}

// pendingRequest tracks one outstanding RPC until its single terminal
// outcome. done is closed by whichever path claims the entry. wantKind
// is the only response kind the reply path accepts; KindUnknown means
// the request kind has no fixed response kind and any reply passes.
type pendingRequest struct {
	id       string
	wantKind types.Kind
	complete func(types.ConsensusMsg, error)
	done     chan struct{}
}

// responseKind maps a request kind to the response kind that completes
// it. Kinds that are not RPC requests map to KindUnknown.
func responseKind(k types.Kind) types.Kind {
	switch k {
	case types.KindBlockRetrievalRequest:
		return types.KindBlockRetrievalResponse
	case types.KindEpochRetrievalRequest:
		return types.KindEpochChangeProof
	default:
		return types.KindUnknown
	}
}

// RequestManager issues RPC requests over one channel of a Node and
// correlates replies back to their callers. Each request gets a fresh
// id; the reply path, the timeout and caller cancellation race for the
// pending entry, and exactly one of them completes it. This default
// implementation is single-shot with a timeout; retry and backoff
// policy belongs to the implementation behind the interface, not to
// its callers.
type RequestManager struct {
	node    *Node
	channel string
	cfg     RequestManagerConfig
	metrics *Metrics

	pending map[string]*pendingRequest
	handler RequestHandler
	mu      sync.Mutex
}

// NewRequestManager creates a request manager over the given channel and
// installs itself as that channel's frame handler on the node.
func NewRequestManager(node *Node, channel string, cfg RequestManagerConfig) *RequestManager {
	m := &RequestManager{
		node:    node,
		channel: channel,
		cfg:     cfg,
		metrics: node.metrics,
		pending: make(map[string]*pendingRequest),
	}
	node.RegisterChannel(channel, m.handleFrame)
	return m
}

// SetRequestHandler sets the consumer for inbound RPC requests.
func (m *RequestManager) SetRequestHandler(handler RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// PendingCount returns the number of outstanding requests.
func (m *RequestManager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Issue sends req to recipient (or any connected peer when recipient is
// the zero handle) and arranges for complete to be invoked exactly once:
// with the decoded reply, with ErrRPCTimeout, or with the caller's
// cancellation error. A non-nil return means the request was never
// issued and complete will never run.
func (m *RequestManager) Issue(ctx context.Context, recipient types.PeerHandle, req types.ConsensusMsg, complete func(types.ConsensusMsg, error)) error {
	if !recipient.IsValid() {
		peer, ok := m.node.AnyPeer()
		if !ok {
			return ErrNoPeers
		}
		recipient = peer
	}

	payload, err := req.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	p := &pendingRequest{
		id:       uuid.NewString(),
		wantKind: responseKind(req.Kind()),
		complete: complete,
		done:     make(chan struct{}),
	}

	// Register before sending: a reply can arrive before Issue returns.
	m.mu.Lock()
	m.pending[p.id] = p
	m.mu.Unlock()

	frame := &Frame{
		Channel:   m.channel,
		From:      m.node.cfg.NodeID,
		RequestID: p.id,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	if err := m.node.sendFrame(recipient, frame); err != nil {
		m.take(p.id)
		return err
	}

	m.metrics.RPCIssued.Inc()

	go m.watch(ctx, p)
	return nil
}

// Respond sends a reply for an inbound request back to its issuer.
func (m *RequestManager) Respond(to types.PeerHandle, requestID string, resp types.ConsensusMsg) error {
	payload, err := resp.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	frame := &Frame{
		Channel:   m.channel,
		From:      m.node.cfg.NodeID,
		RequestID: requestID,
		Reply:     true,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	return m.node.sendFrame(to, frame)
}

// watch enforces the timeout and caller cancellation for one request.
// Whichever of reply, timeout and cancellation claims the pending entry
// first delivers the terminal outcome; the others find it gone.
func (m *RequestManager) watch(ctx context.Context, p *pendingRequest) {
	timer := time.NewTimer(m.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		// Reply path claimed the entry.
	case <-timer.C:
		if taken := m.take(p.id); taken != nil {
			m.metrics.RPCCompleted.WithLabelValues(OutcomeTimeout).Inc()
			taken.complete(types.ConsensusMsg{}, fmt.Errorf("%w after %s", ErrRPCTimeout, m.cfg.Timeout))
		}
	case <-ctx.Done():
		// Release the entry so the table does not leak; the caller has
		// already stopped waiting.
		if taken := m.take(p.id); taken != nil {
			m.metrics.RPCCompleted.WithLabelValues(OutcomeCancelled).Inc()
			taken.complete(types.ConsensusMsg{}, ctx.Err())
		}
	}
}

// handleFrame consumes all frames on the RPC channel: replies are
// correlated to pending requests, everything else is an inbound request
// for the local responder.
func (m *RequestManager) handleFrame(from types.PeerHandle, frame *Frame) {
	if !frame.Reply {
		m.handleRequest(from, frame)
		return
	}

	p := m.take(frame.RequestID)
	if p == nil {
		// Late or duplicate reply; its request already saw an outcome.
		m.metrics.RPCOrphanReplies.Inc()
		return
	}
	defer close(p.done)

	msg, err := frame.Envelope()
	if err != nil {
		m.metrics.RPCCompleted.WithLabelValues(OutcomeDecode).Inc()
		p.complete(types.ConsensusMsg{}, fmt.Errorf("%w: %v", ErrBadResponse, err))
		return
	}

	if p.wantKind != types.KindUnknown && msg.Kind() != p.wantKind {
		m.metrics.RPCCompleted.WithLabelValues(OutcomeWrongKind).Inc()
		p.complete(types.ConsensusMsg{}, fmt.Errorf("%w: want %s, got %s", ErrBadResponse, p.wantKind, msg.Kind()))
		return
	}

	m.metrics.RPCCompleted.WithLabelValues(OutcomeResponse).Inc()
	p.complete(msg, nil)
}

// handleRequest routes an inbound request to the responder, if any.
func (m *RequestManager) handleRequest(from types.PeerHandle, frame *Frame) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		m.metrics.InboundDropped.Inc()
		log.Printf("network: dropping rpc request %s from %s: no handler", frame.RequestID, from)
		return
	}

	req, err := frame.Envelope()
	if err != nil {
		m.metrics.InboundDropped.Inc()
		log.Printf("network: dropping undecodable rpc request from %s: %v", from, err)
		return
	}
	handler(from, frame.RequestID, req)
}

// take removes and returns the pending entry for id, or nil if some
// other path already claimed it. Claiming is what makes the terminal
// outcome exactly-once.
func (m *RequestManager) take(id string) *pendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[id]
	if !ok {
		return nil
	}
	delete(m.pending, id)
	return p
}
