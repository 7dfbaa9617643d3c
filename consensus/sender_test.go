package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openbft/consensuswire/types"
)

type fakeResolver struct {
	mu    sync.Mutex
	table map[types.Address]types.PeerHandle
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{table: make(map[types.Address]types.PeerHandle)}
}

func (r *fakeResolver) bind(addr types.Address, h types.PeerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[addr] = h
}

func (r *fakeResolver) Resolve(addr types.Address) (types.PeerHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.table[addr]
	return h, ok
}

type dispatchCall struct {
	channel string
	peer    types.PeerHandle
	kind    types.Kind
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []dispatchCall
	failFor map[types.PeerHandle]error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failFor: make(map[types.PeerHandle]error)}
}

func (d *fakeDispatcher) Dispatch(channel string, peer types.PeerHandle, msg types.ConsensusMsg) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failFor[peer]; ok {
		return err
	}
	d.calls = append(d.calls, dispatchCall{channel: channel, peer: peer, kind: msg.Kind()})
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// fakeRequestManager completes requests through the respond callback,
// or never, or refuses to issue them at all.
type fakeRequestManager struct {
	issueErr error
	respond  func(recipient types.PeerHandle, req types.ConsensusMsg) (types.ConsensusMsg, error)
}

func (m *fakeRequestManager) Issue(ctx context.Context, recipient types.PeerHandle, req types.ConsensusMsg, complete func(types.ConsensusMsg, error)) error {
	if m.issueErr != nil {
		return m.issueErr
	}
	if m.respond == nil {
		return nil // issued, never completed
	}
	go func() {
		msg, err := m.respond(recipient, req)
		complete(msg, err)
	}()
	return nil
}

func newTestSender(resolver *fakeResolver, dispatch *fakeDispatcher, requests RequestManager) *Sender {
	var self types.Address
	self[15] = 0xff
	return NewSender(self, resolver, dispatch, requests, NewLoopback())
}

func TestSendToUnresolvedRecipient(t *testing.T) {
	resolver := newFakeResolver()
	dispatcher := newFakeDispatcher()
	sender := newTestSender(resolver, dispatcher, &fakeRequestManager{})

	var unknown types.Address
	unknown[0] = 1

	err := sender.SendTo(unknown, types.NewVoteMsg(&types.VoteMsg{}))
	if err != nil {
		t.Fatalf("SendTo to unresolved recipient should succeed, got %v", err)
	}
	if dispatcher.count() != 0 {
		t.Errorf("Expected zero hand-offs, got %d", dispatcher.count())
	}
	if sender.Stats().ResolutionMisses != 1 {
		t.Errorf("Expected 1 resolution miss, got %d", sender.Stats().ResolutionMisses)
	}
}

func TestSendToDispatchesOnDirectChannel(t *testing.T) {
	resolver := newFakeResolver()
	dispatcher := newFakeDispatcher()
	sender := newTestSender(resolver, dispatcher, &fakeRequestManager{})

	var addr types.Address
	addr[0] = 1
	resolver.bind(addr, "peer-1")

	err := sender.SendTo(addr, types.NewProposalMsg(&types.ProposalMsg{}))
	if err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}

	if dispatcher.count() != 1 {
		t.Fatalf("Expected 1 hand-off, got %d", dispatcher.count())
	}
	call := dispatcher.calls[0]
	if call.channel != ChannelDirectSend {
		t.Errorf("Expected direct-send channel, got %s", call.channel)
	}
	if call.peer != "peer-1" {
		t.Errorf("Expected peer-1, got %s", call.peer)
	}
	if call.kind != types.KindProposal {
		t.Errorf("Expected KindProposal, got %s", call.kind)
	}
}

func TestSendToDispatchFailure(t *testing.T) {
	resolver := newFakeResolver()
	dispatcher := newFakeDispatcher()
	sender := newTestSender(resolver, dispatcher, &fakeRequestManager{})

	var addr types.Address
	addr[0] = 1
	resolver.bind(addr, "peer-1")
	dispatcher.failFor["peer-1"] = errors.New("socket closed")

	err := sender.SendTo(addr, types.NewVoteMsg(&types.VoteMsg{}))
	if err == nil {
		t.Fatal("Expected error when hand-off fails")
	}
	if sender.Stats().HandoffFailures != 1 {
		t.Errorf("Expected 1 hand-off failure, got %d", sender.Stats().HandoffFailures)
	}
}

func TestSendToSelfUsesLoopback(t *testing.T) {
	resolver := newFakeResolver()
	dispatcher := newFakeDispatcher()
	sender := newTestSender(resolver, dispatcher, &fakeRequestManager{})

	err := sender.SendTo(sender.Self(), types.NewProposalMsg(&types.ProposalMsg{}))
	if err != nil {
		t.Fatalf("SendTo self failed: %v", err)
	}

	if dispatcher.count() != 0 {
		t.Errorf("Self-addressed message must not touch the transport, got %d hand-offs", dispatcher.count())
	}

	key := QueueKey{Address: sender.Self(), Kind: types.KindProposal}
	if sender.loopback.Len(key) != 1 {
		t.Errorf("Expected 1 loopback message, got %d", sender.loopback.Len(key))
	}
}

func TestSendToManyIndependentRecipients(t *testing.T) {
	resolver := newFakeResolver()
	dispatcher := newFakeDispatcher()
	sender := newTestSender(resolver, dispatcher, &fakeRequestManager{})

	var a, b, c, d types.Address
	a[0], b[0], c[0], d[0] = 1, 2, 3, 4

	resolver.bind(a, "peer-a")
	resolver.bind(b, "peer-b")
	// c has no handle at all
	resolver.bind(d, "peer-d")
	dispatcher.failFor["peer-b"] = errors.New("connection reset")

	err := sender.SendToMany([]types.Address{a, b, c, d}, types.NewVoteMsg(&types.VoteMsg{}))
	if err != nil {
		t.Fatalf("SendToMany should not surface per-recipient failures, got %v", err)
	}

	// a and d handed off; b failed; c skipped.
	if dispatcher.count() != 2 {
		t.Errorf("Expected 2 hand-offs, got %d", dispatcher.count())
	}

	stats := sender.Stats()
	if stats.HandoffFailures != 1 {
		t.Errorf("Expected 1 hand-off failure, got %d", stats.HandoffFailures)
	}
	if stats.ResolutionMisses != 1 {
		t.Errorf("Expected 1 resolution miss, got %d", stats.ResolutionMisses)
	}
}

func TestSendRPCResponse(t *testing.T) {
	resolver := newFakeResolver()
	manager := &fakeRequestManager{
		respond: func(recipient types.PeerHandle, req types.ConsensusMsg) (types.ConsensusMsg, error) {
			return types.NewBlockRetrievalResponseMsg(&types.BlockRetrievalResponse{
				Status: types.RetrievalSucceeded,
				Blocks: []types.Block{{ID: req.BlockRetrievalRequest().BlockID}},
			}), nil
		},
	}
	sender := newTestSender(resolver, newFakeDispatcher(), manager)

	req := types.NewBlockRetrievalRequestMsg(&types.BlockRetrievalRequest{BlockID: "b7", NumBlocks: 1})
	resp, err := sender.SendRPC(context.Background(), nil, req)
	if err != nil {
		t.Fatalf("SendRPC failed: %v", err)
	}
	if resp.Kind() != types.KindBlockRetrievalResponse {
		t.Fatalf("Expected retrieval response, got %s", resp.Kind())
	}
	if resp.BlockRetrievalResponse().Blocks[0].ID != "b7" {
		t.Errorf("Response does not correspond to the request")
	}
}

func TestSendRPCTargetsResolvedPeer(t *testing.T) {
	resolver := newFakeResolver()
	var addr types.Address
	addr[0] = 9
	resolver.bind(addr, "peer-9")

	var seen types.PeerHandle
	manager := &fakeRequestManager{
		respond: func(recipient types.PeerHandle, req types.ConsensusMsg) (types.ConsensusMsg, error) {
			seen = recipient
			return types.NewEpochChangeProofMsg(&types.EpochChangeProof{}), nil
		},
	}
	sender := newTestSender(resolver, newFakeDispatcher(), manager)

	req := types.NewEpochRetrievalRequestMsg(&types.EpochRetrievalRequest{StartEpoch: 1, EndEpoch: 2})
	if _, err := sender.SendRPC(context.Background(), &addr, req); err != nil {
		t.Fatalf("SendRPC failed: %v", err)
	}
	if seen != "peer-9" {
		t.Errorf("Expected request issued to peer-9, got %q", seen)
	}
}

func TestSendRPCUnresolvedRecipient(t *testing.T) {
	sender := newTestSender(newFakeResolver(), newFakeDispatcher(), &fakeRequestManager{})

	var addr types.Address
	addr[0] = 9

	req := types.NewBlockRetrievalRequestMsg(&types.BlockRetrievalRequest{BlockID: "b1", NumBlocks: 1})
	_, err := sender.SendRPC(context.Background(), &addr, req)
	if !errors.Is(err, ErrPeerUnavailable) {
		t.Errorf("Expected ErrPeerUnavailable, got %v", err)
	}
}

func TestSendRPCHandoffFailure(t *testing.T) {
	manager := &fakeRequestManager{issueErr: errors.New("no route")}
	sender := newTestSender(newFakeResolver(), newFakeDispatcher(), manager)

	req := types.NewBlockRetrievalRequestMsg(&types.BlockRetrievalRequest{BlockID: "b1", NumBlocks: 1})
	_, err := sender.SendRPC(context.Background(), nil, req)
	if err == nil {
		t.Fatal("Expected error when Issue fails")
	}
	if sender.Stats().RPCFailed != 1 {
		t.Errorf("Expected 1 failed rpc, got %d", sender.Stats().RPCFailed)
	}
}

func TestSendRPCManagerFailure(t *testing.T) {
	wantErr := errors.New("request timed out")
	manager := &fakeRequestManager{
		respond: func(types.PeerHandle, types.ConsensusMsg) (types.ConsensusMsg, error) {
			return types.ConsensusMsg{}, wantErr
		},
	}
	sender := newTestSender(newFakeResolver(), newFakeDispatcher(), manager)

	req := types.NewBlockRetrievalRequestMsg(&types.BlockRetrievalRequest{BlockID: "b1", NumBlocks: 1})
	_, err := sender.SendRPC(context.Background(), nil, req)
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected manager failure to propagate, got %v", err)
	}
}

func TestSendRPCCallerCancellation(t *testing.T) {
	// The manager never completes the slot; the caller must not hang.
	sender := newTestSender(newFakeResolver(), newFakeDispatcher(), &fakeRequestManager{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req := types.NewBlockRetrievalRequestMsg(&types.BlockRetrievalRequest{BlockID: "b1", NumBlocks: 1})
	_, err := sender.SendRPC(ctx, nil, req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestSendRPCConcurrentCorrelation(t *testing.T) {
	// Each of N concurrent RPCs must observe exactly the response to its
	// own request, with no cross-delivery between the slots.
	manager := &fakeRequestManager{
		respond: func(_ types.PeerHandle, req types.ConsensusMsg) (types.ConsensusMsg, error) {
			time.Sleep(time.Millisecond)
			return types.NewBlockRetrievalResponseMsg(&types.BlockRetrievalResponse{
				Blocks: []types.Block{{ID: req.BlockRetrievalRequest().BlockID}},
			}), nil
		},
	}
	sender := newTestSender(newFakeResolver(), newFakeDispatcher(), manager)

	const calls = 200
	var wg sync.WaitGroup
	errCh := make(chan error, calls)

	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("block-%d", i)
			req := types.NewBlockRetrievalRequestMsg(&types.BlockRetrievalRequest{BlockID: id, NumBlocks: 1})
			resp, err := sender.SendRPC(context.Background(), nil, req)
			if err != nil {
				errCh <- err
				return
			}
			if got := resp.BlockRetrievalResponse().Blocks[0].ID; got != id {
				errCh <- fmt.Errorf("rpc %d received response for %s", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
	if sender.Stats().RPCIssued != calls {
		t.Errorf("Expected %d issued rpcs, got %d", calls, sender.Stats().RPCIssued)
	}
}

func TestSendSelfDelivery(t *testing.T) {
	sender := newTestSender(newFakeResolver(), newFakeDispatcher(), &fakeRequestManager{})

	if err := sender.SendSelf(types.NewProposalMsg(&types.ProposalMsg{})); err != nil {
		t.Fatalf("SendSelf failed: %v", err)
	}

	key := QueueKey{Address: sender.Self(), Kind: types.KindProposal}
	msg, err := sender.loopback.Receive(context.Background(), key)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if msg.Kind() != types.KindProposal {
		t.Errorf("Expected exactly one ProposalMsg delivery, got %s", msg.Kind())
	}
	if sender.loopback.Len(key) != 0 {
		t.Errorf("Expected single delivery, %d left in queue", sender.loopback.Len(key))
	}
}

func TestSendSelfAfterClose(t *testing.T) {
	sender := newTestSender(newFakeResolver(), newFakeDispatcher(), &fakeRequestManager{})
	sender.loopback.Close()

	err := sender.SendSelf(types.NewVoteMsg(&types.VoteMsg{}))
	if !errors.Is(err, ErrLoopbackClosed) {
		t.Errorf("Expected ErrLoopbackClosed, got %v", err)
	}
}
