package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openbft/consensuswire/types"
)

// Common errors for transport operations
var (
	ErrNodeNotRunning = errors.New("node is not running")
	ErrPeerNotFound   = errors.New("peer not found")
	ErrSendFailed     = errors.New("failed to send frame")
)

// PeerInfo describes a currently reachable peer.
type PeerInfo struct {
	Handle   types.PeerHandle `json:"handle"`
	Endpoint string           `json:"endpoint"`
	LastSeen time.Time        `json:"last_seen"`
}

// FrameHandler consumes inbound frames for one registered channel.
type FrameHandler func(from types.PeerHandle, frame *Frame)

// Config defines configuration for a transport node.
type Config struct {
	NodeID string `json:"node_id"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NodeID: "node-1",
		Host:   "127.0.0.1",
		Port:   7000,
	}
}

// Node is a ZeroMQ transport node: one ROUTER socket for receiving and
// one DEALER socket per peer for sending. It owns the peer table and the
// participant address bindings; the consensus layer only sees the
// read-only Resolve capability.
type Node struct {
	cfg     Config
	address string

	ctx    context.Context
	cancel context.CancelFunc

	router  zmq4.Socket                      // ROUTER socket for receiving
	dealers map[types.PeerHandle]zmq4.Socket // DEALER sockets for sending (per peer)

	peers        map[types.PeerHandle]*PeerInfo
	participants map[types.Address]types.PeerHandle
	handlers     map[string]FrameHandler
	mu           sync.RWMutex

	frameChan chan *Frame
	metrics   *Metrics

	running bool
	wg      sync.WaitGroup
}

// NewNode creates a transport node. A nil metrics uses the default
// Prometheus registerer.
func NewNode(cfg Config, metrics *Metrics) *Node {
	if metrics == nil {
		metrics = NewMetrics("consensuswire", prometheus.DefaultRegisterer)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		cfg:          cfg,
		address:      fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port),
		ctx:          ctx,
		cancel:       cancel,
		dealers:      make(map[types.PeerHandle]zmq4.Socket),
		peers:        make(map[types.PeerHandle]*PeerInfo),
		participants: make(map[types.Address]types.PeerHandle),
		handlers:     make(map[string]FrameHandler),
		frameChan:    make(chan *Frame, 1000),
		metrics:      metrics,
	}
}

// RegisterChannel installs the handler for one protocol channel. Frames
// on unregistered channels are dropped on receive; Dispatch on an
// unregistered channel is a fatal misconfiguration. Must be called
// before Start.
func (n *Node) RegisterChannel(channel string, handler FrameHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[channel] = handler
}

// Start begins the node's network operations.
func (n *Node) Start() error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return errors.New("node already running")
	}

	n.router = zmq4.NewRouter(n.ctx, zmq4.WithID(zmq4.SocketIdentity(n.cfg.NodeID)))

	if err := n.router.Listen(n.address); err != nil {
		n.mu.Unlock()
		return fmt.Errorf("failed to bind router: %w", err)
	}

	n.running = true
	n.mu.Unlock()

	n.wg.Add(1)
	go n.receiverLoop()

	n.wg.Add(1)
	go n.frameProcessor()

	log.Printf("network: node %s listening at %s", n.cfg.NodeID, n.address)
	return nil
}

// Stop gracefully shuts down the node.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	// Snapshot the dealers under the lock: an in-flight send that passed
	// the running check may still be inserting into the map.
	dealers := make([]zmq4.Socket, 0, len(n.dealers))
	for _, dealer := range n.dealers {
		dealers = append(dealers, dealer)
	}
	n.dealers = make(map[types.PeerHandle]zmq4.Socket)
	n.mu.Unlock()

	n.cancel()

	// Socket close errors are expected during shutdown.
	if n.router != nil {
		_ = n.router.Close()
	}
	for _, dealer := range dealers {
		_ = dealer.Close()
	}

	n.wg.Wait()
	close(n.frameChan)

	log.Printf("network: node %s stopped", n.cfg.NodeID)
}

// RegisterPeer adds a reachable peer to the peer table.
func (n *Node) RegisterPeer(handle types.PeerHandle, endpoint string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.peers[handle] = &PeerInfo{
		Handle:   handle,
		Endpoint: endpoint,
		LastSeen: time.Now(),
	}
}

// UnregisterPeer removes a peer; its handle becomes unresolvable at once.
func (n *Node) UnregisterPeer(handle types.PeerHandle) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.peers, handle)

	if dealer, ok := n.dealers[handle]; ok {
		_ = dealer.Close()
		delete(n.dealers, handle)
	}
}

// BindParticipant maps a participant address to a peer handle. The
// binding survives until rebound or unbound, but only resolves while
// the handle stays in the peer table.
func (n *Node) BindParticipant(addr types.Address, handle types.PeerHandle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.participants[addr] = handle
}

// UnbindParticipant drops a participant's address binding.
func (n *Node) UnbindParticipant(addr types.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.participants, addr)
}

// Resolve maps a participant address to a live peer handle. Absence
// (no binding, or a binding to a disconnected peer) is a normal outcome.
// Callers look handles up fresh on every send; nothing here is cached.
func (n *Node) Resolve(addr types.Address) (types.PeerHandle, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	handle, ok := n.participants[addr]
	if !ok {
		return "", false
	}
	if _, connected := n.peers[handle]; !connected {
		return "", false
	}
	return handle, true
}

// AnyPeer returns some currently connected peer, used when an RPC does
// not target a specific recipient.
func (n *Node) AnyPeer() (types.PeerHandle, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for handle := range n.peers {
		return handle, true
	}
	return "", false
}

// Dispatch hands one envelope to the transport on a channel. A nil
// return means the frame was accepted for sending, not delivered.
// Dispatching on a channel that was never registered is a programming
// error and panics.
func (n *Node) Dispatch(channel string, peer types.PeerHandle, msg types.ConsensusMsg) error {
	n.mu.RLock()
	_, registered := n.handlers[channel]
	n.mu.RUnlock()
	if !registered {
		panic(fmt.Sprintf("network: dispatch on unregistered channel %q", channel))
	}

	payload, err := msg.MarshalJSON()
	if err != nil {
		n.metrics.DispatchFailures.WithLabelValues(channel).Inc()
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	frame := &Frame{
		Channel:   channel,
		From:      n.cfg.NodeID,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	if err := n.sendFrame(peer, frame); err != nil {
		n.metrics.DispatchFailures.WithLabelValues(channel).Inc()
		return err
	}

	n.metrics.Dispatches.WithLabelValues(channel).Inc()
	return nil
}

// sendFrame serializes and sends one frame to a peer's DEALER socket.
func (n *Node) sendFrame(peer types.PeerHandle, frame *Frame) error {
	n.mu.RLock()
	if !n.running {
		n.mu.RUnlock()
		return ErrNodeNotRunning
	}
	info, ok := n.peers[peer]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, peer)
	}

	dealer, err := n.getOrCreateDealer(peer, info.Endpoint)
	if err != nil {
		return err
	}

	data, err := encodeFrame(frame)
	if err != nil {
		return err
	}

	if err := dealer.Send(zmq4.NewMsg(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// getOrCreateDealer gets or creates a DEALER socket for a peer.
func (n *Node) getOrCreateDealer(peer types.PeerHandle, endpoint string) (zmq4.Socket, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if dealer, ok := n.dealers[peer]; ok {
		return dealer, nil
	}

	dealer := zmq4.NewDealer(n.ctx, zmq4.WithID(zmq4.SocketIdentity(n.cfg.NodeID)))
	if err := dealer.Dial(endpoint); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	n.dealers[peer] = dealer
	return dealer, nil
}

// receiverLoop continuously receives frames from the ROUTER socket.
func (n *Node) receiverLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		default:
			msg, err := n.router.Recv()
			if err != nil {
				select {
				case <-n.ctx.Done():
					return
				default:
					continue
				}
			}

			frame, err := decodeFrame(msg.Bytes())
			if err != nil {
				n.metrics.InboundDropped.Inc()
				continue
			}

			n.metrics.InboundFrames.WithLabelValues(frame.Channel).Inc()
			n.touchPeer(types.PeerHandle(frame.From))

			select {
			case n.frameChan <- frame:
			default:
				// Queue full, drop frame.
				n.metrics.InboundDropped.Inc()
			}
		}
	}
}

// frameProcessor routes queued frames to their channel handlers.
func (n *Node) frameProcessor() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case frame, ok := <-n.frameChan:
			if !ok {
				return
			}
			n.deliver(frame)
		}
	}
}

// deliver hands one frame to its channel's handler, if registered.
func (n *Node) deliver(frame *Frame) {
	n.mu.RLock()
	handler := n.handlers[frame.Channel]
	n.mu.RUnlock()

	if handler == nil {
		n.metrics.InboundDropped.Inc()
		log.Printf("network: dropping frame on unknown channel %q from %s", frame.Channel, frame.From)
		return
	}
	handler(types.PeerHandle(frame.From), frame)
}

// touchPeer updates a peer's liveness timestamp.
func (n *Node) touchPeer(handle types.PeerHandle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if peer, ok := n.peers[handle]; ok {
		peer.LastSeen = time.Now()
	}
}

// Peers returns a copy of the peer table.
func (n *Node) Peers() map[types.PeerHandle]*PeerInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()

	peers := make(map[types.PeerHandle]*PeerInfo, len(n.peers))
	for handle, info := range n.peers {
		copied := *info
		peers[handle] = &copied
	}
	return peers
}

// IsRunning returns whether the node has been started.
func (n *Node) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// NodeStats contains node statistics.
type NodeStats struct {
	NodeID       string `json:"node_id"`
	Address      string `json:"address"`
	PeerCount    int    `json:"peer_count"`
	Participants int    `json:"participants"`
	IsRunning    bool   `json:"is_running"`
	QueueSize    int    `json:"queue_size"`
}

// Stats returns current node statistics.
func (n *Node) Stats() NodeStats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return NodeStats{
		NodeID:       n.cfg.NodeID,
		Address:      n.address,
		PeerCount:    len(n.peers),
		Participants: len(n.participants),
		IsRunning:    n.running,
		QueueSize:    len(n.frameChan),
	}
}
