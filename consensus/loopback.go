package consensus

import (
	"context"
	"errors"
	"sync"

	"github.com/openbft/consensuswire/types"
)

// Loopback errors
var (
	ErrLoopbackClosed = errors.New("loopback queue is closed")
)

// QueueKey identifies one loopback queue: a participant address paired
// with a message kind. Messages under the same key keep their relative
// arrival order; different keys are consumed independently so one kind
// can never starve or reorder another.
type QueueKey struct {
	Address types.Address
	Kind    types.Kind
}

// loopQueue is the FIFO for a single key.
type loopQueue struct {
	msgs   []types.ConsensusMsg
	notify chan struct{}
}

// Loopback delivers self-addressed envelopes without touching the
// network. Enqueue fails only after Close; a self-message is considered
// locally reliable so any drop must be observable to the sender.
type Loopback struct {
	mu     sync.Mutex
	queues map[QueueKey]*loopQueue
	closed bool
	done   chan struct{}
}

// NewLoopback creates an empty loopback queue set.
func NewLoopback() *Loopback {
	return &Loopback{
		queues: make(map[QueueKey]*loopQueue),
		done:   make(chan struct{}),
	}
}

// Enqueue appends the envelope to the queue keyed by (addr, msg.Kind()).
// It never blocks.
func (l *Loopback) Enqueue(addr types.Address, msg types.ConsensusMsg) error {
	key := QueueKey{Address: addr, Kind: msg.Kind()}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopbackClosed
	}
	q := l.queue(key)
	q.msgs = append(q.msgs, msg)
	l.mu.Unlock()

	// Wake one waiting receiver, if any.
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive pops the oldest envelope for key, suspending until one is
// available, ctx is done, or the loopback is closed. Remaining messages
// stay receivable after Close until the queue drains.
func (l *Loopback) Receive(ctx context.Context, key QueueKey) (types.ConsensusMsg, error) {
	for {
		l.mu.Lock()
		q := l.queue(key)
		if len(q.msgs) > 0 {
			msg := q.msgs[0]
			q.msgs = q.msgs[1:]
			l.mu.Unlock()
			return msg, nil
		}
		closed := l.closed
		l.mu.Unlock()

		if closed {
			return types.ConsensusMsg{}, ErrLoopbackClosed
		}

		select {
		case <-ctx.Done():
			return types.ConsensusMsg{}, ctx.Err()
		case <-q.notify:
		case <-l.done:
		}
	}
}

// Len returns the number of pending envelopes under key.
func (l *Loopback) Len(key QueueKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.queues[key]
	if !ok {
		return 0
	}
	return len(q.msgs)
}

// Close tears the loopback down. Subsequent Enqueue calls report
// ErrLoopbackClosed; receivers drain what is left, then observe the same.
func (l *Loopback) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
}

// queue returns the FIFO for key, creating it lazily (called with lock held).
func (l *Loopback) queue(key QueueKey) *loopQueue {
	q, ok := l.queues[key]
	if !ok {
		q = &loopQueue{notify: make(chan struct{}, 1)}
		l.queues[key] = q
	}
	return q
}
