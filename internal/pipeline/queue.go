// Package pipeline wires the per-symbol processing stages together with
// bounded single-producer/single-consumer queues. The hot path (frames and
// book views) drops old data rather than stall; the cold path (samples and
// events) applies real backpressure.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// OverflowPolicy selects what Push does when the queue is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued item to make room. Never blocks.
	DropOldest OverflowPolicy = iota
	// Block waits until the consumer makes room or ctx is done.
	Block
	// BlockThenDrop waits briefly, then falls back to DropOldest.
	BlockThenDrop
)

// blockWait is how long BlockThenDrop waits before evicting.
const blockWait = 50 * time.Millisecond

// QueueStats is a point-in-time copy of one queue's counters.
type QueueStats struct {
	Pushed  uint64
	Dropped uint64
}

// Queue is a bounded SPSC queue. The producer owns Close; Pop keeps draining
// queued items after Close and then reports domain.ErrQueueClosed.
type Queue[T any] struct {
	policy OverflowPolicy
	ch     chan T

	pushed  atomic.Uint64
	dropped atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewQueue builds a queue with the given capacity and overflow policy.
func NewQueue[T any](capacity int, policy OverflowPolicy) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		policy: policy,
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Push enqueues v according to the overflow policy. It returns
// domain.ErrQueueClosed after Close and ctx.Err() when cancelled while
// blocked.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	select {
	case <-q.closed:
		return domain.ErrQueueClosed
	default:
	}

	switch q.policy {
	case Block:
		select {
		case q.ch <- v:
			q.pushed.Add(1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return domain.ErrQueueClosed
		}
	case BlockThenDrop:
		timer := time.NewTimer(blockWait)
		defer timer.Stop()
		select {
		case q.ch <- v:
			q.pushed.Add(1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return domain.ErrQueueClosed
		case <-timer.C:
		}
	}

	// DropOldest, or BlockThenDrop past its grace period.
	for {
		select {
		case q.ch <- v:
			q.pushed.Add(1)
			return nil
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop dequeues the next item. After Close it keeps returning queued items
// until the queue is empty, then reports domain.ErrQueueClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-q.ch:
		return v, nil
	default:
	}
	select {
	case v := <-q.ch:
		return v, nil
	case <-q.closed:
		// Drain whatever raced in before the close.
		select {
		case v := <-q.ch:
			return v, nil
		default:
			return zero, domain.ErrQueueClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryPop dequeues without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// C exposes the receive end for consumers that select across several inputs.
// Pair it with Done and TryPop to drain after the producer closes.
func (q *Queue[T]) C() <-chan T { return q.ch }

// Done is closed by Close.
func (q *Queue[T]) Done() <-chan struct{} { return q.closed }

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Close marks the queue closed. Only the producer may call it; queued items
// remain poppable.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Stats returns a copy of the counters.
func (q *Queue[T]) Stats() QueueStats {
	return QueueStats{
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
	}
}
