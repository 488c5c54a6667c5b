package order

import (
	"context"
	"sync"

	"order-engine/internal/monitor"
)

// Queue is the in-process dispatch queue. It holds orders in FIFO order and
// tracks every order id that is queued or executing, so a second submit for
// the same id is ignored until Done is called for it. Next supports a single
// consumer.
type Queue struct {
	mu      sync.Mutex
	items   []Order
	pending map[string]struct{}
	running int
	closed  bool

	notify chan struct{}
	done   chan struct{}

	metrics *monitor.Metrics
}

func NewQueue(metrics *monitor.Metrics) *Queue {
	return &Queue{
		pending: make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		metrics: metrics,
	}
}

// Submit enqueues o unless an order with the same id is already queued or
// executing. It reports whether o was accepted.
func (q *Queue) Submit(o Order) (bool, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrQueueClosed
	}
	if _, dup := q.pending[o.ID]; dup {
		q.mu.Unlock()
		q.metrics.Submitted(false)
		return false, nil
	}
	q.pending[o.ID] = struct{}{}
	q.items = append(q.items, o)
	q.observe()
	q.mu.Unlock()

	q.metrics.Submitted(true)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true, nil
}

// Next blocks until an order is available and pops it. The order stays
// marked in flight until Done. Returns ErrQueueClosed once the queue is
// closed, even if orders are still waiting.
func (q *Queue) Next(ctx context.Context) (Order, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Order{}, ErrQueueClosed
		}
		if len(q.items) > 0 {
			o := q.items[0]
			q.items[0] = Order{}
			q.items = q.items[1:]
			q.running++
			q.observe()
			q.mu.Unlock()
			return o, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Order{}, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

// Done releases the in-flight mark taken by Next.
func (q *Queue) Done(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[id]; !ok {
		return
	}
	delete(q.pending, id)
	if q.running > 0 {
		q.running--
	}
	q.observe()
}

// Len returns the number of orders waiting for admission.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns the number of popped orders not yet marked Done.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Close stops accepting orders and wakes a blocked Next. Orders still
// queued are left behind; they remain PENDING in the store.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) observe() {
	q.metrics.SetQueue(len(q.items), q.running)
}
