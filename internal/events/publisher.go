package events

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"order-engine/internal/monitor"
	"order-engine/internal/order"
	"order-engine/pkg/cache"
)

var (
	ErrHandleClosed = errors.New("subscriber handle closed")
	ErrSlowConsumer = errors.New("subscriber buffer full")
)

// Handle is one subscriber connection. Implementations must be comparable
// (pointer types) since handles are kept in a set.
type Handle interface {
	Send(update order.StatusUpdate) error
	Closed() bool
}

// Publisher fans status updates out to the handles subscribed to an order.
// Updates are not buffered: a handle only sees updates broadcast while it is
// subscribed.
type Publisher struct {
	subs    *cache.ShardedSet[Handle]
	log     *zap.Logger
	metrics *monitor.Metrics
}

func NewPublisher(log *zap.Logger, metrics *monitor.Metrics) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{subs: cache.NewShardedSet[Handle](), log: log, metrics: metrics}
}

// Subscribe attaches h to orderID.
func (p *Publisher) Subscribe(orderID string, h Handle) {
	if p.subs.Add(orderID, h) {
		p.metrics.SetSubscribers(p.subs.Stats().Members)
		p.log.Debug("subscriber attached", zap.String("order_id", orderID), zap.Int("subscribers", p.subs.Count(orderID)))
	}
}

// Unsubscribe detaches h. The order entry is dropped with its last handle.
func (p *Publisher) Unsubscribe(orderID string, h Handle) {
	if p.subs.Remove(orderID, h) {
		p.metrics.SetSubscribers(p.subs.Stats().Members)
		p.log.Debug("subscriber detached", zap.String("order_id", orderID))
	}
}

// Broadcast sends update to every open handle of orderID. Closed handles are
// skipped and a failing send does not affect the others.
func (p *Publisher) Broadcast(orderID string, update order.StatusUpdate) {
	handles := p.subs.Members(orderID)
	if len(handles) == 0 {
		return
	}

	delivered, dropped := 0, 0
	for _, h := range handles {
		if h.Closed() {
			continue
		}
		if err := h.Send(update); err != nil {
			dropped++
			p.log.Warn("status update not delivered",
				zap.String("order_id", orderID),
				zap.String("status", string(update.Status)),
				zap.Error(err))
			continue
		}
		delivered++
	}
	p.metrics.Broadcast(delivered, dropped)
	p.log.Debug("status broadcast",
		zap.String("order_id", orderID),
		zap.String("status", string(update.Status)),
		zap.Int("delivered", delivered))
}

// Count returns the number of handles subscribed to orderID.
func (p *Publisher) Count(orderID string) int {
	return p.subs.Count(orderID)
}

// Stats reports registry occupancy.
func (p *Publisher) Stats() cache.Stats {
	return p.subs.Stats()
}

// Stream subscribes a buffered channel to orderID. The returned cancel
// unsubscribes and closes the channel; it is safe to call more than once.
func (p *Publisher) Stream(orderID string, buffer int) (<-chan order.StatusUpdate, func()) {
	h := newChanHandle(buffer)
	p.Subscribe(orderID, h)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.Unsubscribe(orderID, h)
			h.close()
		})
	}
	return h.ch, cancel
}

type chanHandle struct {
	mu     sync.Mutex
	ch     chan order.StatusUpdate
	closed bool
}

func newChanHandle(buffer int) *chanHandle {
	if buffer <= 0 {
		buffer = 16
	}
	return &chanHandle{ch: make(chan order.StatusUpdate, buffer)}
}

func (h *chanHandle) Send(u order.StatusUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	select {
	case h.ch <- u:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (h *chanHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *chanHandle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.ch)
	}
}
