package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"order-engine/pkg/db"
	"order-engine/pkg/dex"
)

const (
	testTokenIn  = "So11111111111111111111111111111111111111112"
	testTokenOut = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// memStore is an in-memory Store that also records every persisted status.
type memStore struct {
	mu        sync.Mutex
	orders    map[string]Order
	history   map[string][]Status
	failOn    Status
	failErr   error
	lastNanos int64
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]Order), history: make(map[string][]Status)}
}

func (s *memStore) CreateOrder(_ context.Context, o Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return Order{}, db.ErrDuplicate
	}
	s.orders[o.ID] = o
	s.history[o.ID] = append(s.history[o.ID], o.Status)
	return o, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status Status, f Fields) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && s.failOn == status {
		return Order{}, s.failErr
	}
	o, ok := s.orders[id]
	if !ok {
		return Order{}, db.ErrNotFound
	}
	o.Status = status
	if f.SelectedDex != "" {
		o.SelectedDex = f.SelectedDex
	}
	if f.ExecutedPrice != nil {
		o.ExecutedPrice = f.ExecutedPrice
	}
	if f.TxHash != "" {
		o.TxHash = f.TxHash
	}
	if f.Error != "" {
		o.Error = f.Error
	}
	if f.Attempts > 0 {
		o.Attempts = f.Attempts
	}
	now := time.Now().UnixNano()
	if now <= s.lastNanos {
		now = s.lastNanos + 1
	}
	s.lastNanos = now
	o.UpdatedAt = time.Unix(0, now)
	s.orders[id] = o
	s.history[id] = append(s.history[id], status)
	return o, nil
}

func (s *memStore) FindByID(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, db.ErrNotFound
	}
	return o, nil
}

func (s *memStore) FindByStatus(_ context.Context, status Status) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) FindRecent(_ context.Context, limit int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) statuses(id string) []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.history[id]...)
}

func (s *memStore) seed(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	s.history[o.ID] = append(s.history[o.ID], o.Status)
}

// recordingPublisher keeps every broadcast per order.
type recordingPublisher struct {
	mu      sync.Mutex
	updates map[string][]StatusUpdate
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{updates: make(map[string][]StatusUpdate)}
}

func (p *recordingPublisher) Broadcast(id string, u StatusUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates[id] = append(p.updates[id], u)
}

func (p *recordingPublisher) get(id string) []StatusUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StatusUpdate(nil), p.updates[id]...)
}

func (p *recordingPublisher) statuses(id string) []Status {
	var out []Status
	for _, u := range p.get(id) {
		out = append(out, u.Status)
	}
	return out
}

// scriptedVenue returns fixed quotes and fails swaps according to failSwaps:
// the first failSwaps swap calls per order fail.
type scriptedVenue struct {
	provider  string
	quoteErr  error
	failSwaps int
	swapDelay time.Duration

	mu       sync.Mutex
	calls    map[string]int
	active   int
	peak     int
	total    atomic.Int64
	started  []time.Time
}

func newScriptedVenue(failSwaps int) *scriptedVenue {
	return &scriptedVenue{provider: "meteora", failSwaps: failSwaps, calls: make(map[string]int)}
}

func (v *scriptedVenue) BestQuote(_ context.Context, _, _ string, amountIn float64) (dex.Quote, error) {
	if v.quoteErr != nil {
		return dex.Quote{}, v.quoteErr
	}
	return dex.NewQuote(v.provider, amountIn, 100, 0.002), nil
}

func (v *scriptedVenue) ExecuteSwap(ctx context.Context, provider string, req dex.SwapRequest) (dex.SwapResult, error) {
	v.mu.Lock()
	key := req.TokenIn + fmt.Sprint(req.AmountIn)
	v.calls[key]++
	n := v.calls[key]
	v.active++
	if v.active > v.peak {
		v.peak = v.active
	}
	v.started = append(v.started, time.Now())
	v.mu.Unlock()
	v.total.Add(1)

	defer func() {
		v.mu.Lock()
		v.active--
		v.mu.Unlock()
	}()

	if v.swapDelay > 0 {
		select {
		case <-time.After(v.swapDelay):
		case <-ctx.Done():
			return dex.SwapResult{}, ctx.Err()
		}
	}
	if n <= v.failSwaps {
		return dex.SwapResult{}, fmt.Errorf("%s execution failed: %w", provider, dex.ErrInsufficientLiquidity)
	}
	return dex.SwapResult{Provider: provider, TxHash: "tx-" + provider, ExecutedPrice: 100.5, AmountOut: req.AmountIn * 100.5}, nil
}

func (v *scriptedVenue) peakConcurrency() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.peak
}

func (v *scriptedVenue) startTimes() []time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]time.Time(nil), v.started...)
}

func newTestOrder(id string, amount float64) Order {
	return Order{
		ID:        id,
		TokenIn:   testTokenIn,
		TokenOut:  testTokenOut,
		AmountIn:  amount,
		Slippage:  0.01,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

var errStoreDown = errors.New("store down")

// allowed reports whether seq is a path through the order state graph that
// restarts at ROUTING at most restarts times.
func allowed(seq []Status, restarts int) bool {
	next := map[Status][]Status{
		StatusPending:   {StatusRouting},
		StatusRouting:   {StatusBuilding, StatusFailed},
		StatusBuilding:  {StatusSubmitted, StatusFailed},
		StatusSubmitted: {StatusConfirmed, StatusFailed},
		StatusFailed:    {StatusRouting, StatusFailed},
	}
	seen := 0
	for i := 1; i < len(seq); i++ {
		ok := false
		for _, s := range next[seq[i-1]] {
			if s == seq[i] {
				ok = true
			}
		}
		if !ok {
			return false
		}
		if seq[i-1] == StatusFailed && seq[i] == StatusRouting {
			seen++
		}
	}
	return seen <= restarts
}
