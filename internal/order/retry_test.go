package order

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(0))

	assert.Equal(t, 1, RetryPolicy{MaxRetries: 0}.MaxAttempts())
	assert.Equal(t, 1, RetryPolicy{MaxRetries: -2}.MaxAttempts())
	assert.Equal(t, 0*time.Second, RetryPolicy{}.Delay(3))
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newTestRetrier(store Store, venue Venue, pub Publisher, policy RetryPolicy) (*Retrier, *sleepRecorder) {
	rec := &sleepRecorder{}
	r := NewRetrier(NewExecutor(store, venue, pub, nil), policy, nil, nil)
	r.sleep = rec.sleep
	return r, rec
}

func TestRetrierExhaustion(t *testing.T) {
	store := newMemStore()
	pub := newRecordingPublisher()
	o := newTestOrder("o-ex", 10)
	store.seed(o)

	r, rec := newTestRetrier(store, newScriptedVenue(100), pub, RetryPolicy{MaxRetries: 3, BaseDelay: time.Second})
	out := r.Run(context.Background(), o)

	assert.Equal(t, 3, out.Attempts)
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, out.Err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)

	assert.Equal(t, StatusFailed, out.Order.Status)
	assert.True(t, strings.HasPrefix(out.Order.Error, "failed after 3 attempts: "), out.Order.Error)
	assert.Contains(t, out.Order.Error, "insufficient liquidity")
	assert.Equal(t, 3, out.Order.Attempts)

	seq := pub.statuses(o.ID)
	assert.True(t, allowed(append([]Status{StatusPending}, seq...), 2), "sequence %v", seq)
	assert.Len(t, seq, 3*4+1)

	updates := pub.get(o.ID)
	final := updates[len(updates)-1]
	assert.Equal(t, StatusFailed, final.Status)
	assert.True(t, final.Final)
	for _, u := range updates[:len(updates)-1] {
		assert.False(t, u.Final)
	}
}

func TestRetrierSucceedsAfterFailure(t *testing.T) {
	store := newMemStore()
	pub := newRecordingPublisher()
	o := newTestOrder("o-ok", 11)
	store.seed(o)

	r, rec := newTestRetrier(store, newScriptedVenue(1), pub, RetryPolicy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond})
	out := r.Run(context.Background(), o)

	require.NoError(t, out.Err)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, StatusConfirmed, out.Order.Status)
	assert.Equal(t, 2, out.Order.Attempts)
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, rec.delays)
	assert.Equal(t, []Status{
		StatusRouting, StatusBuilding, StatusSubmitted, StatusFailed,
		StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed,
	}, pub.statuses(o.ID))

	updates := pub.get(o.ID)
	assert.Equal(t, 1, updates[0].Attempt)
	assert.Equal(t, 2, updates[len(updates)-1].Attempt)
}

func TestRetrierSingleAttemptWhenRetriesDisabled(t *testing.T) {
	store := newMemStore()
	pub := newRecordingPublisher()
	o := newTestOrder("o-one", 12)
	store.seed(o)

	r, rec := newTestRetrier(store, newScriptedVenue(100), pub, RetryPolicy{MaxRetries: 0, BaseDelay: time.Second})
	out := r.Run(context.Background(), o)

	assert.Equal(t, 1, out.Attempts)
	assert.Error(t, out.Err)
	assert.Empty(t, rec.delays)
	assert.Equal(t, "failed after 1 attempts: swap: meteora execution failed: insufficient liquidity", out.Order.Error)
}

func TestRetrierRealBackoffTiming(t *testing.T) {
	store := newMemStore()
	o := newTestOrder("o-time", 13)
	store.seed(o)

	base := 40 * time.Millisecond
	r := NewRetrier(NewExecutor(store, newScriptedVenue(100), nil, nil), RetryPolicy{MaxRetries: 3, BaseDelay: base}, nil, nil)

	start := time.Now()
	out := r.Run(context.Background(), o)
	elapsed := time.Since(start)

	assert.Error(t, out.Err)
	assert.GreaterOrEqual(t, elapsed, 3*base)
}
