package order

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-engine/pkg/db"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return NewSQLStore(database)
}

var testPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

func slippage(v float64) *float64 { return &v }

func validRequest() OrderRequest {
	return OrderRequest{
		TokenIn:  testTokenIn,
		TokenOut: testTokenOut,
		AmountIn: 1.5,
		Slippage: slippage(0.01),
	}
}

func TestSubmitOrderPersistsPendingAndQueues(t *testing.T) {
	store := newSQLStore(t)
	q := NewQueue(nil)
	svc := NewService(store, q, testPolicy, nil)

	o, err := svc.SubmitOrder(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Len(t, o.ID, 36)
	assert.Equal(t, StatusPending, o.Status)

	stored, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, 1.5, stored.AmountIn)
	assert.Equal(t, 0.01, stored.Slippage)
	assert.Equal(t, 1, q.Len())
}

func TestSubmitOrderValidation(t *testing.T) {
	svc := NewService(newMemStore(), NewQueue(nil), testPolicy, nil)

	cases := map[string]func(*OrderRequest){
		"short token in":   func(r *OrderRequest) { r.TokenIn = "abc" },
		"long token out":   func(r *OrderRequest) { r.TokenOut = testTokenOut + "XXXXXXXXXX" },
		"zero amount":      func(r *OrderRequest) { r.AmountIn = 0 },
		"negative amount":  func(r *OrderRequest) { r.AmountIn = -1 },
		"amount too large": func(r *OrderRequest) { r.AmountIn = 1_000_001 },
		"slippage above 1": func(r *OrderRequest) { r.Slippage = slippage(1.5) },
		"negative slip":    func(r *OrderRequest) { r.Slippage = slippage(-0.1) },
		"missing slippage": func(r *OrderRequest) { r.Slippage = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			mutate(&req)
			_, err := svc.SubmitOrder(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)

			var verrs validator.ValidationErrors
			assert.True(t, errors.As(err, &verrs))
		})
	}

	req := validRequest()
	req.Slippage = slippage(0)
	_, err := svc.SubmitOrder(context.Background(), req)
	assert.NoError(t, err, "zero slippage is allowed")
}

func TestSubmitOrderAfterCloseKeepsPendingOrder(t *testing.T) {
	store := newMemStore()
	q := NewQueue(nil)
	q.Close()
	svc := NewService(store, q, testPolicy, nil)

	o, err := svc.SubmitOrder(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrQueueClosed)
	stored, ferr := store.FindByID(context.Background(), o.ID)
	require.NoError(t, ferr)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestRecentClampsLimit(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, NewQueue(nil), testPolicy, nil)
	base := time.Now()
	for i := 0; i < 120; i++ {
		o := newTestOrder(fmt.Sprintf("o-%03d", i), 1)
		o.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		store.seed(o)
	}

	got, err := svc.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultListLimit)
	assert.True(t, got[0].CreatedAt.After(got[1].CreatedAt))

	got, err = svc.Recent(context.Background(), 500)
	require.NoError(t, err)
	assert.Len(t, got, MaxListLimit)
}

func TestRecoverResubmitsUnfinishedOrders(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, st := range []Status{StatusPending, StatusRouting, StatusSubmitted, StatusConfirmed, StatusFailed} {
		o := newTestOrder(string(st), float64(i+1))
		o.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := store.CreateOrder(ctx, o)
		require.NoError(t, err)
		if st != StatusPending {
			_, err = store.UpdateStatus(ctx, o.ID, st, Fields{Attempts: testPolicy.MaxAttempts()})
			require.NoError(t, err)
		}
	}

	q := NewQueue(nil)
	svc := NewService(store, q, testPolicy, nil)
	n, err := svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var ids []string
	for q.Len() > 0 {
		o, err := q.Next(ctx)
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"pending", "routing", "submitted"}, ids)
}

func TestRecoverResubmitsFailedBetweenAttempts(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, attempts := range []int{1, 3, 2} {
		o := newTestOrder(fmt.Sprintf("failed-%d", i), 1)
		o.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := store.CreateOrder(ctx, o)
		require.NoError(t, err)
		_, err = store.UpdateStatus(ctx, o.ID, StatusFailed, Fields{Attempts: attempts, Error: "swap: insufficient liquidity"})
		require.NoError(t, err)
	}

	q := NewQueue(nil)
	svc := NewService(store, q, testPolicy, nil)
	n, err := svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var ids []string
	for q.Len() > 0 {
		o, err := q.Next(ctx)
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"failed-0", "failed-2"}, ids)
}

func TestRecoveredFailedOrderRunsToFinalStatus(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()
	o := newTestOrder("stranded", 1)
	_, err := store.CreateOrder(ctx, o)
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, o.ID, StatusFailed, Fields{Attempts: 1, Error: "routing: timeout"})
	require.NoError(t, err)

	q := NewQueue(nil)
	svc := NewService(store, q, testPolicy, nil)
	_, err = svc.Recover(ctx)
	require.NoError(t, err)

	exec := NewExecutor(store, newScriptedVenue(0), nil, nil)
	pool := NewAsyncExecutor(q, NewWindowLimiter(10, time.Second), NewRetrier(exec, testPolicy, nil, nil), 1, nil, nil)
	go func() { _ = pool.Run(context.Background()) }()

	select {
	case r := <-pool.Results():
		assert.Equal(t, StatusConfirmed, r.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("recovered order not executed")
	}
	require.NoError(t, pool.Close(context.Background()))

	stored, err := store.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.Finished(testPolicy.MaxAttempts()))
}

func TestSQLStorePipelineEndToEnd(t *testing.T) {
	store := newSQLStore(t)
	pub := newRecordingPublisher()
	q := NewQueue(nil)
	svc := NewService(store, q, testPolicy, nil)

	exec := NewExecutor(store, newScriptedVenue(0), pub, nil)
	retrier := NewRetrier(exec, RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, nil, nil)
	pool := NewAsyncExecutor(q, NewWindowLimiter(10, time.Second), retrier, 2, nil, nil)
	go func() { _ = pool.Run(context.Background()) }()

	o, err := svc.SubmitOrder(context.Background(), validRequest())
	require.NoError(t, err)

	select {
	case r := <-pool.Results():
		assert.Equal(t, StatusConfirmed, r.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("order not executed")
	}
	require.NoError(t, pool.Close(context.Background()))

	stored, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)
	assert.Equal(t, "tx-meteora", stored.TxHash)
	assert.True(t, stored.UpdatedAt.After(stored.CreatedAt))
	assert.Equal(t, []Status{StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed}, pub.statuses(o.ID))

	_, err = svc.Get(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}
