package order

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-engine/pkg/dex"
)

func TestExecuteConfirmsOrder(t *testing.T) {
	store := newMemStore()
	pub := newRecordingPublisher()
	o := newTestOrder("o-1", 1)
	store.seed(o)

	exec := NewExecutor(store, newScriptedVenue(0), pub, nil)
	got, err := exec.Execute(context.Background(), o, 1)
	require.NoError(t, err)

	want := []Status{StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed}
	assert.Equal(t, want, pub.statuses(o.ID))
	assert.Equal(t, append([]Status{StatusPending}, want...), store.statuses(o.ID))

	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, "meteora", got.SelectedDex)
	assert.Equal(t, "tx-meteora", got.TxHash)
	require.NotNil(t, got.ExecutedPrice)
	assert.Equal(t, 100.5, *got.ExecutedPrice)
	assert.Equal(t, 1, got.Attempts)

	updates := pub.get(o.ID)
	last := updates[len(updates)-1]
	assert.True(t, last.Final)
	assert.Equal(t, "tx-meteora", last.TxHash)
	for _, u := range updates[:len(updates)-1] {
		assert.False(t, u.Final)
	}
	for i := 1; i < len(updates); i++ {
		assert.True(t, updates[i].Timestamp.After(updates[i-1].Timestamp))
	}
}

func TestExecuteSwapFailurePersistsFailed(t *testing.T) {
	store := newMemStore()
	pub := newRecordingPublisher()
	o := newTestOrder("o-2", 2)
	store.seed(o)

	exec := NewExecutor(store, newScriptedVenue(1), pub, nil)
	_, err := exec.Execute(context.Background(), o, 1)
	require.Error(t, err)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, StageSwap, execErr.Stage)
	assert.ErrorIs(t, err, dex.ErrInsufficientLiquidity)

	assert.Equal(t, []Status{StatusRouting, StatusBuilding, StatusSubmitted, StatusFailed}, pub.statuses(o.ID))
	stored, _ := store.FindByID(context.Background(), o.ID)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "insufficient liquidity")
	assert.Equal(t, "meteora", stored.SelectedDex)
	assert.Empty(t, stored.TxHash)
}

func TestExecuteRoutingFailure(t *testing.T) {
	store := newMemStore()
	pub := newRecordingPublisher()
	o := newTestOrder("o-3", 3)
	store.seed(o)

	venue := newScriptedVenue(0)
	venue.quoteErr = errors.New("raydium quote: timeout")
	exec := NewExecutor(store, venue, pub, nil)

	_, err := exec.Execute(context.Background(), o, 1)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, StageRouting, execErr.Stage)
	assert.Equal(t, []Status{StatusRouting, StatusFailed}, pub.statuses(o.ID))
}

func TestExecutePublishesOnlyAfterPersist(t *testing.T) {
	store := newMemStore()
	store.failOn = StatusBuilding
	store.failErr = errStoreDown
	pub := newRecordingPublisher()
	o := newTestOrder("o-4", 4)
	store.seed(o)

	exec := NewExecutor(store, newScriptedVenue(0), pub, nil)
	_, err := exec.Execute(context.Background(), o, 1)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, string(StatusBuilding), perr.Op)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, []Status{StatusRouting, StatusFailed}, pub.statuses(o.ID))
}

func TestExecuteCombinesFailedWriteError(t *testing.T) {
	store := newMemStore()
	store.failOn = StatusFailed
	store.failErr = errStoreDown
	pub := newRecordingPublisher()
	o := newTestOrder("o-5", 5)
	store.seed(o)

	exec := NewExecutor(store, newScriptedVenue(1), pub, nil)
	_, err := exec.Execute(context.Background(), o, 1)

	assert.ErrorIs(t, err, dex.ErrInsufficientLiquidity)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, []Status{StatusRouting, StatusBuilding, StatusSubmitted}, pub.statuses(o.ID))
}

func TestMarkExhaustedRepeatsFailedAsTerminalMarker(t *testing.T) {
	store := newMemStore()
	pub := newRecordingPublisher()
	o := newTestOrder("o-marker", 1)
	store.seed(o)
	exec := NewExecutor(store, newScriptedVenue(1), pub, nil)

	_, err := exec.Execute(context.Background(), o, 1)
	require.Error(t, err)

	cause := &RetryExhaustedError{OrderID: o.ID, Attempts: 1, Last: err}
	got, err := exec.MarkExhausted(context.Background(), o.ID, 1, cause)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, cause.Error(), got.Error)

	updates := pub.get(o.ID)
	require.GreaterOrEqual(t, len(updates), 2)
	attemptFailed, marker := updates[len(updates)-2], updates[len(updates)-1]
	assert.Equal(t, StatusFailed, attemptFailed.Status)
	assert.False(t, attemptFailed.Final)
	assert.Equal(t, StatusFailed, marker.Status)
	assert.True(t, marker.Final)
	assert.True(t, marker.Timestamp.After(attemptFailed.Timestamp))
	assert.True(t, strings.HasPrefix(marker.Error, "failed after 1 attempts: "), marker.Error)
}
