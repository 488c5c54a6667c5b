package order

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"order-engine/pkg/dex"
)

// Venue quotes and executes swaps. *dex.Router implements it.
type Venue interface {
	BestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (dex.Quote, error)
	ExecuteSwap(ctx context.Context, provider string, req dex.SwapRequest) (dex.SwapResult, error)
}

// Publisher delivers status updates to the order's subscribers.
type Publisher interface {
	Broadcast(orderID string, update StatusUpdate)
}

type nopPublisher struct{}

func (nopPublisher) Broadcast(string, StatusUpdate) {}

// Executor drives one execution attempt through the order state machine.
// Every transition is persisted before it is published.
type Executor struct {
	store     Store
	venue     Venue
	publisher Publisher
	log       *zap.Logger
}

func NewExecutor(store Store, venue Venue, publisher Publisher, log *zap.Logger) *Executor {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{store: store, venue: venue, publisher: publisher, log: log}
}

// Execute runs attempt number attempt for o: ROUTING, BUILDING, SUBMITTED,
// then CONFIRMED. Any failure is persisted as FAILED and returned; the next
// attempt starts over at ROUTING.
func (e *Executor) Execute(ctx context.Context, o Order, attempt int) (Order, error) {
	log := e.log.With(zap.String("order_id", o.ID), zap.Int("attempt", attempt))

	if _, err := e.transition(ctx, o.ID, StatusRouting, Fields{Attempts: attempt}, StatusUpdate{
		Message: "Fetching quotes",
	}); err != nil {
		return o, e.fail(ctx, o.ID, attempt, err)
	}

	quote, err := e.venue.BestQuote(ctx, o.TokenIn, o.TokenOut, o.AmountIn)
	if err != nil {
		log.Warn("routing failed", zap.Error(err))
		return o, e.fail(ctx, o.ID, attempt, &ExecutionError{Stage: StageRouting, Err: err})
	}

	if _, err := e.transition(ctx, o.ID, StatusBuilding, Fields{SelectedDex: quote.Provider}, StatusUpdate{
		Dex:     quote.Provider,
		Message: fmt.Sprintf("Selected %s, estimated output %.6f", quote.Provider, quote.EstimatedOutput),
	}); err != nil {
		return o, e.fail(ctx, o.ID, attempt, err)
	}

	if _, err := e.transition(ctx, o.ID, StatusSubmitted, Fields{}, StatusUpdate{
		Dex:     quote.Provider,
		Message: "Swap submitted",
	}); err != nil {
		return o, e.fail(ctx, o.ID, attempt, err)
	}

	res, err := e.venue.ExecuteSwap(ctx, quote.Provider, dex.SwapRequest{
		TokenIn:  o.TokenIn,
		TokenOut: o.TokenOut,
		AmountIn: o.AmountIn,
		Slippage: o.Slippage,
	})
	if err != nil {
		log.Warn("swap failed", zap.String("dex", quote.Provider), zap.Error(err))
		return o, e.fail(ctx, o.ID, attempt, &ExecutionError{Stage: StageSwap, Err: err})
	}

	price := res.ExecutedPrice
	confirmed, err := e.transition(ctx, o.ID, StatusConfirmed, Fields{
		ExecutedPrice: &price,
		TxHash:        res.TxHash,
	}, StatusUpdate{
		Dex:           quote.Provider,
		TxHash:        res.TxHash,
		ExecutedPrice: &price,
		Message:       "Swap confirmed",
		Final:         true,
	})
	if err != nil {
		return o, e.fail(ctx, o.ID, attempt, err)
	}

	log.Info("order confirmed",
		zap.String("dex", quote.Provider),
		zap.String("tx_hash", res.TxHash),
		zap.Float64("executed_price", price),
		zap.Float64("amount_out", res.AmountOut))
	return confirmed, nil
}

// MarkExhausted records the final FAILED state once no attempt is left. The
// order is already FAILED from its last attempt; the update repeats that
// status with Final set and the aggregated error.
func (e *Executor) MarkExhausted(ctx context.Context, id string, attempts int, cause error) (Order, error) {
	msg := cause.Error()
	o, err := e.transition(ctx, id, StatusFailed, Fields{Error: msg, Attempts: attempts}, StatusUpdate{
		Error:   msg,
		Message: "Order failed",
		Final:   true,
	})
	if err != nil {
		return Order{}, err
	}
	e.log.Error("order failed", zap.String("order_id", id), zap.Int("attempts", attempts), zap.Error(cause))
	return o, nil
}

// fail persists FAILED for the attempt and returns cause, combined with the
// persistence error if that write fails too.
func (e *Executor) fail(ctx context.Context, id string, attempt int, cause error) error {
	msg := cause.Error()
	if _, err := e.transition(ctx, id, StatusFailed, Fields{Error: msg, Attempts: attempt}, StatusUpdate{
		Error:   msg,
		Message: fmt.Sprintf("Attempt %d failed", attempt),
	}); err != nil {
		return multierr.Append(cause, err)
	}
	return cause
}

func (e *Executor) transition(ctx context.Context, id string, status Status, f Fields, u StatusUpdate) (Order, error) {
	o, err := e.store.UpdateStatus(ctx, id, status, f)
	if err != nil {
		perr := &PersistenceError{Op: string(status), OrderID: id, Err: err}
		e.log.Error("persist transition failed", zap.String("order_id", id), zap.String("status", string(status)), zap.Error(err))
		return Order{}, perr
	}

	u.OrderID = id
	u.Status = status
	u.Timestamp = o.UpdatedAt
	u.Attempt = o.Attempts
	e.publisher.Broadcast(id, u)

	e.log.Debug("order transition", zap.String("order_id", id), zap.String("status", string(status)), zap.Int("attempt", o.Attempts))
	return o, nil
}
