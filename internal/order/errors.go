package order

import (
	"errors"
	"fmt"
)

var (
	ErrQueueClosed    = errors.New("order queue closed")
	ErrInvalidRequest = errors.New("invalid order request")
)

// Execution stages reported by ExecutionError.
const (
	StageRouting = "routing"
	StageSwap    = "swap"
)

// ExecutionError is a transient venue failure during one attempt.
type ExecutionError struct {
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// PersistenceError reports a failed store operation for an order.
type PersistenceError struct {
	Op      string
	OrderID string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for order %s: %v", e.Op, e.OrderID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RetryExhaustedError is recorded when every attempt for an order failed.
type RetryExhaustedError struct {
	OrderID  string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }
