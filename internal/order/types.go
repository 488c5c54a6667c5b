package order

import "time"

// Status is an order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// ActiveStatuses lists the non-terminal states an order can be left in by a
// crash or shutdown.
var ActiveStatuses = []Status{StatusPending, StatusRouting, StatusBuilding, StatusSubmitted}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is CONFIRMED or FAILED. A FAILED order may still
// be retried; StatusUpdate.Final marks the last update.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Order is a swap order: trade amountIn of tokenIn for tokenOut with a
// slippage tolerance.
type Order struct {
	ID            string    `json:"orderId"`
	TokenIn       string    `json:"tokenIn"`
	TokenOut      string    `json:"tokenOut"`
	AmountIn      float64   `json:"amountIn"`
	Slippage      float64   `json:"slippage"`
	Status        Status    `json:"status"`
	SelectedDex   string    `json:"selectedDex,omitempty"`
	ExecutedPrice *float64  `json:"executedPrice,omitempty"`
	TxHash        string    `json:"txHash,omitempty"`
	Error         string    `json:"error,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Finished reports whether o will not change again: it is CONFIRMED, or
// FAILED with no attempt left under a policy of maxAttempts.
func (o Order) Finished(maxAttempts int) bool {
	switch o.Status {
	case StatusConfirmed:
		return true
	case StatusFailed:
		return maxAttempts > 0 && o.Attempts >= maxAttempts
	}
	return false
}

// OrderRequest is the intake payload.
type OrderRequest struct {
	TokenIn  string   `json:"tokenIn" binding:"required,min=32,max=44"`
	TokenOut string   `json:"tokenOut" binding:"required,min=32,max=44"`
	AmountIn float64  `json:"amountIn" binding:"required,gt=0,lte=1000000"`
	Slippage *float64 `json:"slippage" binding:"required,gte=0,lte=1"`
}

// Fields are the optional columns merged on a status transition. Zero values
// leave the stored value untouched.
type Fields struct {
	SelectedDex   string
	ExecutedPrice *float64
	TxHash        string
	Error         string
	Attempts      int
}

// StatusUpdate is broadcast to subscribers after each persisted transition.
type StatusUpdate struct {
	OrderID       string    `json:"orderId"`
	Status        Status    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Dex           string    `json:"dex,omitempty"`
	TxHash        string    `json:"txHash,omitempty"`
	ExecutedPrice *float64  `json:"executedPrice,omitempty"`
	Error         string    `json:"error,omitempty"`
	Message       string    `json:"message,omitempty"`
	Attempt       int       `json:"attempt,omitempty"`
	// Final marks the last update for the order. It is set on CONFIRMED and
	// on the FAILED written when retries are exhausted. That FAILED repeats
	// the last attempt's FAILED status: it is a terminal marker carrying the
	// aggregated error, not a new lifecycle state.
	Final bool `json:"final"`
}

// Snapshot builds an update describing the order as currently stored.
func Snapshot(o Order, message string) StatusUpdate {
	return StatusUpdate{
		OrderID:       o.ID,
		Status:        o.Status,
		Timestamp:     o.UpdatedAt,
		Dex:           o.SelectedDex,
		TxHash:        o.TxHash,
		ExecutedPrice: o.ExecutedPrice,
		Error:         o.Error,
		Message:       message,
		Attempt:       o.Attempts,
		Final:         o.Status == StatusConfirmed,
	}
}
