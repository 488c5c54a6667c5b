package db

import "time"

// Order is a swap order row.
type Order struct {
	ID            string
	TokenIn       string
	TokenOut      string
	AmountIn      float64
	Slippage      float64
	Status        string
	SelectedDex   string
	ExecutedPrice *float64
	TxHash        string
	Error         string
	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderUpdate carries the optional fields merged by UpdateOrderStatus.
// Zero values leave the stored column untouched.
type OrderUpdate struct {
	SelectedDex   string
	ExecutedPrice *float64
	TxHash        string
	Error         string
	Attempts      int
}
