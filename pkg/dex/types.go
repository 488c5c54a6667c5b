package dex

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownProvider       = errors.New("unknown provider")
	ErrNoProviders           = errors.New("no providers configured")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

// Quote is a provider's price for a trade. Quotes are not persisted.
type Quote struct {
	Provider        string  `json:"provider"`
	Price           float64 `json:"price"`
	Fee             float64 `json:"fee"`
	EstimatedOutput float64 `json:"estimatedOutput"`
}

// SwapRequest captures a swap intent sent to one provider.
type SwapRequest struct {
	TokenIn  string
	TokenOut string
	AmountIn float64
	Slippage float64
}

// SwapResult is the outcome of an executed swap.
type SwapResult struct {
	Provider      string  `json:"provider"`
	TxHash        string  `json:"txHash"`
	ExecutedPrice float64 `json:"executedPrice"`
	AmountOut     float64 `json:"amountOut"`
}

// EstimateOutput returns amountIn * price * (1 - fee).
func EstimateOutput(amountIn, price, fee float64) float64 {
	out := decimal.NewFromFloat(amountIn).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(fee)))
	return out.InexactFloat64()
}

// NewQuote builds a quote with its derived estimated output.
func NewQuote(provider string, amountIn, price, fee float64) Quote {
	return Quote{
		Provider:        provider,
		Price:           price,
		Fee:             fee,
		EstimatedOutput: EstimateOutput(amountIn, price, fee),
	}
}

// SelectBest picks the quote with the strictly largest estimated output.
// On an exact tie the earlier quote wins, so callers pass quotes in
// provider priority order.
func SelectBest(quotes []Quote) (Quote, error) {
	if len(quotes) == 0 {
		return Quote{}, ErrNoProviders
	}
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.EstimatedOutput > best.EstimatedOutput {
			best = q
		}
	}
	return best, nil
}
