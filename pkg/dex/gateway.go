package dex

import "context"

// Provider abstracts a liquidity venue that quotes and executes swaps.
type Provider interface {
	Name() string
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (Quote, error)
	Swap(ctx context.Context, req SwapRequest) (SwapResult, error)
}
