package dex

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const txHashAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// SimVenue is a simulated venue with randomized prices, latency and failures.
type SimVenue struct {
	profile Profile

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimVenue creates a simulated venue from profile.
func NewSimVenue(p Profile) *SimVenue {
	return NewSimVenueWithSeed(p, time.Now().UnixNano())
}

// NewSimVenueWithSeed creates a simulated venue with a fixed random seed.
func NewSimVenueWithSeed(p Profile, seed int64) *SimVenue {
	return &SimVenue{profile: p, rng: rand.New(rand.NewSource(seed))}
}

func (v *SimVenue) Name() string { return v.profile.Name }

func (v *SimVenue) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (Quote, error) {
	if err := sleepCtx(ctx, v.latency(v.profile.QuoteLatencyMinMs, v.profile.QuoteLatencyMaxMs)); err != nil {
		return Quote{}, err
	}
	price := v.profile.BasePrice * v.between(v.profile.PriceLow, v.profile.PriceHigh)
	return NewQuote(v.profile.Name, amountIn, price, v.profile.Fee), nil
}

func (v *SimVenue) Swap(ctx context.Context, req SwapRequest) (SwapResult, error) {
	if err := sleepCtx(ctx, v.latency(v.profile.SwapLatencyMinMs, v.profile.SwapLatencyMaxMs)); err != nil {
		return SwapResult{}, err
	}
	if v.between(0, 1) < v.profile.FailureRate {
		return SwapResult{}, fmt.Errorf("%s execution failed: %w", v.profile.Name, ErrInsufficientLiquidity)
	}

	price := v.profile.BasePrice * v.between(v.profile.ExecPriceLow, v.profile.ExecPriceHigh)
	amountOut := decimal.NewFromFloat(req.AmountIn).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(req.Slippage))).
		Round(9)

	return SwapResult{
		Provider:      v.profile.Name,
		TxHash:        v.txHash(),
		ExecutedPrice: price,
		AmountOut:     amountOut.InexactFloat64(),
	}, nil
}

func (v *SimVenue) between(low, high float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return low + v.rng.Float64()*(high-low)
}

func (v *SimVenue) latency(minMs, maxMs int) time.Duration {
	if maxMs <= 0 {
		return 0
	}
	if minMs > maxMs {
		minMs, maxMs = maxMs, minMs
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return time.Duration(minMs+v.rng.Intn(maxMs-minMs+1)) * time.Millisecond
}

func (v *SimVenue) txHash() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	b := make([]byte, 88)
	for i := range b {
		b[i] = txHashAlphabet[v.rng.Intn(len(txHashAlphabet))]
	}
	return string(b)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
