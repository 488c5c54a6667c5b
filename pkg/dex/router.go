package dex

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Router fans quote requests out to every configured provider and routes
// swaps to a provider by name. Provider order is the tie-break priority.
type Router struct {
	providers []Provider
	byName    map[string]Provider
	log       *zap.Logger
}

// NewRouter creates a router over providers in priority order.
func NewRouter(log *zap.Logger, providers ...Provider) (*Router, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if log == nil {
		log = zap.NewNop()
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("provider %q configured twice", p.Name())
		}
		byName[p.Name()] = p
	}
	return &Router{providers: providers, byName: byName, log: log}, nil
}

// Providers returns provider names in priority order.
func (r *Router) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Quotes requests a quote from every provider concurrently and waits for all
// of them. Any provider failure fails the whole call.
func (r *Router) Quotes(ctx context.Context, tokenIn, tokenOut string, amountIn float64) ([]Quote, error) {
	quotes := make([]Quote, len(r.providers))

	var g errgroup.Group
	for i, p := range r.providers {
		i, p := i, p
		g.Go(func() error {
			q, err := p.Quote(ctx, tokenIn, tokenOut, amountIn)
			if err != nil {
				return fmt.Errorf("%s quote: %w", p.Name(), err)
			}
			q.Provider = p.Name()
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return quotes, nil
}

// BestQuote fetches all quotes and selects the best one.
func (r *Router) BestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (Quote, error) {
	quotes, err := r.Quotes(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return Quote{}, err
	}
	best, err := SelectBest(quotes)
	if err != nil {
		return Quote{}, err
	}

	fields := []zap.Field{zap.String("selected_dex", best.Provider), zap.Float64("estimated_output", best.EstimatedOutput)}
	for _, q := range quotes {
		fields = append(fields, zap.Float64(q.Provider+"_output", q.EstimatedOutput))
	}
	r.log.Debug("best quote selected", fields...)
	return best, nil
}

// ExecuteSwap executes req on the named provider.
func (r *Router) ExecuteSwap(ctx context.Context, provider string, req SwapRequest) (SwapResult, error) {
	p, ok := r.byName[provider]
	if !ok {
		return SwapResult{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	res, err := p.Swap(ctx, req)
	if err != nil {
		return SwapResult{}, err
	}
	res.Provider = provider
	return res, nil
}
