package connectors

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradeengine/src/model"
)

// RateLimited waits on a token bucket before every call to the wrapped adapter.
type RateLimited struct {
	next    ExchangeAdapter
	limiter *rate.Limiter
}

func NewRateLimited(next ExchangeAdapter, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Name() string { return r.next.Name() }

func (r *RateLimited) GetSymbolRules(ctx context.Context, symbol string) (model.SymbolRules, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return model.SymbolRules{}, err
	}
	return r.next.GetSymbolRules(ctx, symbol)
}

func (r *RateLimited) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	return r.next.GetTicker(ctx, symbol)
}

func (r *RateLimited) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.FillResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.PlaceOrder(ctx, req)
}

func (r *RateLimited) GetOrder(ctx context.Context, symbol, orderID string) (*model.FillResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.GetOrder(ctx, symbol, orderID)
}

func (r *RateLimited) FindOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*model.FillResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.FindOrderByClientID(ctx, symbol, clientOrderID)
}
