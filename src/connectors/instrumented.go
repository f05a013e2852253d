package connectors

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/src/metrics"
	"tradeengine/src/model"
)

// Instrumented records call durations of the wrapped adapter.
type Instrumented struct {
	next ExchangeAdapter
}

func NewInstrumented(next ExchangeAdapter) *Instrumented {
	return &Instrumented{next: next}
}

func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) GetSymbolRules(ctx context.Context, symbol string) (rules model.SymbolRules, err error) {
	defer func(start time.Time) { metrics.ObserveExchangeCall(i.Name(), "GetSymbolRules", start, err) }(time.Now())
	return i.next.GetSymbolRules(ctx, symbol)
}

func (i *Instrumented) GetTicker(ctx context.Context, symbol string) (price decimal.Decimal, err error) {
	defer func(start time.Time) { metrics.ObserveExchangeCall(i.Name(), "GetTicker", start, err) }(time.Now())
	return i.next.GetTicker(ctx, symbol)
}

func (i *Instrumented) PlaceOrder(ctx context.Context, req model.OrderRequest) (result *model.FillResult, err error) {
	defer func(start time.Time) { metrics.ObserveExchangeCall(i.Name(), "PlaceOrder", start, err) }(time.Now())
	return i.next.PlaceOrder(ctx, req)
}

func (i *Instrumented) GetOrder(ctx context.Context, symbol, orderID string) (result *model.FillResult, err error) {
	defer func(start time.Time) { metrics.ObserveExchangeCall(i.Name(), "GetOrder", start, err) }(time.Now())
	return i.next.GetOrder(ctx, symbol, orderID)
}

func (i *Instrumented) FindOrderByClientID(ctx context.Context, symbol, clientOrderID string) (result *model.FillResult, err error) {
	defer func(start time.Time) { metrics.ObserveExchangeCall(i.Name(), "FindOrderByClientID", start, err) }(time.Now())
	return i.next.FindOrderByClientID(ctx, symbol, clientOrderID)
}
