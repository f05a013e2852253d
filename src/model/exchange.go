package model

import "github.com/shopspring/decimal"

// Order statuses as reported by the exchange.
const (
	ExchangeStatusNew             = "NEW"
	ExchangeStatusPartiallyFilled = "PARTIALLY_FILLED"
	ExchangeStatusFilled          = "FILLED"
	ExchangeStatusCanceled        = "CANCELED"
	ExchangeStatusPendingCancel   = "PENDING_CANCEL"
	ExchangeStatusRejected        = "REJECTED"
	ExchangeStatusExpired         = "EXPIRED"
)

const TimeInForceGTC = "GTC"

// SymbolRules are the trading constraints of one exchange symbol.
type SymbolRules struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// OrderRequest is what gets submitted to an exchange.
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	TimeInForce   string
	ClientOrderID string
}

// Fill is one execution reported by the exchange.
type Fill struct {
	Qty        decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
}

// FillResult is the exchange view of an order.
type FillResult struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Status        string
	ExecutedQty   decimal.Decimal
	Fills         []Fill
}

// IsFilled reports whether the exchange considers the order complete.
func (f *FillResult) IsFilled() bool {
	return f.Status == ExchangeStatusFilled
}

// TotalQty sums the fill quantities.
func (f *FillResult) TotalQty() decimal.Decimal {
	total := decimal.Zero
	for _, fill := range f.Fills {
		total = total.Add(fill.Qty)
	}
	return total
}

// AvgPrice is the quantity weighted fill price, zero without fills.
func (f *FillResult) AvgPrice() decimal.Decimal {
	qty := f.TotalQty()
	if qty.IsZero() {
		return decimal.Zero
	}
	notional := decimal.Zero
	for _, fill := range f.Fills {
		notional = notional.Add(fill.Qty.Mul(fill.Price))
	}
	return notional.Div(qty)
}
