package externalmodel

// BinanceExchangeInfo is the payload of GET /api/v3/exchangeInfo.
type BinanceExchangeInfo struct {
	Symbols []BinanceSymbol `json:"symbols"`
}

type BinanceSymbol struct {
	Symbol     string          `json:"symbol"`
	Status     string          `json:"status"`
	BaseAsset  string          `json:"baseAsset"`
	QuoteAsset string          `json:"quoteAsset"`
	Filters    []BinanceFilter `json:"filters"`
}

// BinanceFilter holds the union of the filter fields we read.
type BinanceFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
	Notional    string `json:"notional,omitempty"`
}

// BinanceOrderResponse is returned by POST and GET /api/v3/order.
// Fills are only present on placement with newOrderRespType=FULL.
type BinanceOrderResponse struct {
	Symbol              string        `json:"symbol"`
	OrderID             int64         `json:"orderId"`
	ClientOrderID       string        `json:"clientOrderId"`
	TransactTime        int64         `json:"transactTime,omitempty"`
	UpdateTime          int64         `json:"updateTime,omitempty"`
	Price               string        `json:"price"`
	OrigQty             string        `json:"origQty"`
	ExecutedQty         string        `json:"executedQty"`
	CummulativeQuoteQty string        `json:"cummulativeQuoteQty"`
	Status              string        `json:"status"`
	TimeInForce         string        `json:"timeInForce"`
	Type                string        `json:"type"`
	Side                string        `json:"side"`
	Fills               []BinanceFill `json:"fills,omitempty"`
}

type BinanceFill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         int64  `json:"tradeId"`
}

// BinanceError is the body of a rejected request.
type BinanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
