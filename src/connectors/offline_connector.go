package connectors

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/model"
)

var knownQuoteAssets = []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "BNB"}

type offlineOrder struct {
	req    model.OrderRequest
	result model.FillResult
}

// OfflineConnector is an in-memory paper exchange. MARKET orders fill at the
// configured price, LIMIT orders rest until SetPrice crosses them.
type OfflineConnector struct {
	mu          sync.Mutex
	stepSize    decimal.Decimal
	minNotional decimal.Decimal
	prices      map[string]decimal.Decimal
	orders      map[string]*offlineOrder
	byClientID  map[string]string
	nextID      int64
}

var _ ExchangeAdapter = (*OfflineConnector)(nil)

func NewOfflineConnector(stepSize, minNotional decimal.Decimal, prices map[string]decimal.Decimal) *OfflineConnector {
	c := &OfflineConnector{
		stepSize:    stepSize,
		minNotional: minNotional,
		prices:      map[string]decimal.Decimal{},
		orders:      map[string]*offlineOrder{},
		byClientID:  map[string]string{},
	}
	for symbol, price := range prices {
		c.prices[strings.ToUpper(symbol)] = price
	}
	return c
}

func (c *OfflineConnector) Name() string { return ModeOffline }

// SetPrice moves the ticker and fills any resting LIMIT order it crosses.
func (c *OfflineConnector) SetPrice(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	symbol = strings.ToUpper(symbol)
	c.prices[symbol] = price

	for id, o := range c.orders {
		if o.req.Symbol != symbol || o.result.Status != model.ExchangeStatusNew {
			continue
		}
		if crosses(o.req.Side, price, *o.req.Price) {
			fill := model.Fill{Qty: o.req.Quantity, Price: *o.req.Price}
			o.result.Status = model.ExchangeStatusFilled
			o.result.ExecutedQty = o.req.Quantity
			o.result.Fills = []model.Fill{fill}
			logger.WithFields(map[string]interface{}{
				"exchange": ModeOffline,
				"order_id": id,
				"symbol":   symbol,
				"price":    o.req.Price.String(),
			}).Debug("Resting limit order filled")
		}
	}
}

// Cancel moves a resting order to CANCELED.
func (c *OfflineConnector) Cancel(orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.result.Status == model.ExchangeStatusNew {
		o.result.Status = model.ExchangeStatusCanceled
	}
	return nil
}

func (c *OfflineConnector) GetSymbolRules(ctx context.Context, symbol string) (model.SymbolRules, error) {
	if err := ctx.Err(); err != nil {
		return model.SymbolRules{}, err
	}
	symbol = strings.ToUpper(symbol)
	base, quote := splitSymbol(symbol)
	return model.SymbolRules{
		Symbol:      symbol,
		BaseAsset:   base,
		QuoteAsset:  quote,
		StepSize:    c.stepSize,
		MinNotional: c.minNotional,
	}, nil
}

func (c *OfflineConnector) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	price, ok := c.prices[strings.ToUpper(symbol)]
	if !ok || !price.IsPositive() {
		return decimal.Zero, &APIError{HTTPStatus: 400, Code: -1121, Msg: "Invalid symbol."}
	}
	return price, nil
}

func (c *OfflineConnector) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.FillResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	req.Symbol = strings.ToUpper(req.Symbol)
	price, ok := c.prices[req.Symbol]
	if !ok || !price.IsPositive() {
		return nil, &APIError{HTTPStatus: 400, Code: -1121, Msg: "Invalid symbol."}
	}
	if !req.Quantity.IsPositive() {
		return nil, &APIError{HTTPStatus: 400, Code: -1013, Msg: "Filter failure: LOT_SIZE"}
	}

	// A retried placement with the same client id returns the original order.
	if id, seen := c.byClientID[req.ClientOrderID]; seen && req.ClientOrderID != "" {
		existing := c.orders[id].result
		return copyResult(&existing), nil
	}

	c.nextID++
	id := strconv.FormatInt(c.nextID, 10)
	o := &offlineOrder{
		req: req,
		result: model.FillResult{
			OrderID:       id,
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Status:        model.ExchangeStatusNew,
			ExecutedQty:   decimal.Zero,
		},
	}

	switch req.Type {
	case model.OrderTypeMarket:
		o.result.Status = model.ExchangeStatusFilled
		o.result.ExecutedQty = req.Quantity
		o.result.Fills = []model.Fill{{Qty: req.Quantity, Price: price}}
	case model.OrderTypeLimit:
		if req.Price == nil || !req.Price.IsPositive() {
			return nil, &APIError{HTTPStatus: 400, Code: -1102, Msg: "Mandatory parameter 'price' was not sent."}
		}
		if crosses(req.Side, price, *req.Price) {
			o.result.Status = model.ExchangeStatusFilled
			o.result.ExecutedQty = req.Quantity
			o.result.Fills = []model.Fill{{Qty: req.Quantity, Price: *req.Price}}
		}
	default:
		return nil, &APIError{HTTPStatus: 400, Code: -1116, Msg: "Invalid orderType."}
	}

	c.orders[id] = o
	if req.ClientOrderID != "" {
		c.byClientID[req.ClientOrderID] = id
	}

	return copyResult(&o.result), nil
}

func (c *OfflineConnector) GetOrder(ctx context.Context, symbol, orderID string) (*model.FillResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[orderID]
	if !ok || o.req.Symbol != strings.ToUpper(symbol) {
		return nil, fmt.Errorf("%w: %s %s", ErrOrderNotFound, symbol, orderID)
	}
	return copyResult(&o.result), nil
}

func (c *OfflineConnector) FindOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*model.FillResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.byClientID[clientOrderID]
	if !ok || clientOrderID == "" || c.orders[id].req.Symbol != strings.ToUpper(symbol) {
		return nil, fmt.Errorf("%w: %s client id %s", ErrOrderNotFound, symbol, clientOrderID)
	}
	return copyResult(&c.orders[id].result), nil
}

// crosses reports whether a limit order at limit is marketable at price.
func crosses(side string, price, limit decimal.Decimal) bool {
	if side == model.SideBuy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

func copyResult(r *model.FillResult) *model.FillResult {
	out := *r
	out.Fills = append([]model.Fill(nil), r.Fills...)
	return &out
}

func splitSymbol(symbol string) (string, string) {
	for _, quote := range knownQuoteAssets {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote), quote
		}
	}
	return symbol, ""
}
