package controller

import (
	"context"
	"errors"
	"regexp"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
	"tradeengine/src/quantity"
)

// exchange client order ids are limited to this alphabet and length
var clientOrderIDPattern = regexp.MustCompile(`^[.A-Za-z0-9:/_-]{1,36}$`)

// clientOrderNamespace scopes the derived client order ids.
var clientOrderNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("tradeengine.client-order-id"))

// Placement is the outcome of submitting one order.
type Placement struct {
	ExchangeOrderID string
	ClientOrderID   string
	ExchangeStatus  string
	SubmittedType   string
	Quantity        decimal.Decimal
	ReferencePrice  decimal.Decimal
	Fills           []model.Fill
}

// Pending reports whether the order is still working on the book. Partial
// fills are settled once the exchange reports the order complete.
func (p *Placement) Pending() bool {
	return p.ExchangeStatus == model.ExchangeStatusNew || p.ExchangeStatus == model.ExchangeStatusPartiallyFilled
}

// Filled reports whether the placement is final and produced fills to settle.
func (p *Placement) Filled() bool {
	return !p.Pending() && len(p.Fills) > 0
}

// Coordinator turns an order into an exchange submission that honors the
// symbol's lot step and minimum notional.
type Coordinator struct {
	exchange connectors.ExchangeAdapter
	log      *logrus.Entry
}

func NewCoordinator(exchange connectors.ExchangeAdapter, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{exchange: exchange, log: log.WithField("component", "coordinator")}
}

// ClientOrderID maps an idempotency key to the id sent to the exchange. Keys
// the exchange would reject are replaced by a stable derived uuid.
func ClientOrderID(idempotencyKey string) string {
	if clientOrderIDPattern.MatchString(idempotencyKey) {
		return idempotencyKey
	}
	return uuid.NewSHA1(clientOrderNamespace, []byte(idempotencyKey)).String()
}

// Place submits order. MARKET orders and LIMIT orders already marketable at
// the current ticker go out as MARKET; other LIMIT orders rest as GTC.
func (c *Coordinator) Place(ctx context.Context, order *model.Order) (*Placement, error) {
	if !order.Quantity.IsPositive() {
		return nil, &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	if order.OrderType == model.OrderTypeLimit && (order.Price == nil || !order.Price.IsPositive()) {
		return nil, &ValidationError{Field: "price", Reason: "limit orders need a positive price"}
	}

	log := c.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"type":     order.OrderType,
	})

	rules, err := c.exchange.GetSymbolRules(ctx, order.Symbol)
	if err != nil {
		return nil, executionError("GetSymbolRules", err)
	}

	ticker, err := c.exchange.GetTicker(ctx, order.Symbol)
	if err != nil {
		return nil, executionError("GetTicker", err)
	}

	qty := quantity.Normalize(order.Quantity, rules.StepSize)
	if !qty.IsPositive() {
		return nil, &ValidationError{
			Field:  "quantity",
			Reason: "below the lot step " + rules.StepSize.String(),
		}
	}

	req := model.OrderRequest{
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      qty,
		ClientOrderID: ClientOrderID(order.IdempotencyKey),
	}
	reference := ticker

	switch order.OrderType {
	case model.OrderTypeMarket:
		req.Type = model.OrderTypeMarket
	case model.OrderTypeLimit:
		limit := *order.Price
		if marketable(order.Side, ticker, limit) {
			log.WithFields(logrus.Fields{
				"ticker": ticker.String(),
				"limit":  limit.String(),
			}).Info("Limit order marketable, submitting as market")
			req.Type = model.OrderTypeMarket
		} else {
			req.Type = model.OrderTypeLimit
			req.Price = &limit
			req.TimeInForce = model.TimeInForceGTC
			reference = limit
		}
	default:
		return nil, &ValidationError{Field: "order_type", Reason: "must be MARKET or LIMIT"}
	}

	if err := quantity.ValidateNotional(qty, reference, rules.MinNotional); err != nil {
		log.WithError(err).Warn("Order rejected below minimum notional")
		return nil, err
	}

	result, err := c.exchange.PlaceOrder(ctx, req)
	if err != nil {
		return nil, executionError("PlaceOrder", err)
	}

	placement := &Placement{
		ExchangeOrderID: result.OrderID,
		ClientOrderID:   req.ClientOrderID,
		ExchangeStatus:  result.Status,
		SubmittedType:   req.Type,
		Quantity:        qty,
		ReferencePrice:  reference,
		Fills:           result.Fills,
	}

	// A fill without breakdown is priced at the submission reference.
	if len(placement.Fills) == 0 && result.IsFilled() {
		filledQty := result.ExecutedQty
		if !filledQty.IsPositive() {
			filledQty = qty
		}
		placement.Fills = []model.Fill{{Qty: filledQty, Price: reference}}
	}

	switch result.Status {
	case model.ExchangeStatusRejected, model.ExchangeStatusExpired, model.ExchangeStatusCanceled:
		if len(placement.Fills) == 0 {
			return nil, &ExecutionFailed{
				Op:  "PlaceOrder",
				Err: errors.New("exchange returned " + result.Status),
			}
		}
	}

	log.WithFields(logrus.Fields{
		"exchange_order_id": placement.ExchangeOrderID,
		"exchange_status":   placement.ExchangeStatus,
		"submitted_type":    placement.SubmittedType,
		"quantity":          qty.String(),
		"fills":             len(placement.Fills),
	}).Info("Order placed")

	return placement, nil
}

// Lookup finds the exchange copy of an order an earlier delivery may have
// submitted, by its client order id. It returns nil when the exchange has
// no such order.
func (c *Coordinator) Lookup(ctx context.Context, order *model.Order) (*Placement, error) {
	clientID := ClientOrderID(order.IdempotencyKey)
	result, err := c.exchange.FindOrderByClientID(ctx, order.Symbol, clientID)
	if errors.Is(err, connectors.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, executionError("FindOrderByClientID", err)
	}

	placement := &Placement{
		ExchangeOrderID: result.OrderID,
		ClientOrderID:   clientID,
		ExchangeStatus:  result.Status,
		SubmittedType:   order.OrderType,
		Quantity:        order.Quantity,
		Fills:           result.Fills,
	}
	if order.Price != nil {
		placement.ReferencePrice = *order.Price
	}

	c.log.WithFields(logrus.Fields{
		"order_id":          order.ID,
		"exchange_order_id": placement.ExchangeOrderID,
		"exchange_status":   placement.ExchangeStatus,
		"fills":             len(placement.Fills),
	}).Info("Order already on exchange")

	return placement, nil
}

func marketable(side string, ticker, limit decimal.Decimal) bool {
	if side == model.SideBuy {
		return ticker.LessThanOrEqual(limit)
	}
	return ticker.GreaterThanOrEqual(limit)
}

func executionError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ExecutionFailed{Op: op, Err: err, Retryable: true}
	}
	return &ExecutionFailed{Op: op, Err: err, Retryable: connectors.IsRetryableError(err)}
}
