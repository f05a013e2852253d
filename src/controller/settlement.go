package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tradeengine/src/ledger"
	"tradeengine/src/model"
)

type orderStore interface {
	CreateWithAutoLog(ctx context.Context, order *model.Order, reason string) error
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Order, error)
	FindOpen(ctx context.Context, afterID uint, limit int) ([]model.Order, error)
	MarkSubmitted(ctx context.Context, orderID uint, exchangeOrderID, clientOrderID string) error
	TransitionWithAutoLog(ctx context.Context, orderID uint, newStatus, reason string, updates map[string]interface{}) error
}

type fillSettler interface {
	SettleFill(ctx context.Context, order *model.Order, fills []model.Fill) (*ledger.Settlement, error)
}

// settler applies exchange fills to the ledgers and parks orders whose fills
// cannot be applied in NEEDS_RECONCILIATION.
type settler struct {
	orders     orderStore
	ledger     fillSettler
	exceptions exceptionRepository
	service    string
	log        *logrus.Entry
}

// settle returns nil when the fills are applied or were applied before.
func (s *settler) settle(ctx context.Context, order *model.Order, fills []model.Fill) error {
	_, err := s.ledger.SettleFill(ctx, order, fills)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrAlreadySettled):
		return nil
	case !ledger.IsBusinessRule(err):
		return fmt.Errorf("settle order %d: %w", order.ID, err)
	}

	log := s.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"symbol":   order.Symbol,
		"side":     order.Side,
	})

	if order.Status == model.OrderStatusNeedsReconciliation {
		// captured when it was parked
		log.WithError(err).Debug("Parked order still cannot be settled")
		return &ReconciliationFailed{OrderID: order.ID, Err: err}
	}

	qty, price := fillTotals(fills)
	updates := map[string]interface{}{
		"executed_qty":   qty,
		"avg_fill_price": price,
		"executed_at":    nowUTC(),
	}
	if terr := s.orders.TransitionWithAutoLog(ctx, order.ID, model.OrderStatusNeedsReconciliation, err.Error(), updates); terr != nil {
		log.WithError(terr).Error("Failed to park order for reconciliation")
		return fmt.Errorf("settle order %d: %w (park: %v)", order.ID, err, terr)
	}
	order.Status = model.OrderStatusNeedsReconciliation
	order.ExecutedQty = qty
	order.AvgFillPrice = price

	log.WithError(err).Warn("Fill could not be applied, order needs reconciliation")
	CaptureOrder(ctx, s.exceptions, order.ID, s.service, "settlement", "SettleFill", "error", err, map[string]interface{}{
		"symbol": order.Symbol,
		"side":   order.Side,
		"fills":  len(fills),
	})

	return &ReconciliationFailed{OrderID: order.ID, Err: err}
}

var nowUTC = func() time.Time { return time.Now().UTC() }

// fillTotals returns the filled quantity and its weighted average price.
func fillTotals(fills []model.Fill) (decimal.Decimal, decimal.Decimal) {
	result := model.FillResult{Fills: fills}
	return result.TotalQty(), result.AvgPrice()
}

// storedFill rebuilds the fill of an order from its persisted execution
// values, falling back to the requested quantity and limit price.
func storedFill(order *model.Order) ([]model.Fill, error) {
	qty := order.ExecutedQty
	if !qty.IsPositive() {
		qty = order.Quantity
	}
	price := order.AvgFillPrice
	if !price.IsPositive() && order.Price != nil {
		price = *order.Price
	}
	if !qty.IsPositive() || !price.IsPositive() {
		return nil, fmt.Errorf("order %d has no stored fill price", order.ID)
	}
	return []model.Fill{{Qty: qty, Price: price}}, nil
}
