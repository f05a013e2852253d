package controller

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/ledger"
	"tradeengine/src/model"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,30}$`)

type accountFinder interface {
	FindByID(ctx context.Context, id uint) (*model.Account, error)
}

type orderPlacer interface {
	Place(ctx context.Context, order *model.Order) (*Placement, error)
	Lookup(ctx context.Context, order *model.Order) (*Placement, error)
}

// TradeWorker executes one trade intent end to end: it records the order,
// submits it and settles the fills. Handle is safe to call again with the
// same intent.
type TradeWorker struct {
	settler
	accounts    accountFinder
	coordinator orderPlacer
}

func NewTradeWorker(
	orders orderStore,
	accounts accountFinder,
	exceptions exceptionRepository,
	coordinator orderPlacer,
	fills fillSettler,
	log *logrus.Entry,
) *TradeWorker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &TradeWorker{
		settler: settler{
			orders:     orders,
			ledger:     fills,
			exceptions: exceptions,
			service:    "trade_worker",
			log:        log.WithField("component", "trade_worker"),
		},
		accounts:    accounts,
		coordinator: coordinator,
	}
}

// NormalizeIntent canonicalizes symbol, side and type in place and checks the
// intent is well formed.
func NormalizeIntent(intent *model.TradeIntent) error {
	intent.Symbol = NormalizeToUSDT(intent.Symbol)
	intent.Side = strings.ToUpper(strings.TrimSpace(intent.Side))
	intent.OrderType = strings.ToUpper(strings.TrimSpace(intent.OrderType))
	if intent.OrderType == "" {
		intent.OrderType = model.OrderTypeMarket
	}

	switch {
	case intent.AccountID == 0:
		return &ValidationError{Field: "account_id", Reason: "is required"}
	case !symbolPattern.MatchString(intent.Symbol):
		return &ValidationError{Field: "symbol", Reason: fmt.Sprintf("%q is not a symbol", intent.Symbol)}
	case intent.Side != model.SideBuy && intent.Side != model.SideSell:
		return &ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	case intent.OrderType != model.OrderTypeMarket && intent.OrderType != model.OrderTypeLimit:
		return &ValidationError{Field: "order_type", Reason: "must be MARKET or LIMIT"}
	case !intent.Quantity.IsPositive():
		return &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	case intent.OrderType == model.OrderTypeLimit && (intent.Price == nil || !intent.Price.IsPositive()):
		return &ValidationError{Field: "price", Reason: "limit orders need a positive price"}
	case intent.OrderType == model.OrderTypeMarket && intent.Price != nil:
		return &ValidationError{Field: "price", Reason: "market orders take no price"}
	case len(intent.IdempotencyKey) > 100:
		return &ValidationError{Field: "idempotency_key", Reason: "longer than 100 characters"}
	}
	return nil
}

// Handle runs the intent. A nil error means the task is complete: the order
// is settled, resting on the book or was handled by an earlier delivery.
func (w *TradeWorker) Handle(ctx context.Context, intent model.TradeIntent) (*model.Order, error) {
	if err := NormalizeIntent(&intent); err != nil {
		return nil, err
	}
	if intent.IdempotencyKey == "" {
		return nil, &ValidationError{Field: "idempotency_key", Reason: "is required"}
	}

	log := w.log.WithFields(logrus.Fields{
		"account_id":      intent.AccountID,
		"symbol":          intent.Symbol,
		"side":            intent.Side,
		"idempotency_key": intent.IdempotencyKey,
	})

	account, err := w.accounts.FindByID(ctx, intent.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %d", ledger.ErrAccountNotFound, intent.AccountID)
	}

	order, err := w.orders.FindByIdempotencyKey(ctx, intent.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}

	var placement *Placement

	if order != nil {
		if order.AccountID != intent.AccountID {
			return nil, &ValidationError{Field: "idempotency_key", Reason: "already used by another account"}
		}
		switch {
		case order.IsTerminal():
			log.WithField("status", order.Status).Info("Order already finished, nothing to do")
			return order, nil
		case order.IsResting():
			log.WithField("exchange_order_id", order.ExchangeOrderID).Info("Order resting on exchange, left to the reconciler")
			return order, nil
		case order.Status == model.OrderStatusNeedsReconciliation:
			fills, err := storedFill(order)
			if err != nil {
				return order, &ReconciliationFailed{OrderID: order.ID, Err: err}
			}
			return order, w.settle(ctx, order, fills)
		}
		log.WithField("order_id", order.ID).Info("Resuming unsubmitted order")

		// An earlier delivery may have reached the exchange before failing.
		// Posting again could open a second order once the first is closed.
		placement, err = w.coordinator.Lookup(ctx, order)
		if err != nil {
			log.WithError(err).Warn("Exchange lookup failed, will retry")
			return order, err
		}
	} else {
		order = &model.Order{
			AccountID:      intent.AccountID,
			IdempotencyKey: intent.IdempotencyKey,
			Symbol:         intent.Symbol,
			Side:           intent.Side,
			OrderType:      intent.OrderType,
			Quantity:       intent.Quantity,
			Price:          intent.Price,
			Status:         model.OrderStatusNew,
		}
		if err := w.orders.CreateWithAutoLog(ctx, order, "received"); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, fmt.Errorf("order for %s created concurrently: %w", intent.IdempotencyKey, err)
			}
			return nil, fmt.Errorf("create order: %w", err)
		}
	}

	if placement == nil {
		placement, err = w.coordinator.Place(ctx, order)
		if err != nil {
			if IsRetryable(err) {
				log.WithError(err).Warn("Order placement failed, will retry")
				return order, err
			}
			log.WithError(err).Warn("Order rejected")
			if terr := w.orders.TransitionWithAutoLog(ctx, order.ID, model.OrderStatusFailed, err.Error(), nil); terr != nil {
				return order, fmt.Errorf("%w (mark failed: %v)", err, terr)
			}
			order.Status = model.OrderStatusFailed
			order.LastError = err.Error()
			return order, err
		}
	}

	if err := w.orders.MarkSubmitted(ctx, order.ID, placement.ExchangeOrderID, placement.ClientOrderID); err != nil {
		// The exchange holds the order now but the reconciler cannot see it
		// without the id. The retry finds it again through Lookup.
		CaptureOrder(ctx, w.exceptions, order.ID, w.service, "controller", "MarkSubmitted", "error", err, map[string]interface{}{
			"exchange_order_id": placement.ExchangeOrderID,
		})
		return order, fmt.Errorf("record submission: %w", err)
	}
	order.ExchangeOrderID = placement.ExchangeOrderID
	order.ClientOrderID = placement.ClientOrderID

	if !placement.Filled() {
		log.WithFields(logrus.Fields{
			"order_id":          order.ID,
			"exchange_order_id": order.ExchangeOrderID,
		}).Info("Order pending on exchange")
		return order, nil
	}

	if err := w.settle(ctx, order, placement.Fills); err != nil {
		return order, err
	}
	return order, nil
}

// Abandon marks the order of a dead task FAILED, unless it already reached
// the exchange, in which case the reconciler keeps ownership. An order whose
// exchange state cannot be checked stays NEW for manual handling.
func (w *TradeWorker) Abandon(ctx context.Context, idempotencyKey, reason string) error {
	order, err := w.orders.FindByIdempotencyKey(ctx, idempotencyKey)
	if err != nil || order == nil {
		return err
	}
	if order.Status != model.OrderStatusNew || order.ExchangeOrderID != "" {
		return nil
	}

	placement, err := w.coordinator.Lookup(ctx, order)
	if err != nil {
		return fmt.Errorf("check exchange for order %d: %w", order.ID, err)
	}
	if placement != nil {
		w.log.WithFields(logrus.Fields{
			"order_id":          order.ID,
			"exchange_order_id": placement.ExchangeOrderID,
		}).Warn("Abandoned order found on exchange, handing it to the reconciler")
		return w.orders.MarkSubmitted(ctx, order.ID, placement.ExchangeOrderID, placement.ClientOrderID)
	}

	return w.orders.TransitionWithAutoLog(ctx, order.ID, model.OrderStatusFailed, reason, nil)
}
