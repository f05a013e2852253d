package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"tradeengine/src/connectors"
	"tradeengine/src/metrics"
	"tradeengine/src/model"
)

const (
	outcomeSettled   = "settled"
	outcomePending   = "pending"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
	outcomeError     = "error"
)

type orderLookup interface {
	GetOrder(ctx context.Context, symbol, orderID string) (*model.FillResult, error)
}

// CycleStats counts what one reconciliation pass did.
type CycleStats struct {
	Visited   int
	Settled   int
	Pending   int
	Cancelled int
	Failed    int
	Errors    int
}

func (s *CycleStats) add(outcome string) {
	switch outcome {
	case outcomeSettled:
		s.Settled++
	case outcomePending:
		s.Pending++
	case outcomeCancelled:
		s.Cancelled++
	case outcomeFailed:
		s.Failed++
	default:
		s.Errors++
	}
}

// Reconciler drives open orders to a final state: resting orders are polled
// on the exchange and orders parked in NEEDS_RECONCILIATION are settled again.
type Reconciler struct {
	settler
	exchange  orderLookup
	batchSize int
}

func NewReconciler(
	orders orderStore,
	exchange orderLookup,
	exceptions exceptionRepository,
	fills fillSettler,
	cfg Config,
	log *logrus.Entry,
) *Reconciler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	batchSize := cfg.ReconcileBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Reconciler{
		settler: settler{
			orders:     orders,
			ledger:     fills,
			exceptions: exceptions,
			service:    "settlement_reconciler",
			log:        log.WithField("component", "reconciler"),
		},
		exchange:  exchange,
		batchSize: batchSize,
	}
}

// RunCycle makes one pass over every open order, loading them a batch at a
// time. A failing order is recorded and skipped; the error return is reserved
// for a batch that cannot be loaded and for cancellation.
func (r *Reconciler) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	var lastID uint

	for {
		orders, err := r.orders.FindOpen(ctx, lastID, r.batchSize)
		if err != nil {
			return stats, fmt.Errorf("load open orders: %w", err)
		}

		for i := range orders {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			order := &orders[i]
			lastID = order.ID
			r.visit(ctx, order, &stats)
		}

		if len(orders) < r.batchSize {
			break
		}
	}

	r.log.WithFields(logrus.Fields{
		"visited":   stats.Visited,
		"settled":   stats.Settled,
		"pending":   stats.Pending,
		"cancelled": stats.Cancelled,
		"failed":    stats.Failed,
		"errors":    stats.Errors,
	}).Info("Reconciliation cycle finished")

	return stats, nil
}

func (r *Reconciler) visit(ctx context.Context, order *model.Order, stats *CycleStats) {
	outcome, err := r.reconcileSafe(ctx, order)
	stats.Visited++
	stats.add(outcome)
	metrics.ReconcileOutcomes.WithLabelValues(outcome).Inc()

	if err == nil {
		return
	}

	r.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).WithError(err).Warn("Order reconciliation failed")

	var parked *ReconciliationFailed
	if !errors.As(err, &parked) {
		// settle already captured the parked ones
		CaptureOrder(ctx, r.exceptions, order.ID, r.service, "reconciler", "RunCycle", "warning", err, map[string]interface{}{
			"exchange_order_id": order.ExchangeOrderID,
			"status":            order.Status,
		})
	}
}

func (r *Reconciler) reconcileSafe(ctx context.Context, order *model.Order) (outcome string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = outcomeError
			err = fmt.Errorf("panic reconciling order %d: %v", order.ID, rec)
		}
	}()
	return r.reconcile(ctx, order)
}

func (r *Reconciler) reconcile(ctx context.Context, order *model.Order) (string, error) {
	if order.Status == model.OrderStatusNeedsReconciliation {
		fills, err := storedFill(order)
		if err != nil {
			return outcomeError, err
		}
		if err := r.settle(ctx, order, fills); err != nil {
			return outcomeError, err
		}
		return outcomeSettled, nil
	}

	result, err := r.exchange.GetOrder(ctx, order.Symbol, order.ExchangeOrderID)
	if errors.Is(err, connectors.ErrOrderNotFound) {
		return r.finish(ctx, order, model.OrderStatusFailed, "order unknown to exchange")
	}
	if err != nil {
		return outcomeError, fmt.Errorf("query order %s: %w", order.ExchangeOrderID, err)
	}

	switch result.Status {
	case model.ExchangeStatusFilled:
		fills := result.Fills
		if len(fills) == 0 {
			if fills, err = r.reportedFill(order, result); err != nil {
				return outcomeError, err
			}
		}
		if err := r.settle(ctx, order, fills); err != nil {
			return outcomeError, err
		}
		return outcomeSettled, nil

	case model.ExchangeStatusCanceled, model.ExchangeStatusExpired:
		if len(result.Fills) > 0 {
			if err := r.settle(ctx, order, result.Fills); err != nil {
				return outcomeError, err
			}
			return outcomeSettled, nil
		}
		return r.finish(ctx, order, model.OrderStatusCancelled, "exchange reported "+result.Status)

	case model.ExchangeStatusRejected:
		return r.finish(ctx, order, model.OrderStatusFailed, "exchange reported "+result.Status)
	}

	return outcomePending, nil
}

// reportedFill prices a FILLED result that came without a breakdown.
func (r *Reconciler) reportedFill(order *model.Order, result *model.FillResult) ([]model.Fill, error) {
	fallback := *order
	if result.ExecutedQty.IsPositive() {
		fallback.ExecutedQty = result.ExecutedQty
	}
	return storedFill(&fallback)
}

func (r *Reconciler) finish(ctx context.Context, order *model.Order, status, reason string) (string, error) {
	if err := r.orders.TransitionWithAutoLog(ctx, order.ID, status, reason, nil); err != nil {
		return outcomeError, err
	}
	order.Status = status

	r.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"status":   status,
	}).Info(reason)

	if status == model.OrderStatusCancelled {
		return outcomeCancelled, nil
	}
	return outcomeFailed, nil
}
