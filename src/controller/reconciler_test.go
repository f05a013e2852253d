package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
)

func TestReconcilerSettlesFilledLimit(t *testing.T) {
	e := newEngine(t, "1000")
	ctx := context.Background()

	order, err := e.worker.Handle(ctx, e.intent("rest-1", model.SideBuy, model.OrderTypeLimit, "0.5", dp("90")))
	require.NoError(t, err)

	stats, err := e.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, CycleStats{Visited: 1, Pending: 1}, stats)

	e.exchange.SetPrice("BTCUSDT", d("89"))

	stats, err = e.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Settled)

	stored := e.reload(t, order.ID)
	require.Equal(t, model.OrderStatusFilled, stored.Status)
	// 0.5 * 90 = 45, fee 0.045
	require.True(t, e.balance(t).Equal(d("954.955")), "balance %s", e.balance(t))

	stats, err = e.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Visited, "filled orders leave the open set")
}

func TestReconcilerIsolatesFailures(t *testing.T) {
	e := newEngine(t, "1000")
	ctx := context.Background()

	a, err := e.worker.Handle(ctx, e.intent("order-a", model.SideBuy, model.OrderTypeLimit, "0.5", dp("90")))
	require.NoError(t, err)
	b, err := e.worker.Handle(ctx, e.intent("order-b", model.SideBuy, model.OrderTypeLimit, "0.2", dp("91")))
	require.NoError(t, err)
	c, err := e.worker.Handle(ctx, e.intent("order-c", model.SideBuy, model.OrderTypeLimit, "0.2", dp("92")))
	require.NoError(t, err)

	e.exchange.SetPrice("BTCUSDT", d("80"))
	e.exchange.getErr[a.ExchangeOrderID] = &connectors.APIError{HTTPStatus: 500, Code: -1000, Msg: "An unknown error occurred while processing the request."}
	e.exchange.panicOn = c.ExchangeOrderID

	stats, err := e.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, CycleStats{Visited: 3, Settled: 1, Errors: 2}, stats)

	require.Equal(t, model.OrderStatusNew, e.reload(t, a.ID).Status)
	require.Equal(t, model.OrderStatusFilled, e.reload(t, b.ID).Status)
	require.Equal(t, model.OrderStatusNew, e.reload(t, c.ID).Status)

	excs, err := e.exceptions.ListByOrder(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, excs, 1)
	require.Equal(t, "reconciler", excs[0].Module)

	excs, err = e.exceptions.ListByOrder(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, excs, 1)
	require.Contains(t, excs[0].Message, "panic")

	// the next cycle picks the failed ones up again
	delete(e.exchange.getErr, a.ExchangeOrderID)
	e.exchange.panicOn = ""
	stats, err = e.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, CycleStats{Visited: 2, Settled: 2}, stats)
}

func TestReconcilerCancelledAndUnknownOrders(t *testing.T) {
	e := newEngine(t, "1000")
	ctx := context.Background()

	cancelled, err := e.worker.Handle(ctx, e.intent("cancel-me", model.SideBuy, model.OrderTypeLimit, "0.5", dp("90")))
	require.NoError(t, err)
	require.NoError(t, e.exchange.Cancel(cancelled.ExchangeOrderID))

	unknown, err := e.worker.Handle(ctx, e.intent("lost", model.SideBuy, model.OrderTypeLimit, "0.5", dp("80")))
	require.NoError(t, err)
	e.exchange.getErr[unknown.ExchangeOrderID] = connectors.ErrOrderNotFound

	stats, err := e.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, CycleStats{Visited: 2, Cancelled: 1, Failed: 1}, stats)

	require.Equal(t, model.OrderStatusCancelled, e.reload(t, cancelled.ID).Status)
	require.Equal(t, model.OrderStatusFailed, e.reload(t, unknown.ID).Status)
	require.True(t, e.balance(t).Equal(d("1000")))
}

func TestReconcilerRetriesParkedOrders(t *testing.T) {
	e := newEngine(t, "10")
	ctx := context.Background()

	order, err := e.worker.Handle(ctx, e.intent("parked", model.SideBuy, model.OrderTypeMarket, "0.5", nil))
	require.Error(t, err)
	require.Equal(t, model.OrderStatusNeedsReconciliation, e.reload(t, order.ID).Status)

	// still short of credits: stays parked, no second status change
	stats, err := e.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, CycleStats{Visited: 1, Errors: 1}, stats)
	require.Equal(t, model.OrderStatusNeedsReconciliation, e.reload(t, order.ID).Status)

	_, err = e.ledger.Deposit(ctx, e.account.ID, d("100"), "")
	require.NoError(t, err)

	stats, err = e.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, CycleStats{Visited: 1, Settled: 1}, stats)

	require.Equal(t, model.OrderStatusFilled, e.reload(t, order.ID).Status)
	// 110 - 47.5 - 0.0475
	require.True(t, e.balance(t).Equal(d("62.4525")), "balance %s", e.balance(t))
}

func TestReconcilerVisitsEveryOrderPastTheBatchSize(t *testing.T) {
	e := newEngine(t, "1000")
	ctx := context.Background()
	r := NewReconciler(e.orders, e.exchange, e.exceptions, e.ledger, Config{ReconcileBatchSize: 1}, nil)

	// nothing held, so the sell fill cannot be applied
	stuck, err := e.worker.Handle(ctx, e.intent("stuck-sell", model.SideSell, model.OrderTypeMarket, "0.5", nil))
	require.Error(t, err)
	require.Equal(t, model.OrderStatusNeedsReconciliation, e.reload(t, stuck.ID).Status)

	resting, err := e.worker.Handle(ctx, e.intent("rest-behind", model.SideBuy, model.OrderTypeLimit, "0.5", dp("90")))
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusNew, resting.Status)

	e.exchange.SetPrice("BTCUSDT", d("80"))

	stats, err := r.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, CycleStats{Visited: 2, Settled: 1, Errors: 1}, stats)
	require.Equal(t, model.OrderStatusFilled, e.reload(t, resting.ID).Status)

	for i := 0; i < 3; i++ {
		stats, err = r.RunCycle(ctx)
		require.NoError(t, err)
		require.Equal(t, CycleStats{Visited: 1, Errors: 1}, stats)
	}

	excs, err := e.exceptions.ListByOrder(ctx, stuck.ID)
	require.NoError(t, err)
	require.Len(t, excs, 1, "a parked order is reported once, not every cycle")
	require.Equal(t, "settlement", excs[0].Module)
}

func TestReconcilerStopsOnCancelledContext(t *testing.T) {
	e := newEngine(t, "1000")

	_, err := e.worker.Handle(context.Background(), e.intent("rest", model.SideBuy, model.OrderTypeLimit, "0.5", dp("90")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.reconciler.RunCycle(ctx)
	require.Error(t, err)
}
