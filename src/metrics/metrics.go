package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var TasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "trade_tasks_processed_total",
	Help: "Trade tasks handled by the worker pool, by result",
}, []string{"result"})

var SettlementCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "settlement_cycles_total",
	Help: "Settlement reconciler cycles, by result",
}, []string{"result"})

var ReconcileOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "settlement_orders_total",
	Help: "Orders visited by the reconciler, by outcome",
}, []string{"outcome"})

var OrdersSettled = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "orders_settled_total",
	Help: "Fills applied to the ledgers, by side",
}, []string{"side"})

var ExchangeRequestDurations = prometheus.NewSummaryVec(prometheus.SummaryOpts{
	Name:       "exchange_request_duration_ms",
	Help:       "exchange adapter call durations milliseconds",
	AgeBuckets: 1,
}, []string{"exchange", "action", "result"})

var WorkersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "trade_workers_busy",
	Help: "Workers currently handling a task",
})

func init() {
	prometheus.MustRegister(
		TasksProcessed,
		SettlementCycles,
		ReconcileOutcomes,
		OrdersSettled,
		ExchangeRequestDurations,
		WorkersBusy,
	)
}

// ObserveExchangeCall records the duration of one adapter call started at start.
func ObserveExchangeCall(exchange, action string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ExchangeRequestDurations.WithLabelValues(exchange, action, result).
		Observe(float64(time.Since(start) / time.Millisecond))
}
