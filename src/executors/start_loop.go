package executors

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/controller"
	"tradeengine/src/database"
	"tradeengine/src/metrics"
)

// restartDelay is the pause before a crashed settlement loop starts again.
var restartDelay = 5 * time.Second

type cycleRunner interface {
	RunCycle(ctx context.Context) (controller.CycleStats, error)
}

// StartSettlementLoop runs the reconciler on the main database until ctx is
// done.
func StartSettlementLoop(ctx context.Context) error {
	config := GetConfig()

	c, err := Build(database.MainDB, logger.NewEntry(logger.StandardLogger()))
	if err != nil {
		logger.WithError(err).Error("Failed to build trade engine")
		return err
	}

	RunSettlementLoop(ctx, c.Reconciler, config.SettlementPeriod)
	return nil
}

// StartWorker runs the worker pool together with the process' settlement
// loop until ctx is done.
func StartWorker(ctx context.Context) error {
	config := GetConfig()

	c, err := Build(database.MainDB, logger.NewEntry(logger.StandardLogger()))
	if err != nil {
		logger.WithError(err).Error("Failed to build trade engine")
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		RunSettlementLoop(ctx, c.Reconciler, config.SettlementPeriod)
	}()

	NewPool(c.Tasks, c.Worker, c.Exceptions, config, nil).Run(ctx)
	wg.Wait()
	return nil
}

// RunSettlementLoop runs one cycle immediately and then one per period. A
// panicking loop is restarted; cycle errors are logged and never stop it.
func RunSettlementLoop(ctx context.Context, r cycleRunner, period time.Duration) {
	if period <= 0 {
		period = 5 * time.Minute
	}

	for {
		err := superviseLoop(ctx, r, period)
		if ctx.Err() != nil {
			logger.Info("settlement loop stopped")
			return
		}

		logger.WithError(err).Error("Settlement loop crashed, restarting")
		select {
		case <-ctx.Done():
			logger.Info("settlement loop stopped")
			return
		case <-time.After(restartDelay):
		}
	}
}

func superviseLoop(ctx context.Context, r cycleRunner, period time.Duration) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("settlement loop panic: %v", rec)
		}
	}()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	runCycle(ctx, r)
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			logger.Debug("settlement tick")
			runCycle(ctx, r)
		}
	}
}

func runCycle(ctx context.Context, r cycleRunner) {
	start := time.Now()
	stats, err := r.RunCycle(ctx)
	if err != nil {
		metrics.SettlementCycles.WithLabelValues("error").Inc()
		logger.WithError(err).Error("Settlement cycle failed")
		return
	}

	metrics.SettlementCycles.WithLabelValues("ok").Inc()
	logger.WithFields(map[string]interface{}{
		"visited":  stats.Visited,
		"settled":  stats.Settled,
		"errors":   stats.Errors,
		"duration": time.Since(start).String(),
	}).Debug("Settlement cycle done")
}
