package executor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"tradeengine/src/database"
	"tradeengine/src/executors"
)

// Executor runs the trade worker pool, or only the settlement reconciler when
// SettlementOnly is set.
type Executor struct {
	SettlementOnly bool
}

func (t *Executor) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	if t.SettlementOnly || config.SettlementOnly {
		logrus.Info("Starting settlement reconciler")
		if err := executors.StartSettlementLoop(ctx); err != nil {
			logrus.WithError(err).Error("Failed to start settlement loop")
			return err
		}
		return nil
	}

	logrus.Info("Starting trade worker")
	if err := executors.StartWorker(ctx); err != nil {
		logrus.WithError(err).Error("Failed to start trade worker")
		return err
	}

	return nil
}
