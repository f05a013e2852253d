package executors

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/connectors"
	"tradeengine/src/controller"
	"tradeengine/src/ledger"
	"tradeengine/src/repository"
)

// Components is the wired trade engine of one process.
type Components struct {
	Exchange   connectors.ExchangeAdapter
	Ledger     *ledger.Ledger
	Orders     *repository.OrderRepository
	Tasks      *repository.TradeTaskRepository
	Exceptions *repository.ExceptionRepository
	Worker     *controller.TradeWorker
	Reconciler *controller.Reconciler
}

// Build wires the engine on db from the environment configuration.
func Build(db *gorm.DB, log *logrus.Entry) (*Components, error) {
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	exchange, err := connectors.NewExchangeAdapter(connectors.GetConfig())
	if err != nil {
		return nil, fmt.Errorf("exchange adapter: %w", err)
	}
	return BuildWith(db, exchange, ledger.GetConfig(), controller.GetConfig(), log), nil
}

// BuildWith wires the engine around an existing exchange adapter.
func BuildWith(db *gorm.DB, exchange connectors.ExchangeAdapter, ledgerCfg ledger.Config, controllerCfg controller.Config, log *logrus.Entry) *Components {
	orders := repository.NewOrderRepository().WithDB(db)
	exceptions := repository.NewExceptionRepository().WithDB(db)
	l := ledger.New(db, ledgerCfg, log)

	return &Components{
		Exchange:   exchange,
		Ledger:     l,
		Orders:     orders,
		Tasks:      repository.NewTradeTaskRepository().WithDB(db),
		Exceptions: exceptions,
		Worker: controller.NewTradeWorker(
			orders,
			repository.NewAccountRepository().WithDB(db),
			exceptions,
			controller.NewCoordinator(exchange, log),
			l,
			log,
		),
		Reconciler: controller.NewReconciler(orders, exchange, exceptions, l, controllerCfg, log),
	}
}
