package controller

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tradeengine/src/connectors"
	"tradeengine/src/database/dbtest"
	"tradeengine/src/ledger"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// flakyExchange is the offline exchange with injectable failures.
type flakyExchange struct {
	*connectors.OfflineConnector
	placeErr  error
	acceptErr error // returned after the exchange took the order
	findErr   error
	getErr    map[string]error
	panicOn   string
	posts     int
}

func (f *flakyExchange) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.FillResult, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.posts++
	result, err := f.OfflineConnector.PlaceOrder(ctx, req)
	if err == nil && f.acceptErr != nil {
		return nil, f.acceptErr
	}
	return result, err
}

func (f *flakyExchange) FindOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*model.FillResult, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.OfflineConnector.FindOrderByClientID(ctx, symbol, clientOrderID)
}

func (f *flakyExchange) GetOrder(ctx context.Context, symbol, orderID string) (*model.FillResult, error) {
	if orderID == f.panicOn {
		panic("exchange client blew up")
	}
	if err, ok := f.getErr[orderID]; ok {
		return nil, err
	}
	return f.OfflineConnector.GetOrder(ctx, symbol, orderID)
}

type engine struct {
	db         *gorm.DB
	exchange   *flakyExchange
	ledger     *ledger.Ledger
	orders     *repository.OrderRepository
	exceptions *repository.ExceptionRepository
	worker     *TradeWorker
	reconciler *Reconciler
	account    *model.Account
	hook       *test.Hook
}

func newEngine(t *testing.T, credits string) *engine {
	t.Helper()

	db := dbtest.OpenSQLite(t,
		&model.Account{},
		&model.Order{},
		&model.OrderLog{},
		&model.Position{},
		&model.Transaction{},
		&model.CreditLedgerEntry{},
		&model.Exception{},
	)

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	entry := logrus.NewEntry(log)

	exchange := &flakyExchange{
		OfflineConnector: connectors.NewOfflineConnector(d("0.00001"), d("10"), map[string]decimal.Decimal{
			"BTCUSDT": d("95"),
			"ETHUSDT": d("3000"),
		}),
		getErr: map[string]error{},
	}

	account := &model.Account{Name: "alice", Credits: d(credits)}
	require.NoError(t, repository.NewAccountRepository().WithDB(db).Create(context.Background(), account))

	orders := repository.NewOrderRepository().WithDB(db)
	exceptions := repository.NewExceptionRepository().WithDB(db)
	l := ledger.New(db, ledger.Config{TradingFeeRate: d("0.001")}, entry)

	return &engine{
		db:         db,
		exchange:   exchange,
		ledger:     l,
		orders:     orders,
		exceptions: exceptions,
		worker: NewTradeWorker(orders, repository.NewAccountRepository().WithDB(db), exceptions,
			NewCoordinator(exchange, entry), l, entry),
		reconciler: NewReconciler(orders, exchange, exceptions, l, Config{ReconcileBatchSize: 50}, entry),
		account:    account,
		hook:       hook,
	}
}

func (e *engine) intent(key, side, orderType, qty string, price *decimal.Decimal) model.TradeIntent {
	return model.TradeIntent{
		AccountID:      e.account.ID,
		Symbol:         "BTCUSDT",
		Side:           side,
		OrderType:      orderType,
		Quantity:       d(qty),
		Price:          price,
		IdempotencyKey: key,
	}
}

func (e *engine) reload(t *testing.T, orderID uint) *model.Order {
	t.Helper()
	o, err := e.orders.FindByID(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func (e *engine) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := e.ledger.Balance(context.Background(), e.account.ID)
	require.NoError(t, err)
	return b
}

func (e *engine) count(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Count(&n).Error)
	return n
}
