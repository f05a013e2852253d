package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/metrics"
	"tradeengine/src/model"
	"tradeengine/src/quantity"
	"tradeengine/src/repository"
)

// Ledger owns every write to positions, credits and transactions.
type Ledger struct {
	db      *gorm.DB
	feeRate decimal.Decimal
	locks   *keyedMutex
	log     *logrus.Entry
	now     func() time.Time
}

func New(db *gorm.DB, cfg Config, log *logrus.Entry) *Ledger {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ledger{
		db:      db,
		feeRate: cfg.TradingFeeRate,
		locks:   newKeyedMutex(),
		log:     log.WithField("component", "ledger"),
		now:     time.Now,
	}
}

// Settlement summarizes the ledger effects of one settled order.
type Settlement struct {
	OrderID      uint
	Side         string
	Quantity     decimal.Decimal
	AvgPrice     decimal.Decimal
	Total        decimal.Decimal
	Fee          decimal.Decimal
	CreditChange decimal.Decimal
	BalanceAfter decimal.Decimal
	Positions    []PositionChange
}

// Fee is the trading fee charged on a notional, truncated to ledger precision.
func (l *Ledger) Fee(total decimal.Decimal) decimal.Decimal {
	return quantity.Truncate(total.Mul(l.feeRate), quantity.LedgerPlaces)
}

// SettleFill applies the fills of order to the portfolio and credit ledgers,
// writes the transactions and marks the order FILLED, all in one database
// transaction. An order that is already settled yields ErrAlreadySettled and
// leaves everything untouched.
func (l *Ledger) SettleFill(ctx context.Context, order *model.Order, fills []model.Fill) (*Settlement, error) {
	if len(fills) == 0 {
		return nil, fmt.Errorf("%w: order %d", ErrNoFills, order.ID)
	}

	unlock := l.locks.Lock(positionKey(order.AccountID, order.Symbol))
	defer unlock()

	log := l.log.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"account_id": order.AccountID,
		"symbol":     order.Symbol,
		"side":       order.Side,
	})

	var settlement *Settlement
	filled := *order
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.Order
		if err := tx.First(&current, order.ID).Error; err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if current.SettledAt != nil || current.IsTerminal() {
			return ErrAlreadySettled
		}

		account, err := repository.NewAccountRepository().WithDB(tx).FindByIDForUpdate(ctx, order.AccountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if account == nil {
			return fmt.Errorf("%w: %d", ErrAccountNotFound, order.AccountID)
		}

		s := &Settlement{OrderID: order.ID, Side: order.Side, Quantity: decimal.Zero, Total: decimal.Zero}
		for _, f := range fills {
			if !f.Qty.IsPositive() || !f.Price.IsPositive() {
				return fmt.Errorf("%w: fill qty %s price %s", ErrInvalidAmount, f.Qty, f.Price)
			}
			s.Quantity = s.Quantity.Add(f.Qty)
			s.Total = s.Total.Add(f.Qty.Mul(f.Price))
		}
		s.AvgPrice = s.Total.Div(s.Quantity)
		s.Fee = l.Fee(s.Total)

		var txType string
		switch order.Side {
		case model.SideBuy:
			txType = model.TransactionTypeBuy
			s.CreditChange = s.Total.Add(s.Fee).Neg()
			if account.Credits.Add(s.CreditChange).IsNegative() {
				return fmt.Errorf("%w: need %s, have %s", ErrInsufficientCredits, s.CreditChange.Neg(), account.Credits)
			}
			for _, f := range fills {
				change, err := Increase(ctx, tx, order.AccountID, order.Symbol, f.Qty, f.Price)
				if err != nil {
					return err
				}
				s.Positions = append(s.Positions, *change)
			}
		case model.SideSell:
			txType = model.TransactionTypeSell
			s.CreditChange = s.Total.Sub(s.Fee)
			change, err := Decrease(ctx, tx, order.AccountID, order.Symbol, s.Quantity)
			if err != nil {
				return err
			}
			s.Positions = append(s.Positions, *change)
		default:
			return fmt.Errorf("unknown side %q", order.Side)
		}

		orderID := order.ID
		rows := make([]model.Transaction, 0, len(fills)+1)
		for _, f := range fills {
			rows = append(rows, model.Transaction{
				AccountID:   order.AccountID,
				OrderID:     &orderID,
				Symbol:      order.Symbol,
				Type:        txType,
				Quantity:    f.Qty,
				Price:       f.Price,
				TotalAmount: f.Qty.Mul(f.Price),
			})
		}
		if s.Fee.IsPositive() {
			rows = append(rows, model.Transaction{
				AccountID:   order.AccountID,
				OrderID:     &orderID,
				Symbol:      order.Symbol,
				Type:        model.TransactionTypeFee,
				Quantity:    decimal.Zero,
				Price:       decimal.Zero,
				TotalAmount: s.Fee,
			})
		}
		if err := repository.NewTransactionRepository().WithDB(tx).CreateBatch(ctx, rows); err != nil {
			return fmt.Errorf("record transactions: %w", err)
		}

		entry, err := ApplyChange(ctx, tx, order.AccountID, s.CreditChange, model.CreditReasonTrade, map[string]interface{}{
			"order_id":    order.ID,
			"symbol":      order.Symbol,
			"side":        order.Side,
			"qty":         s.Quantity,
			"price":       s.AvgPrice,
			"trading_fee": s.Fee,
		})
		if err != nil {
			return err
		}
		s.BalanceAfter = entry.BalanceAfter

		settled, err := repository.NewOrderRepository().WithDB(tx).
			MarkFilledWithAutoLog(ctx, &filled, s.Quantity, s.AvgPrice, l.now().UTC())
		if err != nil {
			return err
		}
		if !settled {
			return ErrAlreadySettled
		}

		settlement = s
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			log.Info("Order already settled, skipping")
		} else {
			log.WithError(err).Warn("Settlement rolled back")
		}
		return nil, err
	}

	*order = filled
	metrics.OrdersSettled.WithLabelValues(order.Side).Inc()
	log.WithFields(logrus.Fields{
		"quantity":      settlement.Quantity.String(),
		"avg_price":     settlement.AvgPrice.String(),
		"fee":           settlement.Fee.String(),
		"balance_after": settlement.BalanceAfter.String(),
	}).Info("Order settled")

	return settlement, nil
}

// Deposit credits amount to accountID. An empty reason records a Deposit.
func (l *Ledger) Deposit(ctx context.Context, accountID uint, amount decimal.Decimal, reason string) (*model.CreditLedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if reason == "" {
		reason = model.CreditReasonDeposit
	}

	var entry *model.CreditLedgerEntry
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = ApplyChange(ctx, tx, accountID, amount, reason, map[string]interface{}{"source": "api"})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Balance returns the cached spendable balance of accountID.
func (l *Ledger) Balance(ctx context.Context, accountID uint) (decimal.Decimal, error) {
	account, err := repository.NewAccountRepository().WithDB(l.db).FindByID(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if account == nil {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrAccountNotFound, accountID)
	}
	return account.Credits, nil
}

// History lists credit ledger entries of accountID, newest first.
func (l *Ledger) History(ctx context.Context, accountID uint, limit, offset int) ([]model.CreditLedgerEntry, error) {
	return repository.NewCreditLedgerRepository().WithDB(l.db).ListByAccount(ctx, accountID, limit, offset)
}

// Positions lists the open positions of accountID.
func (l *Ledger) Positions(ctx context.Context, accountID uint) ([]model.Position, error) {
	return repository.NewPositionRepository().WithDB(l.db).ListByAccount(ctx, accountID)
}
