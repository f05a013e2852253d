package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tradeengine/src/controller"
	"tradeengine/src/executors"
	"tradeengine/src/ledger"
	"tradeengine/src/model"
)

var (
	ErrEmptyCart = errors.New("no active cart or items to checkout")
	// ErrNoQuote means a market item could not be priced.
	ErrNoQuote = errors.New("could not fetch market price")
)

type cartStore interface {
	FindActive(ctx context.Context, accountID uint) (*model.Cart, error)
	AddItem(ctx context.Context, accountID uint, item *model.CartItem) (*model.Cart, error)
	MarkCheckedOut(ctx context.Context, cartID uint, at time.Time) (bool, error)
}

type taskEnqueuer interface {
	Enqueue(ctx context.Context, task *model.TradeTask) (*model.TradeTask, bool, error)
}

// PriceSource quotes the last traded price of a symbol.
type PriceSource interface {
	GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type creditReader interface {
	Balance(ctx context.Context, accountID uint) (decimal.Decimal, error)
	Fee(total decimal.Decimal) decimal.Decimal
}

// Service adds buy items to carts and checks them out as trade tasks.
type Service struct {
	carts       cartStore
	tasks       taskEnqueuer
	prices      PriceSource
	credits     creditReader
	maxAttempts int
	log         *logrus.Entry
}

func NewService(carts cartStore, tasks taskEnqueuer, prices PriceSource, credits creditReader, maxAttempts int, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		carts:       carts,
		tasks:       tasks,
		prices:      prices,
		credits:     credits,
		maxAttempts: maxAttempts,
		log:         log.WithField("component", "cart"),
	}
}

// Item is a buy line as the client sends it.
type Item struct {
	Symbol    string
	OrderType string
	Quantity  decimal.Decimal
	Price     *decimal.Decimal
}

// Add validates item as a buy intent, quotes it and stores it in the active
// cart of accountID.
func (s *Service) Add(ctx context.Context, accountID uint, item Item) (*model.Cart, *model.CartItem, error) {
	intent := model.TradeIntent{
		AccountID: accountID,
		Symbol:    item.Symbol,
		Side:      model.SideBuy,
		OrderType: item.OrderType,
		Quantity:  item.Quantity,
		Price:     item.Price,
	}
	if err := controller.NormalizeIntent(&intent); err != nil {
		return nil, nil, err
	}

	unit, err := s.unitPrice(ctx, intent.Symbol, intent.OrderType, intent.Price)
	if err != nil {
		return nil, nil, err
	}

	line := &model.CartItem{
		Symbol:         intent.Symbol,
		OrderType:      intent.OrderType,
		Quantity:       intent.Quantity,
		Price:          intent.Price,
		EstimatedPrice: unit,
	}
	cart, err := s.carts.AddItem(ctx, accountID, line)
	if err != nil {
		return nil, nil, err
	}
	return cart, line, nil
}

// Checkout is the result of a cart checkout.
type Checkout struct {
	CartID        uint               `json:"cart_id"`
	EstimatedCost decimal.Decimal    `json:"estimated_cost"`
	Tasks         []*model.TradeTask `json:"tasks"`
}

// Checkout checks the whole cart against the credit balance once, then
// queues one buy task per item. Task keys derive from the cart item, so a
// repeated checkout of the same cart queues nothing new.
func (s *Service) Checkout(ctx context.Context, accountID uint) (*Checkout, error) {
	cart, err := s.carts.FindActive(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	intents := make([]model.TradeIntent, 0, len(cart.Items))
	total := decimal.Zero
	for _, item := range cart.Items {
		unit, err := s.unitPrice(ctx, item.Symbol, item.OrderType, item.Price)
		if err != nil {
			return nil, err
		}
		total = total.Add(unit.Mul(item.Quantity))

		intents = append(intents, model.TradeIntent{
			AccountID:      accountID,
			Symbol:         item.Symbol,
			Side:           model.SideBuy,
			OrderType:      item.OrderType,
			Quantity:       item.Quantity,
			Price:          item.Price,
			IdempotencyKey: fmt.Sprintf("cart-%d-item-%d", cart.ID, item.ID),
		})
	}
	total = total.Add(s.credits.Fee(total))

	balance, err := s.credits.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(total) {
		return nil, fmt.Errorf("%w for total cart: need %s, have %s", ledger.ErrInsufficientCredits, total, balance)
	}

	result := &Checkout{CartID: cart.ID, EstimatedCost: total}
	for _, intent := range intents {
		task, _, err := executors.Enqueue(ctx, s.tasks, intent, "", s.maxAttempts)
		if err != nil {
			return nil, fmt.Errorf("queue %s: %w", intent.IdempotencyKey, err)
		}
		result.Tasks = append(result.Tasks, task)
	}

	if _, err := s.carts.MarkCheckedOut(ctx, cart.ID, time.Now().UTC()); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"account_id":     accountID,
		"cart_id":        cart.ID,
		"items":          len(intents),
		"estimated_cost": total.String(),
	}).Info("Cart checked out")

	return result, nil
}

func (s *Service) unitPrice(ctx context.Context, symbol, orderType string, limit *decimal.Decimal) (decimal.Decimal, error) {
	if orderType == model.OrderTypeLimit && limit != nil {
		return *limit, nil
	}
	if s.prices == nil {
		return decimal.Zero, fmt.Errorf("%w for %s: no price source", ErrNoQuote, symbol)
	}
	price, err := s.prices.GetTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w for %s: %v", ErrNoQuote, symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w for %s: got %s", ErrNoQuote, symbol, price)
	}
	return price, nil
}
