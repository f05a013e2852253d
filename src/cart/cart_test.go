package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradeengine/src/controller"
	"tradeengine/src/ledger"
	"tradeengine/src/model"
)

type memoryCarts struct {
	cart       *model.Cart
	checkedOut int
	markErr    error
}

func (m *memoryCarts) FindActive(ctx context.Context, accountID uint) (*model.Cart, error) {
	if m.cart == nil || m.cart.Status != model.CartStatusActive {
		return nil, nil
	}
	return m.cart, nil
}

func (m *memoryCarts) AddItem(ctx context.Context, accountID uint, item *model.CartItem) (*model.Cart, error) {
	if m.cart == nil {
		m.cart = &model.Cart{ID: 7, AccountID: accountID, Status: model.CartStatusActive}
	}
	item.ID = uint(len(m.cart.Items) + 1)
	item.CartID = m.cart.ID
	m.cart.Items = append(m.cart.Items, *item)
	return m.cart, nil
}

func (m *memoryCarts) MarkCheckedOut(ctx context.Context, cartID uint, at time.Time) (bool, error) {
	if m.markErr != nil {
		return false, m.markErr
	}
	m.checkedOut++
	m.cart.Status = model.CartStatusCheckedOut
	return true, nil
}

type memoryTasks struct {
	byKey map[string]*model.TradeTask
}

func (m *memoryTasks) Enqueue(ctx context.Context, task *model.TradeTask) (*model.TradeTask, bool, error) {
	if existing, ok := m.byKey[task.IdempotencyKey]; ok {
		return existing, false, nil
	}
	task.ID = uint(len(m.byKey) + 1)
	m.byKey[task.IdempotencyKey] = task
	return task, true, nil
}

type fixedPrices map[string]decimal.Decimal

func (p fixedPrices) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, ok := p[symbol]
	if !ok {
		return decimal.Zero, errors.New("invalid symbol")
	}
	return price, nil
}

type fixedCredits struct {
	balance decimal.Decimal
}

func (f *fixedCredits) Balance(ctx context.Context, accountID uint) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fixedCredits) Fee(total decimal.Decimal) decimal.Decimal {
	return total.Mul(decimal.RequireFromString("0.001"))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(balance string) (*Service, *memoryCarts, *memoryTasks) {
	carts := &memoryCarts{}
	tasks := &memoryTasks{byKey: map[string]*model.TradeTask{}}
	prices := fixedPrices{"BTCUSDT": d("100")}
	return NewService(carts, tasks, prices, &fixedCredits{balance: d(balance)}, 3, nil), carts, tasks
}

func TestAddQuotesMarketItems(t *testing.T) {
	s, carts, _ := newService("0")
	ctx := context.Background()

	_, item, err := s.Add(ctx, 1, Item{Symbol: "btcusd", OrderType: "market", Quantity: d("0.5")})
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", item.Symbol)
	require.Equal(t, model.OrderTypeMarket, item.OrderType)
	require.True(t, item.EstimatedPrice.Equal(d("100")))

	limit := d("90")
	_, item, err = s.Add(ctx, 1, Item{Symbol: "BTCUSDT", OrderType: model.OrderTypeLimit, Quantity: d("1"), Price: &limit})
	require.NoError(t, err)
	require.True(t, item.EstimatedPrice.Equal(limit))
	require.Len(t, carts.cart.Items, 2)

	_, _, err = s.Add(ctx, 1, Item{Symbol: "DOGEUSDT", OrderType: model.OrderTypeMarket, Quantity: d("1")})
	require.ErrorIs(t, err, ErrNoQuote)

	_, _, err = s.Add(ctx, 1, Item{Symbol: "BTCUSDT", OrderType: model.OrderTypeLimit, Quantity: d("1")})
	var validation *controller.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestCheckoutChecksTheWholeCart(t *testing.T) {
	s, carts, tasks := newService("100")
	ctx := context.Background()

	_, err := s.Checkout(ctx, 1)
	require.ErrorIs(t, err, ErrEmptyCart)

	_, _, err = s.Add(ctx, 1, Item{Symbol: "BTCUSDT", OrderType: model.OrderTypeMarket, Quantity: d("0.5")})
	require.NoError(t, err)
	_, _, err = s.Add(ctx, 1, Item{Symbol: "BTCUSDT", OrderType: model.OrderTypeMarket, Quantity: d("0.5")})
	require.NoError(t, err)

	// each item fits alone, both together do not
	_, err = s.Checkout(ctx, 1)
	require.ErrorIs(t, err, ledger.ErrInsufficientCredits)
	require.Empty(t, tasks.byKey)
	require.Zero(t, carts.checkedOut)
}

func TestCheckoutQueuesOneTaskPerItem(t *testing.T) {
	s, carts, tasks := newService("1000")
	ctx := context.Background()

	limit := d("90")
	_, _, err := s.Add(ctx, 1, Item{Symbol: "BTCUSDT", OrderType: model.OrderTypeMarket, Quantity: d("1")})
	require.NoError(t, err)
	_, _, err = s.Add(ctx, 1, Item{Symbol: "BTCUSDT", OrderType: model.OrderTypeLimit, Quantity: d("2"), Price: &limit})
	require.NoError(t, err)

	// closing the cart fails after the tasks are queued
	carts.markErr = errors.New("connection reset")
	_, err = s.Checkout(ctx, 1)
	require.Error(t, err)
	require.Len(t, tasks.byKey, 2)

	carts.markErr = nil
	checkout, err := s.Checkout(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tasks.byKey, 2, "a repeated checkout reuses the queued tasks")
	require.Len(t, checkout.Tasks, 2)
	require.Equal(t, "cart-7-item-1", checkout.Tasks[0].IdempotencyKey)
	require.Equal(t, "cart-7-item-2", checkout.Tasks[1].IdempotencyKey)
	// 100 + 180, fee 0.28
	require.True(t, checkout.EstimatedCost.Equal(d("280.28")), "cost %s", checkout.EstimatedCost)
	require.Equal(t, 1, carts.checkedOut)

	_, err = s.Checkout(ctx, 1)
	require.ErrorIs(t, err, ErrEmptyCart)
}
