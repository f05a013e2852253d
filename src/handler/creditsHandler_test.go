package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/src/ledger"
	"tradeengine/src/model"
)

type mockCreditLedger struct {
	balance   decimal.Decimal
	err       error
	deposited decimal.Decimal
	reason    string
	limit     int
	offset    int
	entries   []model.CreditLedgerEntry
	positions []model.Position
}

func (m *mockCreditLedger) Balance(ctx context.Context, accountID uint) (decimal.Decimal, error) {
	return m.balance, m.err
}

func (m *mockCreditLedger) Deposit(ctx context.Context, accountID uint, amount decimal.Decimal, reason string) (*model.CreditLedgerEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, amount)
	}
	m.deposited = amount
	m.reason = reason
	m.balance = m.balance.Add(amount)
	return &model.CreditLedgerEntry{AccountID: accountID, Change: amount, BalanceAfter: m.balance}, nil
}

func (m *mockCreditLedger) History(ctx context.Context, accountID uint, limit, offset int) ([]model.CreditLedgerEntry, error) {
	m.limit = limit
	m.offset = offset
	return m.entries, m.err
}

func (m *mockCreditLedger) Positions(ctx context.Context, accountID uint) ([]model.Position, error) {
	return m.positions, m.err
}

func decodeBalance(t *testing.T, rr *httptest.ResponseRecorder) decimal.Decimal {
	t.Helper()
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Balance
}

func TestBalanceHandler(t *testing.T) {
	credits := &mockCreditLedger{balance: decimal.RequireFromString("123.45")}

	rr := httptest.NewRecorder()
	BalanceHandler(credits).ServeHTTP(rr, withAccount(httptest.NewRequest(http.MethodGet, "/credits/balance", nil), 1))

	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, decodeBalance(t, rr).Equal(decimal.RequireFromString("123.45")))

	rr = httptest.NewRecorder()
	BalanceHandler(credits).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/credits/balance", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDepositHandler(t *testing.T) {
	credits := &mockCreditLedger{balance: decimal.RequireFromString("10")}
	handler := DepositHandler(credits)

	req := withAccount(httptest.NewRequest(http.MethodPost, "/credits/deposit", strings.NewReader(`{"amount":"90.5","reason":"Top Up"}`)), 1)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, decodeBalance(t, rr).Equal(decimal.RequireFromString("100.5")))
	assert.Equal(t, model.CreditReasonTopUp, credits.reason)

	req = withAccount(httptest.NewRequest(http.MethodPost, "/credits/deposit", strings.NewReader(`{"amount":"-5"}`)), 1)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	credits.err = assert.AnError
	req = withAccount(httptest.NewRequest(http.MethodPost, "/credits/deposit", strings.NewReader(`{"amount":"5"}`)), 1)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHistoryHandlerPaginates(t *testing.T) {
	credits := &mockCreditLedger{entries: []model.CreditLedgerEntry{{ID: 2}, {ID: 1}}}

	rr := httptest.NewRecorder()
	HistoryHandler(credits).ServeHTTP(rr, withAccount(httptest.NewRequest(http.MethodGet, "/credits/history?page=3&pageSize=10", nil), 1))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 10, credits.limit)
	require.Equal(t, 20, credits.offset)

	var entries []model.CreditLedgerEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
}

func TestPositionsHandler(t *testing.T) {
	credits := &mockCreditLedger{positions: []model.Position{{Symbol: "BTCUSDT", Quantity: decimal.RequireFromString("1.5")}}}

	rr := httptest.NewRecorder()
	PositionsHandler(credits).ServeHTTP(rr, withAccount(httptest.NewRequest(http.MethodGet, "/positions", nil), 1))

	require.Equal(t, http.StatusOK, rr.Code)
	var positions []model.Position
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	require.Equal(t, "BTCUSDT", positions[0].Symbol)
}
