package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"tradeengine/src/ledger"
	"tradeengine/src/model"
	"tradeengine/src/quantity"
)

func TestNormalizeToUSDT(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"BTCUSD", "BTCUSDT"},
		{"ethusd", "ETHUSDT"},
		{"BTCUSDT", "BTCUSDT"},
		{" solusdt ", "SOLUSDT"},
		{"ETHBTC", "ETHBTC"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeToUSDT(tt.input); got != tt.expected {
			t.Fatalf("expected %s -> %s, got %s", tt.input, tt.expected, got)
		}
	}
}

type recordingExceptions struct {
	got  []*model.Exception
	ctxs []context.Context
	err  error
}

func (r *recordingExceptions) Create(ctx context.Context, exc *model.Exception) error {
	r.got = append(r.got, exc)
	r.ctxs = append(r.ctxs, ctx)
	return r.err
}

func TestCapturePersistsAfterCancel(t *testing.T) {
	repo := &recordingExceptions{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	CaptureOrder(ctx, repo, 42, "trade_worker", "settlement", "SettleFill", "error", errors.New("boom"), map[string]interface{}{"symbol": "BTCUSDT"})

	require.Len(t, repo.got, 1)
	exc := repo.got[0]
	require.Equal(t, "boom", exc.Message)
	require.Equal(t, uint(42), *exc.OrderID)
	require.JSONEq(t, `{"symbol":"BTCUSDT"}`, exc.Context)
	require.NotEmpty(t, exc.Stack)
	require.NoError(t, repo.ctxs[0].Err(), "persisting ignores the caller's cancellation")
}

func TestCaptureIgnoresNilError(t *testing.T) {
	repo := &recordingExceptions{}
	Capture(context.Background(), repo, "svc", "mod", "method", "error", nil, nil)
	require.Empty(t, repo.got)

	// a failing store is only logged
	repo.err = errors.New("db down")
	Capture(context.Background(), repo, "svc", "mod", "method", "error", errors.New("x"), nil)
	require.Len(t, repo.got, 1)
	require.Nil(t, repo.got[0].OrderID)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", &ValidationError{Field: "side", Reason: "bad"}, false},
		{"wrapped validation", fmt.Errorf("handle: %w", &ValidationError{Field: "side"}), false},
		{"min notional", quantity.ErrBelowMinimumNotional, false},
		{"insufficient credits", ledger.ErrInsufficientCredits, false},
		{"parked", &ReconciliationFailed{OrderID: 1, Err: errors.New("x")}, false},
		{"transient execution", &ExecutionFailed{Op: "PlaceOrder", Err: errors.New("x"), Retryable: true}, true},
		{"final execution", &ExecutionFailed{Op: "PlaceOrder", Err: errors.New("x")}, false},
		{"timeout", context.DeadlineExceeded, true},
		{"database", errors.New("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
