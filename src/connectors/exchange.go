package connectors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/shopspring/decimal"

	"tradeengine/src/model"
)

// ExchangeAdapter is the narrow surface the trade engine needs from a venue.
type ExchangeAdapter interface {
	Name() string
	GetSymbolRules(ctx context.Context, symbol string) (model.SymbolRules, error)
	GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.FillResult, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*model.FillResult, error)
	// FindOrderByClientID returns ErrOrderNotFound when the exchange has no
	// order with that client order id.
	FindOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*model.FillResult, error)
}

// APIError is a request the exchange answered with an error body or status.
type APIError struct {
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange error %d %s (HTTP %d): %s", e.Code, GetErrorMsg(e.Code), e.HTTPStatus, e.Msg)
	}
	return fmt.Sprintf("exchange HTTP %d: %s", e.HTTPStatus, e.Msg)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	if transientErrorCodes[e.Code] {
		return true
	}
	switch {
	case e.HTTPStatus >= 500:
		return true
	case e.HTTPStatus == http.StatusTooManyRequests,
		e.HTTPStatus == http.StatusRequestTimeout,
		e.HTTPStatus == http.StatusTeapot:
		return true
	}
	return false
}

// ErrOrderNotFound is returned by GetOrder for unknown order ids.
var ErrOrderNotFound = errors.New("order not found on exchange")

// ErrPlacementUnconfirmed means a placement may have reached the exchange
// but the follow-up lookup failed too. The same client order id must be
// retried.
var ErrPlacementUnconfirmed = errors.New("order placement unconfirmed")

// IsRetryableError classifies adapter errors. Transport failures and
// timeouts are retryable, exchange rejections are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPlacementUnconfirmed) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, ErrOrderNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
