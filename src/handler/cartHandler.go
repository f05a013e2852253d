package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/auth"
	"tradeengine/src/cart"
	"tradeengine/src/controller"
	"tradeengine/src/ledger"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

type cartService interface {
	Add(ctx context.Context, accountID uint, item cart.Item) (*model.Cart, *model.CartItem, error)
	Checkout(ctx context.Context, accountID uint) (*cart.Checkout, error)
}

type cartStore interface {
	FindActive(ctx context.Context, accountID uint) (*model.Cart, error)
	RemoveSymbol(ctx context.Context, accountID uint, symbol string) (int64, error)
	Clear(ctx context.Context, accountID uint) error
}

// AddToCartPayload is the body of POST /cart/items.
type AddToCartPayload struct {
	Symbol    string           `json:"symbol"`
	OrderType string           `json:"order_type"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

type addToCartResponse struct {
	CartID     uint            `json:"cart_id"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// AddToCartHandler quotes a buy item and adds it to the active cart.
func AddToCartHandler(carts cartService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload AddToCartPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid cart payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		c, item, err := carts.Add(r.Context(), account.ID, cart.Item{
			Symbol:    payload.Symbol,
			OrderType: payload.OrderType,
			Quantity:  payload.Quantity,
			Price:     payload.Price,
		})
		if err != nil {
			var validation *controller.ValidationError
			switch {
			case errors.As(err, &validation), errors.Is(err, cart.ErrNoQuote):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				logger.WithError(err).Error("failed to add cart item")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, addToCartResponse{
			CartID:     c.ID,
			UnitPrice:  item.EstimatedPrice,
			TotalPrice: item.EstimatedPrice.Mul(item.Quantity),
		})
	}
}

// ViewCartHandler returns the active cart with its items.
func ViewCartHandler(carts cartStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		c, err := carts.FindActive(r.Context(), account.ID)
		if err != nil {
			logger.WithError(err).Error("failed to fetch cart")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if c == nil {
			http.Error(w, repository.ErrNoActiveCart.Error(), http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, c)
	}
}

// RemoveFromCartHandler drops every item of the symbol query parameter.
func RemoveFromCartHandler(carts cartStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		symbol := controller.NormalizeToUSDT(r.URL.Query().Get("symbol"))
		if symbol == "" {
			http.Error(w, "symbol is required", http.StatusBadRequest)
			return
		}

		removed, err := carts.RemoveSymbol(r.Context(), account.ID, symbol)
		switch {
		case errors.Is(err, repository.ErrNoActiveCart):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case err != nil:
			logger.WithError(err).Error("failed to remove cart item")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		case removed == 0:
			http.Error(w, "item "+symbol+" not found in cart", http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// ClearCartHandler empties the active cart.
func ClearCartHandler(carts cartStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		err := carts.Clear(r.Context(), account.ID)
		switch {
		case errors.Is(err, repository.ErrNoActiveCart):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case err != nil:
			logger.WithError(err).Error("failed to clear cart")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// CheckoutCartHandler queues every cart item as a buy task once the whole
// cart fits the credit balance.
func CheckoutCartHandler(carts cartService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		checkout, err := carts.Checkout(r.Context(), account.ID)
		if err != nil {
			var validation *controller.ValidationError
			switch {
			case errors.Is(err, cart.ErrEmptyCart),
				errors.Is(err, cart.ErrNoQuote),
				errors.Is(err, ledger.ErrInsufficientCredits),
				errors.As(err, &validation):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				logger.WithError(err).Error("failed to check out cart")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusAccepted, checkout)
	}
}
