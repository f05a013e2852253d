package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/auth"
	"tradeengine/src/ledger"
	"tradeengine/src/model"
)

type creditLedger interface {
	Balance(ctx context.Context, accountID uint) (decimal.Decimal, error)
	Deposit(ctx context.Context, accountID uint, amount decimal.Decimal, reason string) (*model.CreditLedgerEntry, error)
	History(ctx context.Context, accountID uint, limit, offset int) ([]model.CreditLedgerEntry, error)
}

type positionLister interface {
	Positions(ctx context.Context, accountID uint) ([]model.Position, error)
}

// DepositPayload is the body of POST /credits/deposit.
type DepositPayload struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty"`
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

func BalanceHandler(credits creditLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		balance, err := credits.Balance(r.Context(), account.ID)
		if err != nil {
			logger.WithError(err).Error("failed to read balance")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
	}
}

// DepositHandler credits the calling account. Amounts must be positive.
func DepositHandler(credits creditLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload DepositPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid deposit payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		entry, err := credits.Deposit(r.Context(), account.ID, payload.Amount, payload.Reason)
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidReason):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, ledger.ErrAccountNotFound):
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		case err != nil:
			logger.WithError(err).Error("failed to deposit credits")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.WithFields(map[string]interface{}{
			"account_id": account.ID,
			"amount":     payload.Amount.String(),
		}).Info("credits deposited")

		writeJSON(w, http.StatusOK, balanceResponse{Balance: entry.BalanceAfter})
	}
}

func HistoryHandler(credits creditLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		limit, offset, ok := pagination(w, r)
		if !ok {
			return
		}

		entries, err := credits.History(r.Context(), account.ID, limit, offset)
		if err != nil {
			logger.WithError(err).Error("failed to read credit history")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, entries)
	}
}

func PositionsHandler(positions positionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		list, err := positions.Positions(r.Context(), account.ID)
		if err != nil {
			logger.WithError(err).Error("failed to list positions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, list)
	}
}
