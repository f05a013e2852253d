package auth

import (
	"context"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/model"
)

type contextKey string

const AccountKey contextKey = "account"

// AccountHeader identifies the calling account.
const AccountHeader = "X-Account-ID"

type accountFinder interface {
	FindByID(ctx context.Context, id uint) (*model.Account, error)
}

func GetAccountFromContext(ctx context.Context) (*model.Account, bool) {
	account, ok := ctx.Value(AccountKey).(*model.Account)
	return account, ok
}

// AccountMiddleware resolves the X-Account-ID header to an account and stores
// it in the request context.
func AccountMiddleware(accounts accountFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(AccountHeader)
			if raw == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil || id == 0 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			account, err := accounts.FindByID(r.Context(), uint(id))
			if err != nil {
				logger.WithError(err).Error("failed to resolve account")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if account == nil {
				logger.WithField("account_id", id).Warn("unknown account in request")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AccountKey, account)))
		})
	}
}
