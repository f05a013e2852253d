package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/ledger"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

// Accounts is the operator tool for creating simulated accounts.
type Accounts struct {
	Log *logger.Entry
	DB  *gorm.DB
}

// Create adds an account and records its opening credits as a Deposit.
func (a *Accounts) Create(ctx context.Context, name string, credits decimal.Decimal) (*model.Account, error) {
	if name == "" {
		return nil, errors.New("account name is required")
	}
	if credits.IsNegative() {
		return nil, fmt.Errorf("opening credits must not be negative: %s", credits)
	}

	account := &model.Account{Name: name}
	if err := repository.NewAccountRepository().WithDB(a.DB).Create(ctx, account); err != nil {
		return nil, err
	}

	if credits.IsPositive() {
		entry, err := ledger.New(a.DB, ledger.GetConfig(), a.Log).Deposit(ctx, account.ID, credits, model.CreditReasonDeposit)
		if err != nil {
			return account, fmt.Errorf("opening deposit: %w", err)
		}
		account.Credits = entry.BalanceAfter
	}

	a.Log.WithFields(map[string]interface{}{
		"account_id": account.ID,
		"name":       account.Name,
		"credits":    account.Credits.String(),
	}).Info("Account ready")

	return account, nil
}
