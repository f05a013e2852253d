package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/model"
	"tradeengine/src/quantity"
	"tradeengine/src/repository"
)

// PositionChange is the result of one portfolio mutation. Position holds the
// exact in-memory values, which may carry more precision than the column.
type PositionChange struct {
	Outcome  string
	Position model.Position
}

// Increase adds qty bought at price to the position of accountID in symbol
// and recomputes the weighted average cost. tx must be an open transaction;
// the position row stays locked until it ends.
func Increase(ctx context.Context, tx *gorm.DB, accountID uint, symbol string, qty, price decimal.Decimal) (*PositionChange, error) {
	if !qty.IsPositive() || !price.IsPositive() {
		return nil, fmt.Errorf("%w: qty %s price %s", ErrInvalidAmount, qty, price)
	}

	positions := repository.NewPositionRepository().WithDB(tx)

	current, err := positions.FindForUpdate(ctx, accountID, symbol)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}

	if current == nil {
		created := &model.Position{
			AccountID: accountID,
			Symbol:    symbol,
			Quantity:  qty,
			AvgCost:   price,
		}
		if err := positions.Create(ctx, created); err != nil {
			return nil, fmt.Errorf("create position: %w", err)
		}
		logPositionChange(accountID, symbol, model.PositionOutcomeCreated, created)
		return &PositionChange{Outcome: model.PositionOutcomeCreated, Position: *created}, nil
	}

	current.AvgCost = WeightedAverage(current.Quantity, current.AvgCost, qty, price)
	current.Quantity = current.Quantity.Add(qty)

	if err := positions.Save(ctx, current); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}
	logPositionChange(accountID, symbol, model.PositionOutcomeUpdated, current)

	return &PositionChange{Outcome: model.PositionOutcomeUpdated, Position: *current}, nil
}

// Decrease removes qty from the position of accountID in symbol. The average
// cost is unchanged; the position is deleted when nothing is left.
func Decrease(ctx context.Context, tx *gorm.DB, accountID uint, symbol string, qty decimal.Decimal) (*PositionChange, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: qty %s", ErrInvalidAmount, qty)
	}

	positions := repository.NewPositionRepository().WithDB(tx)

	current, err := positions.FindForUpdate(ctx, accountID, symbol)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: account %d %s", ErrNoHoldings, accountID, symbol)
	}
	if qty.GreaterThan(current.Quantity) {
		return nil, fmt.Errorf("%w: holding %s %s, selling %s", ErrInsufficientHoldings, current.Quantity, symbol, qty)
	}

	current.Quantity = quantity.Truncate(current.Quantity.Sub(qty), quantity.LedgerPlaces)

	if !current.Quantity.IsPositive() {
		if err := positions.Delete(ctx, current); err != nil {
			return nil, fmt.Errorf("delete position: %w", err)
		}
		current.Quantity = decimal.Zero
		logPositionChange(accountID, symbol, model.PositionOutcomeDeleted, current)
		return &PositionChange{Outcome: model.PositionOutcomeDeleted, Position: *current}, nil
	}

	if err := positions.Save(ctx, current); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}
	logPositionChange(accountID, symbol, model.PositionOutcomeUpdated, current)

	return &PositionChange{Outcome: model.PositionOutcomeUpdated, Position: *current}, nil
}

// WeightedAverage is the average cost after adding qty at price to a holding
// of heldQty at heldAvg.
func WeightedAverage(heldQty, heldAvg, qty, price decimal.Decimal) decimal.Decimal {
	total := heldQty.Add(qty)
	if total.IsZero() {
		return decimal.Zero
	}
	return heldQty.Mul(heldAvg).Add(qty.Mul(price)).Div(total)
}

func logPositionChange(accountID uint, symbol, outcome string, p *model.Position) {
	logger.WithFields(map[string]interface{}{
		"component":  "portfolio",
		"account_id": accountID,
		"symbol":     symbol,
		"outcome":    outcome,
		"quantity":   p.Quantity.String(),
		"avg_cost":   p.AvgCost.String(),
	}).Debug("Position changed")
}
