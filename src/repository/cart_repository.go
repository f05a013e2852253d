package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// ErrNoActiveCart is returned by cart writes on an account without an active cart.
var ErrNoActiveCart = errors.New("active cart not found")

// CartRepository handles read/write operations for carts and their items.
type CartRepository struct {
	db *gorm.DB
}

// NewCartRepository creates a new repository instance using the main read/write database.
func NewCartRepository() *CartRepository {
	return &CartRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *CartRepository) WithDB(db *gorm.DB) *CartRepository {
	return &CartRepository{db: db}
}

// FindActive returns the active cart of accountID with its items.
// Returns (nil, nil) when there is none.
func (r *CartRepository) FindActive(ctx context.Context, accountID uint) (*model.Cart, error) {
	return findActiveCart(r.db.WithContext(ctx), accountID)
}

func findActiveCart(db *gorm.DB, accountID uint) (*model.Cart, error) {
	var cart model.Cart

	err := db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("account_id = ? AND status = ?", accountID, model.CartStatusActive).
		Order("id DESC").
		Take(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "CartRepository",
			"op":         "FindActive",
			"account_id": accountID,
		}).WithError(err).Error("Failed to fetch active cart")

		return nil, err
	}

	return &cart, nil
}

// AddItem puts item in the active cart of accountID, opening a cart when
// needed. An item for the same symbol, type and limit price is merged by
// adding the quantities.
func (r *CartRepository) AddItem(ctx context.Context, accountID uint, item *model.CartItem) (*model.Cart, error) {
	var cart *model.Cart

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		cart, err = findActiveCart(tx, accountID)
		if err != nil {
			return err
		}
		if cart == nil {
			cart = &model.Cart{AccountID: accountID, Status: model.CartStatusActive}
			if err := tx.Create(cart).Error; err != nil {
				return err
			}
		}

		for i := range cart.Items {
			existing := &cart.Items[i]
			if !existing.SamePosition(*item) {
				continue
			}
			existing.Quantity = existing.Quantity.Add(item.Quantity)
			existing.EstimatedPrice = item.EstimatedPrice
			return tx.Model(existing).
				Select("quantity", "estimated_price", "updated_at").
				Updates(existing).Error
		}

		item.CartID = cart.ID
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		cart.Items = append(cart.Items, *item)
		return tx.Model(cart).Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "CartRepository",
			"op":         "AddItem",
			"account_id": accountID,
			"symbol":     item.Symbol,
		}).WithError(err).Error("Failed to add cart item")

		return nil, err
	}

	return cart, nil
}

// RemoveSymbol deletes every item for symbol from the active cart and returns
// how many were removed.
func (r *CartRepository) RemoveSymbol(ctx context.Context, accountID uint, symbol string) (int64, error) {
	return r.deleteItems(ctx, "RemoveSymbol", accountID, func(db *gorm.DB) *gorm.DB {
		return db.Where("symbol = ?", symbol)
	})
}

// Clear empties the active cart and keeps it open.
func (r *CartRepository) Clear(ctx context.Context, accountID uint) error {
	_, err := r.deleteItems(ctx, "Clear", accountID, func(db *gorm.DB) *gorm.DB { return db })
	return err
}

func (r *CartRepository) deleteItems(ctx context.Context, op string, accountID uint, scope func(*gorm.DB) *gorm.DB) (int64, error) {
	var removed int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart model.Cart
		err := tx.
			Where("account_id = ? AND status = ?", accountID, model.CartStatusActive).
			Order("id DESC").
			Take(&cart).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoActiveCart
		}
		if err != nil {
			return err
		}

		res := scope(tx.Where("cart_id = ?", cart.ID)).Delete(&model.CartItem{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Model(&cart).Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil && !errors.Is(err, ErrNoActiveCart) {
		logger.WithFields(map[string]interface{}{
			"repo":       "CartRepository",
			"op":         op,
			"account_id": accountID,
		}).WithError(err).Error("Failed to delete cart items")
	}

	return removed, err
}

// MarkCheckedOut closes an active cart. It returns false when the cart was
// already checked out.
func (r *CartRepository) MarkCheckedOut(ctx context.Context, cartID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Cart{}).
		Where("id = ? AND status = ?", cartID, model.CartStatusActive).
		Updates(map[string]interface{}{
			"status":         model.CartStatusCheckedOut,
			"checked_out_at": at,
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "CartRepository",
			"op":      "MarkCheckedOut",
			"cart_id": cartID,
		}).WithError(res.Error).Error("Failed to check out cart")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}
