package models

import (
	"context"
	"errors"
	"time"

	"github.com/ahjam-taoufik/gestion-stock-backend/config"
	"github.com/ahjam-taoufik/gestion-stock-backend/utils"
	"github.com/shopspring/decimal"
)

// Product is catalog reference data: identity, pricing and unit weight.
// The stock ledger treats it as read-only.
type Product struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Name          string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Reference     string          `gorm:"size:100;uniqueIndex" json:"reference"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	UnitWeight    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_weight"`
	UnitBuyPrice  decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"unit_buy_price"`
	UnitSellPrice decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"unit_sell_price"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name          string          `json:"name" binding:"required"`
	Reference     string          `json:"reference"`
	UnitWeight    decimal.Decimal `json:"unit_weight"`
	UnitBuyPrice  decimal.Decimal `json:"unit_buy_price"`
	UnitSellPrice decimal.Decimal `json:"unit_sell_price"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewProduct) validate(ctx context.Context, id int) error {
	if input.Reference != "" {
		if err := utils.ValidateUnique[Product](ctx, "reference", input.Reference, id); err != nil {
			return err
		}
	}
	if input.UnitWeight.IsNegative() || input.UnitBuyPrice.IsNegative() || input.UnitSellPrice.IsNegative() {
		return errors.New("weight and prices cannot be negative")
	}
	return nil
}

// CreateProduct stores the product and eagerly creates its zero-counter
// ledger row so list/report queries never have to special-case a missing row.
func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	product := Product{
		Name:          input.Name,
		Reference:     input.Reference,
		IsActive:      utils.NewTrue(),
		UnitWeight:    input.UnitWeight,
		UnitBuyPrice:  input.UnitBuyPrice,
		UnitSellPrice: input.UnitSellPrice,
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, _, err := FirstOrCreateStockLedgerEntry(tx.WithContext(ctx), product.ID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(product).Updates(map[string]interface{}{
		"Name":          input.Name,
		"Reference":     input.Reference,
		"UnitWeight":    input.UnitWeight,
		"UnitBuyPrice":  input.UnitBuyPrice,
		"UnitSellPrice": input.UnitSellPrice,
	}).Error; err != nil {
		return nil, err
	}
	return product, nil
}

// DeactivateProduct flags the product inactive and zeroes `available` going
// forward. Historical counters stay untouched and the ledger row is kept.
func DeactivateProduct(ctx context.Context, id int) (*Product, error) {
	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Model(product).Update("IsActive", false).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Exec(
		"UPDATE stock_ledger_entries SET available = 0 WHERE product_id = ?", id,
	).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	product.IsActive = utils.NewFalse()
	return product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, id)
}

func GetProducts(ctx context.Context) ([]*Product, error) {
	return utils.FetchAllModels[Product](ctx)
}
