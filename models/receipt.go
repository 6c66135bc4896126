package models

import (
	"context"
	"errors"
	"time"

	"github.com/ahjam-taoufik/gestion-stock-backend/config"
	"github.com/ahjam-taoufik/gestion-stock-backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Receipt (bon d'entrée) is one inbound goods transaction. Deleting it must
// reverse exactly the quantities it added.
type Receipt struct {
	ID          int             `gorm:"primary_key" json:"id"`
	ReceiptDate time.Time       `gorm:"not null" json:"receipt_date" binding:"required"`
	Reference   string          `gorm:"size:100" json:"reference"`
	Notes       string          `gorm:"type:text" json:"notes"`
	Details     []ReceiptDetail `gorm:"foreignKey:ReceiptId" json:"details"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"deleted_at"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type ReceiptDetail struct {
	ID           int             `gorm:"primary_key" json:"id"`
	ReceiptId    int             `gorm:"index;not null" json:"receipt_id"`
	ProductId    int             `gorm:"index;not null" json:"product_id"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitBuyPrice decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"unit_buy_price"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewReceipt struct {
	ReceiptDate time.Time          `json:"receipt_date" binding:"required"`
	Reference   string             `json:"reference"`
	Notes       string             `json:"notes"`
	Details     []NewReceiptDetail `json:"details" binding:"required,dive"`
}

type NewReceiptDetail struct {
	DetailId      int             `json:"detail_id"`
	ProductId     int             `json:"product_id" binding:"required"`
	Quantity      decimal.Decimal `json:"quantity" binding:"required"`
	UnitBuyPrice  decimal.Decimal `json:"unit_buy_price"`
	IsDeletedItem *bool           `json:"is_deleted_item"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewReceipt) validate(ctx context.Context, _ int) error {
	if len(input.Details) == 0 {
		return errors.New("receipt requires at least one line")
	}
	for _, detail := range input.Details {
		if detail.IsDeletedItem != nil && *detail.IsDeletedItem {
			continue
		}
		if detail.Quantity.LessThanOrEqual(decimal.Zero) {
			return errors.New("line quantity must be positive")
		}
		if err := utils.ValidateResourceId[Product](ctx, detail.ProductId); err != nil {
			return errors.New("product not found")
		}
	}
	return nil
}

func CreateReceipt(ctx context.Context, input *NewReceipt) (*Receipt, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	var details []ReceiptDetail
	for _, item := range input.Details {
		details = append(details, ReceiptDetail{
			ProductId:    item.ProductId,
			Quantity:     item.Quantity,
			UnitBuyPrice: item.UnitBuyPrice,
		})
	}

	receipt := Receipt{
		ReceiptDate: input.ReceiptDate,
		Reference:   input.Reference,
		Notes:       input.Notes,
		Details:     details,
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&receipt).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := ApplyReceiptStock(tx.WithContext(ctx), &receipt); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &receipt, nil
}

// UpdateReceipt diffs the submitted lines against the stored ones: changed
// quantities post their delta, lines flagged IsDeletedItem are reversed and
// removed, unknown DetailIds are created and applied.
func UpdateReceipt(ctx context.Context, receiptId int, input *NewReceipt) (*Receipt, error) {
	if err := input.validate(ctx, receiptId); err != nil {
		return nil, err
	}

	receipt, err := utils.FetchModel[Receipt](ctx, receiptId, "Details")
	if err != nil {
		return nil, err
	}

	existingById := make(map[int]ReceiptDetail, len(receipt.Details))
	for _, detail := range receipt.Details {
		existingById[detail.ID] = detail
	}

	db := config.GetDB()
	tx := db.Begin()

	if err := tx.WithContext(ctx).Model(receipt).Updates(map[string]interface{}{
		"ReceiptDate": input.ReceiptDate,
		"Reference":   input.Reference,
		"Notes":       input.Notes,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, item := range input.Details {
		existing, found := existingById[item.DetailId]

		if !found {
			// A deletion flag on a line we do not have is a no-op, not a
			// new line.
			if item.IsDeletedItem != nil && *item.IsDeletedItem {
				continue
			}
			// new line
			newDetail := ReceiptDetail{
				ReceiptId:    receipt.ID,
				ProductId:    item.ProductId,
				Quantity:     item.Quantity,
				UnitBuyPrice: item.UnitBuyPrice,
			}
			if err := tx.WithContext(ctx).Create(&newDetail).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
			if err := ApplyReceiptLineDelta(tx.WithContext(ctx), item.ProductId, decimal.Zero, item.Quantity, input.ReceiptDate); err != nil {
				return nil, err
			}
			continue
		}

		if item.IsDeletedItem != nil && *item.IsDeletedItem {
			if err := ApplyReceiptLineDelta(tx.WithContext(ctx), existing.ProductId, existing.Quantity, decimal.Zero, input.ReceiptDate); err != nil {
				return nil, err
			}
			if err := tx.WithContext(ctx).Delete(&ReceiptDetail{}, existing.ID).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
			continue
		}

		if existing.ProductId != item.ProductId {
			// product swapped on the line: full reversal of the old, full apply of the new
			if err := ApplyReceiptLineDelta(tx.WithContext(ctx), existing.ProductId, existing.Quantity, decimal.Zero, input.ReceiptDate); err != nil {
				return nil, err
			}
			if err := ApplyReceiptLineDelta(tx.WithContext(ctx), item.ProductId, decimal.Zero, item.Quantity, input.ReceiptDate); err != nil {
				return nil, err
			}
		} else if err := ApplyReceiptLineDelta(tx.WithContext(ctx), item.ProductId, existing.Quantity, item.Quantity, input.ReceiptDate); err != nil {
			return nil, err
		}

		if err := tx.WithContext(ctx).Model(&ReceiptDetail{ID: existing.ID}).Updates(map[string]interface{}{
			"ProductId":    item.ProductId,
			"Quantity":     item.Quantity,
			"UnitBuyPrice": item.UnitBuyPrice,
		}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return utils.FetchModel[Receipt](ctx, receiptId, "Details")
}

// DeleteReceipt reverses every line and soft-deletes the header. The lines
// stay attached so a restore can re-apply them.
func DeleteReceipt(ctx context.Context, receiptId int) (*Receipt, error) {
	receipt, err := utils.FetchModel[Receipt](ctx, receiptId, "Details")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := ReverseReceiptStock(tx.WithContext(ctx), receipt); err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(receipt).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return receipt, nil
}

func RestoreReceipt(ctx context.Context, receiptId int) (*Receipt, error) {
	receipt, err := utils.FetchModelUnscoped[Receipt](ctx, receiptId, "Details")
	if err != nil {
		return nil, err
	}
	if !receipt.DeletedAt.Valid {
		return nil, errors.New("receipt is not deleted")
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Unscoped().Model(receipt).Update("DeletedAt", nil).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := ApplyReceiptStock(tx.WithContext(ctx), receipt); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return receipt, nil
}

// DestroyReceipt permanently purges the document and its lines. A live
// document is reversed first; a soft-deleted one was reversed at delete time,
// so its ledger effect is already gone.
func DestroyReceipt(ctx context.Context, receiptId int) (*Receipt, error) {
	receipt, err := utils.FetchModelUnscoped[Receipt](ctx, receiptId, "Details")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	if !receipt.DeletedAt.Valid {
		if err := ReverseReceiptStock(tx.WithContext(ctx), receipt); err != nil {
			return nil, err
		}
	}
	if err := tx.WithContext(ctx).Where("receipt_id = ?", receipt.ID).Delete(&ReceiptDetail{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Unscoped().Delete(receipt).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return receipt, nil
}

func GetReceipt(ctx context.Context, id int) (*Receipt, error) {
	return utils.FetchModel[Receipt](ctx, id, "Details")
}

func GetReceipts(ctx context.Context) ([]*Receipt, error) {
	return utils.FetchAllModels[Receipt](ctx, "Details")
}
