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

// Delivery (bon de livraison) is one outbound goods transaction. Its number
// is supplied by the caller in the BL + 7 digits format; the server validates
// it but never generates it. All derived amount/weight columns are owned by
// the totals calculator.
type Delivery struct {
	ID                  int              `gorm:"primary_key" json:"id"`
	Number              string           `gorm:"size:20;uniqueIndex;not null" json:"number" binding:"required"`
	DeliveryDate        time.Time        `gorm:"not null" json:"delivery_date" binding:"required"`
	ClientId            int              `gorm:"index;not null" json:"client_id" binding:"required"`
	Client              *Client          `json:"client,omitempty"`
	CashDiscountPercent decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"cash_discount_percent"`
	SpecialDiscount     decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"special_discount"`
	QuarterlyDiscount   decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"quarterly_discount"`
	ValueAdjustment     decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"value_adjustment"`
	ReturnAdjustment    decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"return_adjustment"`
	Total               decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"total"`
	TotalWeight         decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"total_weight"`
	CashDiscountAmount  decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"cash_discount_amount"`
	FinalAmount         decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"final_amount"`
	DocumentTotal       decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"document_total"`
	Notes               string           `gorm:"type:text" json:"notes"`
	Details             []DeliveryDetail `gorm:"foreignKey:DeliveryId" json:"details"`
	DeletedAt           gorm.DeletedAt   `gorm:"index" json:"deleted_at"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type DeliveryDetail struct {
	ID         int             `gorm:"primary_key" json:"id"`
	DeliveryId int             `gorm:"index;not null" json:"delivery_id"`
	ProductId  int             `gorm:"index;not null" json:"product_id"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"unit_price"`
	LineTotal  decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"line_total"`
	LineWeight decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_weight"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDelivery struct {
	Number              string              `json:"number" binding:"required,delivery_number"`
	DeliveryDate        time.Time           `json:"delivery_date" binding:"required"`
	ClientId            int                 `json:"client_id" binding:"required"`
	CashDiscountPercent decimal.Decimal     `json:"cash_discount_percent"`
	SpecialDiscount     decimal.Decimal     `json:"special_discount"`
	QuarterlyDiscount   decimal.Decimal     `json:"quarterly_discount"`
	ValueAdjustment     decimal.Decimal     `json:"value_adjustment"`
	ReturnAdjustment    decimal.Decimal     `json:"return_adjustment"`
	Notes               string              `json:"notes"`
	Details             []NewDeliveryDetail `json:"details" binding:"required,dive"`
}

type NewDeliveryDetail struct {
	DetailId      int             `json:"detail_id"`
	ProductId     int             `json:"product_id" binding:"required"`
	Quantity      decimal.Decimal `json:"quantity" binding:"required"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	IsDeletedItem *bool           `json:"is_deleted_item"`
}

func (input *NewDelivery) validate(ctx context.Context, id int) error {
	if !IsValidDeliveryNumber(input.Number) {
		return errors.New("delivery number must match BL followed by 7 digits")
	}
	if err := utils.ValidateUnique[Delivery](ctx, "number", input.Number, id); err != nil {
		return errors.New("delivery number already in use")
	}
	if err := utils.ValidateResourceId[Client](ctx, input.ClientId); err != nil {
		return errors.New("client not found")
	}
	if len(input.Details) == 0 {
		return errors.New("delivery requires at least one line")
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

// buildDeliveryDetail computes the line's derived columns. Unit weight comes
// from the product catalog at write time; a line keeps the weight it was
// written with even if the product's weight changes later.
func buildDeliveryDetail(ctx context.Context, item NewDeliveryDetail) (DeliveryDetail, error) {
	product, err := utils.FetchModel[Product](ctx, item.ProductId)
	if err != nil {
		return DeliveryDetail{}, err
	}
	return DeliveryDetail{
		ProductId:  item.ProductId,
		Quantity:   item.Quantity,
		UnitPrice:  item.UnitPrice,
		LineTotal:  CalculateLineTotal(item.Quantity, item.UnitPrice),
		LineWeight: CalculateLineWeight(item.Quantity, product.UnitWeight),
	}, nil
}

func CreateDelivery(ctx context.Context, input *NewDelivery) (*Delivery, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	var details []DeliveryDetail
	for _, item := range input.Details {
		detail, err := buildDeliveryDetail(ctx, item)
		if err != nil {
			return nil, err
		}
		details = append(details, detail)
	}

	delivery := Delivery{
		Number:              input.Number,
		DeliveryDate:        input.DeliveryDate,
		ClientId:            input.ClientId,
		CashDiscountPercent: input.CashDiscountPercent,
		SpecialDiscount:     input.SpecialDiscount,
		QuarterlyDiscount:   input.QuarterlyDiscount,
		ValueAdjustment:     input.ValueAdjustment,
		ReturnAdjustment:    input.ReturnAdjustment,
		Notes:               input.Notes,
		Details:             details,
	}
	delivery.applyTotals(CalculateDeliveryTotals(&delivery, details))

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&delivery).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := ApplyDeliveryStock(tx.WithContext(ctx), &delivery); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &delivery, nil
}

// UpdateDelivery diffs lines the same way receipts do, posting per-line
// quantity deltas to the ledger, then recomputes every derived total from the
// surviving lines. All of it in one transaction.
func UpdateDelivery(ctx context.Context, deliveryId int, input *NewDelivery) (*Delivery, error) {
	if err := input.validate(ctx, deliveryId); err != nil {
		return nil, err
	}

	delivery, err := utils.FetchModel[Delivery](ctx, deliveryId, "Details")
	if err != nil {
		return nil, err
	}

	existingById := make(map[int]DeliveryDetail, len(delivery.Details))
	for _, detail := range delivery.Details {
		existingById[detail.ID] = detail
	}

	db := config.GetDB()
	tx := db.Begin()

	var survivingLines []DeliveryDetail
	touched := make(map[int]bool, len(input.Details))
	for _, item := range input.Details {
		existing, found := existingById[item.DetailId]
		if found {
			touched[item.DetailId] = true
		}

		if !found {
			// A deletion flag on a line we do not have is a no-op, not a
			// new line.
			if item.IsDeletedItem != nil && *item.IsDeletedItem {
				continue
			}
			newDetail, err := buildDeliveryDetail(ctx, item)
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			newDetail.DeliveryId = delivery.ID
			if err := tx.WithContext(ctx).Create(&newDetail).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
			if err := ApplyDeliveryLineDelta(tx.WithContext(ctx), item.ProductId, decimal.Zero, item.Quantity, input.DeliveryDate); err != nil {
				return nil, err
			}
			survivingLines = append(survivingLines, newDetail)
			continue
		}

		if item.IsDeletedItem != nil && *item.IsDeletedItem {
			if err := ReverseDeliveryLine(tx.WithContext(ctx), existing.ProductId, existing.Quantity); err != nil {
				return nil, err
			}
			if err := tx.WithContext(ctx).Delete(&DeliveryDetail{}, existing.ID).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
			continue
		}

		if existing.ProductId != item.ProductId {
			if err := ReverseDeliveryLine(tx.WithContext(ctx), existing.ProductId, existing.Quantity); err != nil {
				return nil, err
			}
			if err := ApplyDeliveryLineDelta(tx.WithContext(ctx), item.ProductId, decimal.Zero, item.Quantity, input.DeliveryDate); err != nil {
				return nil, err
			}
		} else if err := ApplyDeliveryLineDelta(tx.WithContext(ctx), item.ProductId, existing.Quantity, item.Quantity, input.DeliveryDate); err != nil {
			return nil, err
		}

		updated, err := buildDeliveryDetail(ctx, item)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.WithContext(ctx).Model(&DeliveryDetail{ID: existing.ID}).Updates(map[string]interface{}{
			"ProductId":  updated.ProductId,
			"Quantity":   updated.Quantity,
			"UnitPrice":  updated.UnitPrice,
			"LineTotal":  updated.LineTotal,
			"LineWeight": updated.LineWeight,
		}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		survivingLines = append(survivingLines, updated)
	}

	// Stored lines absent from the payload survive as-is and keep their
	// ledger effect; the totals must keep counting them too.
	for _, detail := range delivery.Details {
		if !touched[detail.ID] {
			survivingLines = append(survivingLines, detail)
		}
	}

	delivery.Number = input.Number
	delivery.DeliveryDate = input.DeliveryDate
	delivery.ClientId = input.ClientId
	delivery.CashDiscountPercent = input.CashDiscountPercent
	delivery.SpecialDiscount = input.SpecialDiscount
	delivery.QuarterlyDiscount = input.QuarterlyDiscount
	delivery.ValueAdjustment = input.ValueAdjustment
	delivery.ReturnAdjustment = input.ReturnAdjustment
	delivery.Notes = input.Notes
	delivery.applyTotals(CalculateDeliveryTotals(delivery, survivingLines))

	if err := tx.WithContext(ctx).Model(delivery).Updates(map[string]interface{}{
		"Number":              delivery.Number,
		"DeliveryDate":        delivery.DeliveryDate,
		"ClientId":            delivery.ClientId,
		"CashDiscountPercent": delivery.CashDiscountPercent,
		"SpecialDiscount":     delivery.SpecialDiscount,
		"QuarterlyDiscount":   delivery.QuarterlyDiscount,
		"ValueAdjustment":     delivery.ValueAdjustment,
		"ReturnAdjustment":    delivery.ReturnAdjustment,
		"Notes":               delivery.Notes,
		"Total":               delivery.Total,
		"TotalWeight":         delivery.TotalWeight,
		"CashDiscountAmount":  delivery.CashDiscountAmount,
		"FinalAmount":         delivery.FinalAmount,
		"DocumentTotal":       delivery.DocumentTotal,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return utils.FetchModel[Delivery](ctx, deliveryId, "Details")
}

// DeleteDelivery reverses every line through the single per-line path and
// soft-deletes the header. Lines stay attached so a restore can re-apply them.
func DeleteDelivery(ctx context.Context, deliveryId int) (*Delivery, error) {
	delivery, err := utils.FetchModel[Delivery](ctx, deliveryId, "Details")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := ReverseDeliveryStock(tx.WithContext(ctx), delivery); err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(delivery).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return delivery, nil
}

func RestoreDelivery(ctx context.Context, deliveryId int) (*Delivery, error) {
	delivery, err := utils.FetchModelUnscoped[Delivery](ctx, deliveryId, "Details")
	if err != nil {
		return nil, err
	}
	if !delivery.DeletedAt.Valid {
		return nil, errors.New("delivery is not deleted")
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Unscoped().Model(delivery).Update("DeletedAt", nil).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := ApplyDeliveryStock(tx.WithContext(ctx), delivery); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return delivery, nil
}

// DestroyDelivery permanently purges the document and its lines. Only a live
// document still has a ledger effect to reverse.
func DestroyDelivery(ctx context.Context, deliveryId int) (*Delivery, error) {
	delivery, err := utils.FetchModelUnscoped[Delivery](ctx, deliveryId, "Details")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	if !delivery.DeletedAt.Valid {
		if err := ReverseDeliveryStock(tx.WithContext(ctx), delivery); err != nil {
			return nil, err
		}
	}
	if err := tx.WithContext(ctx).Where("delivery_id = ?", delivery.ID).Delete(&DeliveryDetail{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Unscoped().Delete(delivery).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return delivery, nil
}

func GetDelivery(ctx context.Context, id int) (*Delivery, error) {
	return utils.FetchModel[Delivery](ctx, id, "Details", "Client")
}

func GetDeliveries(ctx context.Context) ([]*Delivery, error) {
	return utils.FetchAllModels[Delivery](ctx, "Details", "Client")
}
