package models

import (
	"fmt"
	"time"

	"github.com/ahjam-taoufik/gestion-stock-backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ApplyDeliveryStock posts every line of a delivery note to the stock ledger.
// Called on create and on restore, inside the caller's DB transaction.
func ApplyDeliveryStock(tx *gorm.DB, delivery *Delivery) error {
	if tx == nil {
		return fmt.Errorf("tx is nil")
	}
	if delivery == nil {
		return fmt.Errorf("delivery is nil")
	}

	ctx := tx.Statement.Context
	for _, line := range delivery.Details {
		if line.ProductId <= 0 {
			continue
		}
		lock, err := utils.ScopedLock(ctx, stockLockKey(line.ProductId), "stockCommands_delivery.go", "ApplyDeliveryStock")
		if err != nil {
			tx.Rollback()
			return err
		}
		err = ApplyDeliveryQty(tx, line.ProductId, line.Quantity, delivery.DeliveryDate)
		_ = lock.Release(ctx)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return nil
}

// ReverseDeliveryStock undoes every line of a delivery.
//
// Whole-document deletion goes through this same per-line path: DeleteDelivery
// walks its lines here and then soft-deletes the header, all in one
// transaction. There is no separate bulk reversal and therefore no need to
// inspect whether the parent document "is still present" from a line handler.
func ReverseDeliveryStock(tx *gorm.DB, delivery *Delivery) error {
	if tx == nil {
		return fmt.Errorf("tx is nil")
	}
	if delivery == nil {
		return fmt.Errorf("delivery is nil")
	}

	ctx := tx.Statement.Context
	for _, line := range delivery.Details {
		if line.ProductId <= 0 {
			continue
		}
		lock, err := utils.ScopedLock(ctx, stockLockKey(line.ProductId), "stockCommands_delivery.go", "ReverseDeliveryStock")
		if err != nil {
			tx.Rollback()
			return err
		}
		err = ReverseDeliveryQty(tx, line.ProductId, line.Quantity)
		_ = lock.Release(ctx)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return nil
}

// ApplyDeliveryLineDelta replays one line's quantity change as
// reverse(old) + apply(new). Updating a line from 5 to 3 therefore lowers
// cumulative_out by 2 and raises available by 2, whatever the sibling lines.
func ApplyDeliveryLineDelta(tx *gorm.DB, productId int, oldQty, newQty decimal.Decimal, at time.Time) error {
	if productId <= 0 {
		return nil
	}
	if oldQty.Equal(newQty) {
		return nil
	}

	ctx := tx.Statement.Context
	lock, err := utils.ScopedLock(ctx, stockLockKey(productId), "stockCommands_delivery.go", "ApplyDeliveryLineDelta")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer func() { _ = lock.Release(ctx) }()

	if err := ReverseDeliveryQty(tx, productId, oldQty); err != nil {
		tx.Rollback()
		return err
	}
	if err := ApplyDeliveryQty(tx, productId, newQty, at); err != nil {
		tx.Rollback()
		return err
	}
	return nil
}

// ReverseDeliveryLine undoes a single line deleted on its own (line removed
// during an update without deleting the whole document).
func ReverseDeliveryLine(tx *gorm.DB, productId int, qty decimal.Decimal) error {
	if productId <= 0 {
		return nil
	}

	ctx := tx.Statement.Context
	lock, err := utils.ScopedLock(ctx, stockLockKey(productId), "stockCommands_delivery.go", "ReverseDeliveryLine")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer func() { _ = lock.Release(ctx) }()

	if err := ReverseDeliveryQty(tx, productId, qty); err != nil {
		tx.Rollback()
		return err
	}
	return nil
}
