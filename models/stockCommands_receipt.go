package models

import (
	"fmt"
	"time"

	"github.com/ahjam-taoufik/gestion-stock-backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ApplyReceiptStock posts every line of a receipt to the stock ledger.
// Called on create and on restore, inside the caller's DB transaction.
//
// This is the explicit, command-style replacement for implicit ORM
// lifecycle-hook side-effects: document write paths call it directly, so
// there is exactly one code path from a receipt event to the ledger.
func ApplyReceiptStock(tx *gorm.DB, receipt *Receipt) error {
	if tx == nil {
		return fmt.Errorf("tx is nil")
	}
	if receipt == nil {
		return fmt.Errorf("receipt is nil")
	}

	ctx := tx.Statement.Context
	for _, line := range receipt.Details {
		if line.ProductId <= 0 {
			continue
		}
		lock, err := utils.ScopedLock(ctx, stockLockKey(line.ProductId), "stockCommands_receipt.go", "ApplyReceiptStock")
		if err != nil {
			tx.Rollback()
			return err
		}
		err = ApplyReceiptQty(tx, line.ProductId, line.Quantity, receipt.ReceiptDate)
		_ = lock.Release(ctx)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return nil
}

// ReverseReceiptStock undoes every line of a receipt. Called on delete and on
// permanent purge of a live document; a soft-deleted receipt was already
// reversed, so purge of one must not call this again.
func ReverseReceiptStock(tx *gorm.DB, receipt *Receipt) error {
	if tx == nil {
		return fmt.Errorf("tx is nil")
	}
	if receipt == nil {
		return fmt.Errorf("receipt is nil")
	}

	ctx := tx.Statement.Context
	for _, line := range receipt.Details {
		if line.ProductId <= 0 {
			continue
		}
		lock, err := utils.ScopedLock(ctx, stockLockKey(line.ProductId), "stockCommands_receipt.go", "ReverseReceiptStock")
		if err != nil {
			tx.Rollback()
			return err
		}
		err = ReverseReceiptQty(tx, line.ProductId, line.Quantity)
		_ = lock.Release(ctx)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return nil
}

// ApplyReceiptLineDelta replays one line's quantity change as
// reverse(old) + apply(new), keeping the single mutate path.
func ApplyReceiptLineDelta(tx *gorm.DB, productId int, oldQty, newQty decimal.Decimal, at time.Time) error {
	if productId <= 0 {
		return nil
	}
	if oldQty.Equal(newQty) {
		return nil
	}

	ctx := tx.Statement.Context
	lock, err := utils.ScopedLock(ctx, stockLockKey(productId), "stockCommands_receipt.go", "ApplyReceiptLineDelta")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer func() { _ = lock.Release(ctx) }()

	if err := ReverseReceiptQty(tx, productId, oldQty); err != nil {
		tx.Rollback()
		return err
	}
	if err := ApplyReceiptQty(tx, productId, newQty, at); err != nil {
		tx.Rollback()
		return err
	}
	return nil
}
