package models

import (
	"fmt"

	"github.com/ahjam-taoufik/gestion-stock-backend/utils"
	"gorm.io/gorm"
)

// ApplyCreditNoteStock posts every line of a VALIDATED credit note to the
// stock ledger (available only; cumulative_in is untouched by design).
// Called when the note transitions Pending -> Validated, and again on restore
// of a deleted note whose status is Validated.
//
// A pending note never reaches the ledger; callers gate on status.
func ApplyCreditNoteStock(tx *gorm.DB, note *CreditNote) error {
	if tx == nil {
		return fmt.Errorf("tx is nil")
	}
	if note == nil {
		return fmt.Errorf("credit note is nil")
	}
	if note.Status != CreditNoteStatusValidated {
		return nil
	}

	ctx := tx.Statement.Context
	for _, line := range note.Details {
		if line.ProductId <= 0 {
			continue
		}
		lock, err := utils.ScopedLock(ctx, stockLockKey(line.ProductId), "stockCommands_creditNote.go", "ApplyCreditNoteStock")
		if err != nil {
			tx.Rollback()
			return err
		}
		err = ApplyCreditNoteQty(tx, line.ProductId, line.QuantityReturned)
		_ = lock.Release(ctx)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return nil
}

// ReverseCreditNoteStock undoes the ledger effect of a validated credit note.
// Called on delete/purge of a live note iff its status was Validated at that
// moment; deleting a pending note has zero ledger effect.
func ReverseCreditNoteStock(tx *gorm.DB, note *CreditNote) error {
	if tx == nil {
		return fmt.Errorf("tx is nil")
	}
	if note == nil {
		return fmt.Errorf("credit note is nil")
	}
	if note.Status != CreditNoteStatusValidated {
		return nil
	}

	ctx := tx.Statement.Context
	for _, line := range note.Details {
		if line.ProductId <= 0 {
			continue
		}
		lock, err := utils.ScopedLock(ctx, stockLockKey(line.ProductId), "stockCommands_creditNote.go", "ReverseCreditNoteStock")
		if err != nil {
			tx.Rollback()
			return err
		}
		err = ReverseCreditNoteQty(tx, line.ProductId, line.QuantityReturned)
		_ = lock.Release(ctx)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return nil
}
