package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahjam-taoufik/gestion-stock-backend/config"
	"github.com/ahjam-taoufik/gestion-stock-backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreditNote (avoir) records goods coming back from a client. It is created
// Pending and only touches the stock ledger once validated; validation is a
// one-way transition.
type CreditNote struct {
	ID                  int                `gorm:"primary_key" json:"id"`
	Number              string             `gorm:"column:number;size:20;uniqueIndex;not null" json:"number"`
	CreditNoteDate      time.Time          `gorm:"not null" json:"credit_note_date"`
	ClientId            int                `gorm:"index;not null" json:"client_id"`
	Client              *Client            `json:"client,omitempty"`
	Status              CreditNoteStatus   `gorm:"size:20;default:'Pending'" json:"status"`
	FinancialAdjustment decimal.Decimal    `gorm:"type:decimal(20,2);default:0" json:"financial_adjustment"`
	ValidatedAt         *time.Time         `json:"validated_at"`
	ValidationComment   string             `gorm:"type:text" json:"validation_comment"`
	Notes               string             `gorm:"type:text" json:"notes"`
	Details             []CreditNoteDetail `gorm:"foreignKey:CreditNoteId" json:"details"`
	DeletedAt           gorm.DeletedAt     `gorm:"index" json:"deleted_at"`
	CreatedAt           time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type CreditNoteDetail struct {
	ID                int             `gorm:"primary_key" json:"id"`
	CreditNoteId      int             `gorm:"index;not null" json:"credit_note_id"`
	ProductId         int             `gorm:"index;not null" json:"product_id"`
	QuantityReturned  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity_returned"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"unit_price"`
	OriginalUnitPrice decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"original_unit_price"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCreditNote struct {
	CreditNoteDate      time.Time             `json:"credit_note_date" binding:"required"`
	ClientId            int                   `json:"client_id" binding:"required"`
	FinancialAdjustment decimal.Decimal       `json:"financial_adjustment"`
	Notes               string                `json:"notes"`
	Details             []NewCreditNoteDetail `json:"details" binding:"required,dive"`
}

type NewCreditNoteDetail struct {
	ProductId         int             `json:"product_id" binding:"required"`
	QuantityReturned  decimal.Decimal `json:"quantity_returned" binding:"required"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	OriginalUnitPrice decimal.Decimal `json:"original_unit_price"`
}

func (input *NewCreditNote) validate(ctx context.Context, _ int) error {
	if err := utils.ValidateResourceId[Client](ctx, input.ClientId); err != nil {
		return errors.New("client not found")
	}
	if len(input.Details) == 0 {
		return errors.New("credit note requires at least one line")
	}
	for _, detail := range input.Details {
		if detail.QuantityReturned.LessThanOrEqual(decimal.Zero) {
			return errors.New("returned quantity must be positive")
		}
		if err := utils.ValidateResourceId[Product](ctx, detail.ProductId); err != nil {
			return errors.New("product not found")
		}
	}
	return nil
}

func buildCreditNoteDetails(input *NewCreditNote) []CreditNoteDetail {
	var details []CreditNoteDetail
	for _, item := range input.Details {
		details = append(details, CreditNoteDetail{
			ProductId:         item.ProductId,
			QuantityReturned:  item.QuantityReturned,
			UnitPrice:         item.UnitPrice,
			OriginalUnitPrice: item.OriginalUnitPrice,
		})
	}
	return details
}

const maxNumberAttempts = 5

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// MySQL error 1062 without gorm's error translation enabled.
	return strings.Contains(err.Error(), "Duplicate entry")
}

// CreateCreditNote allocates the AV number and persists the note as Pending.
// No ledger effect yet.
//
// The per-scope lock is held until the insert commits; releasing it after
// computing the number would let a concurrent caller compute the same one
// before this row is visible. Another instance bypassing the lock still
// cannot duplicate: the unique index rejects the insert and the number is
// recomputed.
func CreateCreditNote(ctx context.Context, input *NewCreditNote) (*CreditNote, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	now := time.Now()
	scope := DocumentNumberScope(CreditNoteNumberPrefix, now)
	lock, err := utils.ScopedLock(ctx, documentNumberLockKey(scope), "creditNote.go", "CreateCreditNote")
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release(ctx) }()

	db := config.GetDB()
	var lastErr error
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		number, err := NextDocumentNumber(ctx, CreditNoteNumberPrefix, now)
		if err != nil {
			return nil, err
		}

		note := CreditNote{
			Number:              number,
			CreditNoteDate:      input.CreditNoteDate,
			ClientId:            input.ClientId,
			Status:              CreditNoteStatusPending,
			FinancialAdjustment: input.FinancialAdjustment,
			Notes:               input.Notes,
			Details:             buildCreditNoteDetails(input),
		}

		tx := db.Begin()
		if err := tx.WithContext(ctx).Create(&note).Error; err != nil {
			tx.Rollback()
			if isDuplicateKeyError(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, err
		}
		return &note, nil
	}
	return nil, fmt.Errorf("could not allocate a credit note number in scope %s: %w", scope, lastErr)
}

// UpdateCreditNote replaces the lines wholesale. When the note is already
// validated its ledger postings are NOT replayed for the new lines; with
// strict immutability enabled the edit is refused outright instead.
func UpdateCreditNote(ctx context.Context, noteId int, input *NewCreditNote) (*CreditNote, error) {
	if err := input.validate(ctx, noteId); err != nil {
		return nil, err
	}

	note, err := utils.FetchModel[CreditNote](ctx, noteId, "Details")
	if err != nil {
		return nil, err
	}
	if note.Status == CreditNoteStatusValidated && config.StrictDocImmutability() {
		return nil, utils.ErrorAlreadyValidated
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Model(note).Updates(map[string]interface{}{
		"CreditNoteDate":      input.CreditNoteDate,
		"ClientId":            input.ClientId,
		"FinancialAdjustment": input.FinancialAdjustment,
		"Notes":               input.Notes,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Where("credit_note_id = ?", note.ID).Delete(&CreditNoteDetail{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	details := buildCreditNoteDetails(input)
	for i := range details {
		details[i].CreditNoteId = note.ID
	}
	if err := tx.WithContext(ctx).Create(&details).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return utils.FetchModel[CreditNote](ctx, noteId, "Details")
}

// ValidateCreditNote transitions Pending -> Validated and posts every line to
// the stock ledger (available only). Validating twice is an error, which is
// what keeps the posting exactly-once.
func ValidateCreditNote(ctx context.Context, noteId int, comment string) (*CreditNote, error) {
	note, err := utils.FetchModel[CreditNote](ctx, noteId, "Details")
	if err != nil {
		return nil, err
	}
	if note.Status == CreditNoteStatusValidated {
		return nil, utils.ErrorAlreadyValidated
	}

	now := time.Now()
	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Model(note).Updates(map[string]interface{}{
		"Status":            CreditNoteStatusValidated,
		"ValidatedAt":       now,
		"ValidationComment": comment,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	note.Status = CreditNoteStatusValidated
	note.ValidatedAt = &now
	note.ValidationComment = comment
	if err := ApplyCreditNoteStock(tx.WithContext(ctx), note); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return note, nil
}

// DeleteCreditNote soft-deletes the note. A validated note is reversed first;
// a pending note never reached the ledger, so there is nothing to undo.
func DeleteCreditNote(ctx context.Context, noteId int) (*CreditNote, error) {
	note, err := utils.FetchModel[CreditNote](ctx, noteId, "Details")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := ReverseCreditNoteStock(tx.WithContext(ctx), note); err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(note).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return note, nil
}

func RestoreCreditNote(ctx context.Context, noteId int) (*CreditNote, error) {
	note, err := utils.FetchModelUnscoped[CreditNote](ctx, noteId, "Details")
	if err != nil {
		return nil, err
	}
	if !note.DeletedAt.Valid {
		return nil, errors.New("credit note is not deleted")
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Unscoped().Model(note).Update("DeletedAt", nil).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := ApplyCreditNoteStock(tx.WithContext(ctx), note); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return note, nil
}

// DestroyCreditNote permanently purges the note and its lines. Reversal runs
// only when the note is both live and validated; anything else has no ledger
// footprint at this point.
func DestroyCreditNote(ctx context.Context, noteId int) (*CreditNote, error) {
	note, err := utils.FetchModelUnscoped[CreditNote](ctx, noteId, "Details")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	if !note.DeletedAt.Valid {
		if err := ReverseCreditNoteStock(tx.WithContext(ctx), note); err != nil {
			return nil, err
		}
	}
	if err := tx.WithContext(ctx).Where("credit_note_id = ?", note.ID).Delete(&CreditNoteDetail{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Unscoped().Delete(note).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return note, nil
}

func GetCreditNote(ctx context.Context, id int) (*CreditNote, error) {
	return utils.FetchModel[CreditNote](ctx, id, "Details", "Client")
}

func GetCreditNotes(ctx context.Context) ([]*CreditNote, error) {
	return utils.FetchAllModels[CreditNote](ctx, "Details", "Client")
}
