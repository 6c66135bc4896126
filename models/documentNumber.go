package models

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ahjam-taoufik/gestion-stock-backend/config"
	"github.com/ahjam-taoufik/gestion-stock-backend/utils"
	"gorm.io/gorm"
)

// Delivery numbers are client-supplied; they are only validated, never generated.
var deliveryNumberPattern = regexp.MustCompile(`^` + DeliveryNumberPrefix + `\d{7}$`)

func IsValidDeliveryNumber(number string) bool {
	return deliveryNumberPattern.MatchString(number)
}

// DocumentNumberScope builds the month scope for generated numbers:
// prefix + 2-digit year + 2-digit month (e.g. "AV" in 2025-08 -> "AV2508").
func DocumentNumberScope(prefix string, at time.Time) string {
	return fmt.Sprintf("%s%02d%02d", prefix, at.Year()%100, int(at.Month()))
}

// documentNumberLockKey is the redis lock scope serializing number allocation
// for one prefix+month. Holders must keep it until their insert commits.
func documentNumberLockKey(scope string) string {
	return "docnum:" + scope
}

// NextSequenceInScope parses the trailing 3-digit sequence of the greatest
// existing number in a scope and returns it + 1. An empty or malformed latest
// number fails closed to sequence 1.
func NextSequenceInScope(scope string, latest string) int {
	if latest == "" || !strings.HasPrefix(latest, scope) {
		return 1
	}
	tail := latest[len(scope):]
	if len(tail) != 3 {
		return 1
	}
	seq, err := strconv.Atoi(tail)
	if err != nil {
		return 1
	}
	return seq + 1
}

// FormatDocumentNumber renders scope + zero-padded 3-digit sequence.
func FormatDocumentNumber(scope string, seq int) string {
	return fmt.Sprintf("%s%03d", scope, seq)
}

// latestNumberInScope finds the lexicographically greatest existing credit
// note number starting with scope. Returns "" when none exist.
func latestNumberInScope(tx *gorm.DB, scope string) (string, error) {
	var latest *string
	if err := tx.Model(&CreditNote{}).
		Unscoped().
		Select("MAX(number)").
		Where("number LIKE ?", scope+"%").
		Scan(&latest).Error; err != nil {
		return "", err
	}
	return utils.DereferencePtr(latest), nil
}

// numberTaken reports whether a credit note (soft-deleted included; the
// unique index does not care about deleted_at) already carries number.
func numberTaken(tx *gorm.DB, number string) (bool, error) {
	var count int64
	if err := tx.Model(&CreditNote{}).
		Unscoped().
		Where("number = ?", number).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// NextDocumentNumber computes the next free sequential document code for the
// prefix in the month of at.
//
// Concurrency: callers that persist the result MUST hold the scope lock
// (documentNumberLockKey) across their insert and commit, and retry on a
// duplicate-key conflict; releasing the lock between computing the number
// and committing would let a second caller compute the same one.
// CreateCreditNote is the reference caller.
func NextDocumentNumber(ctx context.Context, prefix string, at time.Time) (string, error) {
	scope := DocumentNumberScope(prefix, at)
	db := config.GetDB()

	latest, err := latestNumberInScope(db.WithContext(ctx), scope)
	if err != nil {
		// Fail closed: start the scope at 1 rather than guessing; the sweep
		// below walks forward to the first free number anyway.
		config.LogError(config.GetLogger(), "documentNumber.go", "NextDocumentNumber",
			"latest number lookup failed", scope, err)
		latest = ""
	}

	seq := NextSequenceInScope(scope, latest)
	number := FormatDocumentNumber(scope, seq)

	// Walk past any number already committed (another instance may have
	// inserted while we were waiting on the lock). A query failure is a
	// storage error to surface, never a taken number.
	for {
		taken, err := numberTaken(db.WithContext(ctx), number)
		if err != nil {
			return "", err
		}
		if !taken {
			break
		}
		seq++
		number = FormatDocumentNumber(scope, seq)
	}

	return number, nil
}
