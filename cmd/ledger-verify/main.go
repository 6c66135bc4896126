package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ahjam-taoufik/gestion-stock-backend/config"
	"github.com/ahjam-taoufik/gestion-stock-backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Reports every product whose available diverges from
// cumulative_in - cumulative_out, split into drift explained by validated
// credit notes (expected) and unexplained drift (a real anomaly).
func main() {
	productID := flag.Int("product-id", 0, "Verify only this product (0 = all products)")
	strict := flag.Bool("strict", false, "Exit non-zero when unexplained drift is found")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	var entries []models.StockLedgerEntry
	query := db.Model(&models.StockLedgerEntry{})
	if *productID > 0 {
		query = query.Where("product_id = ?", *productID)
	}
	if err := query.Find(&entries).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list stock ledger entries: %v\n", err)
		os.Exit(1)
	}

	anomalies := 0
	for _, entry := range entries {
		expected := entry.CumulativeIn.Sub(entry.CumulativeOut)
		drift := entry.Available.Sub(expected)
		if drift.IsZero() {
			continue
		}

		offset, err := validatedCreditNoteOffset(db, entry.ProductId)
		if err != nil {
			fmt.Fprintf(os.Stderr, "product %d: failed to sum credit note lines: %v\n", entry.ProductId, err)
			os.Exit(1)
		}
		if drift.Equal(offset) {
			fmt.Printf("product %d: drift %s fully explained by validated credit notes\n",
				entry.ProductId, drift.String())
			continue
		}
		anomalies++
		fmt.Printf("product %d: UNEXPLAINED drift %s (credit notes account for %s)\n",
			entry.ProductId, drift.String(), offset.String())
	}

	if anomalies > 0 {
		fmt.Printf("%d of %d entries have unexplained drift\n", anomalies, len(entries))
		if *strict {
			os.Exit(1)
		}
		return
	}
	fmt.Printf("verified %d entries, no unexplained drift\n", len(entries))
}

// validatedCreditNoteOffset sums the returned quantities of every live,
// validated credit note line for the product. Soft-deleted notes were
// already reversed, so only live headers count.
func validatedCreditNoteOffset(db *gorm.DB, productId int) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := db.Model(&models.CreditNoteDetail{}).
		Select("SUM(credit_note_details.quantity_returned)").
		Joins("JOIN credit_notes ON credit_notes.id = credit_note_details.credit_note_id").
		Where("credit_note_details.product_id = ?", productId).
		Where("credit_notes.status = ?", models.CreditNoteStatusValidated).
		Where("credit_notes.deleted_at IS NULL").
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
