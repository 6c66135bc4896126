package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ahjam-taoufik/gestion-stock-backend/config"
	"github.com/ahjam-taoufik/gestion-stock-backend/models"
)

// Rebuilds available = cumulative_in - cumulative_out for one or all products.
//
// WARNING: validated credit notes raise available without touching the
// counters, so this tool erases their effect. Run it only when that loss is
// acceptable (or when no validated credit notes exist for the products in
// scope); ledger-verify reports the drift beforehand.
func main() {
	productID := flag.Int("product-id", 0, "Recompute only this product (0 = all products)")
	dryRun := flag.Bool("dry-run", false, "Report what would change without writing")
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
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no stock ledger entries in scope")
		return
	}

	changed := 0
	for _, entry := range entries {
		expected := entry.CumulativeIn.Sub(entry.CumulativeOut)
		if entry.Available.Equal(expected) {
			continue
		}
		changed++
		fmt.Printf("product %d: available %s -> %s\n",
			entry.ProductId, entry.Available.String(), expected.String())
		if *dryRun {
			continue
		}
		tx := db.Begin()
		if err := models.RecomputeAvailable(tx, entry.ProductId); err != nil {
			fmt.Fprintf(os.Stderr, "product %d: recompute failed: %v\n", entry.ProductId, err)
			os.Exit(1)
		}
		if err := tx.Commit().Error; err != nil {
			fmt.Fprintf(os.Stderr, "product %d: commit failed: %v\n", entry.ProductId, err)
			os.Exit(1)
		}
	}

	if *dryRun {
		fmt.Printf("dry run: %d of %d entries would change\n", changed, len(entries))
		return
	}
	fmt.Printf("recomputed %d of %d entries\n", changed, len(entries))
}
