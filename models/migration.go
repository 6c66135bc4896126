package models

import (
	"log"

	"github.com/ahjam-taoufik/gestion-stock-backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Client{},
		&Product{},
		&StockLedgerEntry{},
		&Receipt{}, &ReceiptDetail{},
		&Delivery{}, &DeliveryDetail{},
		&CreditNote{}, &CreditNoteDetail{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
