package models

import (
	"log"

	"github.com/sekura/tollops_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&CycleState{}, &ReadingEntry{},
		&StockItem{}, &StockTransaction{},
		&TransferRequest{},
		&AuditEntry{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
