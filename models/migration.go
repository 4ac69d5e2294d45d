package models

import (
	"log"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Sku{}, &InventoryLevel{},
		&Reservation{}, &ReservationItem{},
		&AuditLog{},
		&InventorySnapshot{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
