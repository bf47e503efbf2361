package models

import (
	"log"

	"github.com/mmdatafocus/invoice_maker/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Room{}, &Reservation{},
		&Invoice{}, &InvoiceItem{},
		&ItemMaster{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
