// seed-demo creates a handful of demo SKUs with seeded inventory so the
// reservation endpoints can be exercised against a fresh database.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-demo
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/config"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/models"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	seeds := []models.NewSku{
		{SkuCode: "WIDGET-001", Name: "Widget, Standard", InitialQty: 100},
		{SkuCode: "WIDGET-002", Name: "Widget, Deluxe", InitialQty: 50},
		{SkuCode: "GADGET-001", Name: "Gadget", InitialQty: 250},
	}
	for _, seed := range seeds {
		sku, err := models.CreateSku(ctx, &seed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed %s: %v\n", seed.SkuCode, err)
			continue
		}
		fmt.Printf("created %s (%s) qty=%d\n", sku.SkuCode, sku.ID, seed.InitialQty)
	}
}
