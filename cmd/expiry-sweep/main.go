// expiry-sweep runs one expiry pass over past-due holds and exits. Useful
// when the service's background sweeper is disabled or a backlog needs
// clearing outside the normal interval.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/expiry-sweep
//
// Pass -snapshot to also capture an inventory snapshot after the sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/config"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/models"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/workflow"
)

func main() {
	snapshot := flag.Bool("snapshot", false, "capture an inventory snapshot after the sweep")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	logger := config.GetLogger()
	engine := workflow.NewEngine(logger, config.LoadSettings())

	count, err := engine.ExpireHolds(ctx, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("expired %d reservation(s)\n", count)

	if *snapshot {
		n, err := models.SnapshotInventory(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "snapshot failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("captured snapshot for %d sku(s)\n", n)
	}
}
