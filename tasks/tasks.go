package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/robfig/cron"

	"github.com/kontorhq/kontor-backend/concurrency"
	"github.com/kontorhq/kontor-backend/config"
	"github.com/kontorhq/kontor-backend/models"
	"github.com/kontorhq/kontor-backend/slotstore"
)

// staleRequestAge is how long a bulk request may sit in processing or
// cancelling before the reporter flags it as stuck.
const staleRequestAge = 2 * time.Hour

func initLogging() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Initialized the logger successfully")
}

func main() {
	initLogging()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	config.SetEnvFromConfig(cfg)

	models.ConnectDatabase()

	store, err := slotstore.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to set up slot store: %v", err)
	}
	sweeper := concurrency.NewSweeper(store, cfg.Slots.SweepScanPageSize)

	c := cron.New()

	// Slot accounting sweep
	c.AddFunc("0 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		result, err := sweeper.Sweep(ctx, concurrency.SweepOptions{
			MaxOps:     cfg.Slots.SweepMaxOps,
			MaxRuntime: cfg.Slots.SweepMaxRuntime,
			PageSize:   cfg.Slots.SweepScanPageSize,
		})
		if err != nil {
			log.Printf("Error sweeping slot accounting: %v", err)
			return
		}
		if result.Removed > 0 {
			log.Printf("Sweep removed %v expired slot entries (scanned %v, ops %v, stop reason %v)",
				result.Removed, result.Scanned, result.Ops, result.StopReason)
		}
	})

	// Revoked token prune
	c.AddFunc("0 0 * * * *", func() {
		removed, err := models.DB.DeleteExpiredRevokedTokens()
		if err != nil {
			log.Printf("Error pruning expired revoked tokens: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("Pruned %v expired revoked tokens", removed)
		}
	})

	// Stale bulk request reporter
	c.AddFunc("0 */10 * * * *", func() {
		stale, err := models.DB.GetStaleBulkRequests(staleRequestAge)
		if err != nil {
			log.Printf("Error fetching stale bulk requests: %v", err)
			return
		}
		for _, request := range stale {
			log.Printf("Bulk request %v stuck in status %v since %v",
				request.ID, request.Status.ToString(), request.StatusUpdatedAt.Format(time.RFC3339))
		}
	})

	// Start the Cron job scheduler
	c.Start()

	select {}
}
