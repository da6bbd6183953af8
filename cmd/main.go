package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"servicecatalog-cron/api"
	"servicecatalog-cron/client"
	"servicecatalog-cron/config"
	v1 "servicecatalog-cron/services/v1"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store   v1.Store
		runs    v1.RunLog
		outbox  v1.Outbox
		billing v1.Billing

		deliveries v1.DeliveryLog
	)
	switch cfg.StorageBackend {
	case config.BackendMemory:
		log.Println("[STORE] Using in-memory storage")
		mem := v1.NewMemoryStore()
		store, runs, outbox, deliveries = mem, mem, mem, mem
		billing = v1.NewMemoryBilling()
	default:
		db := client.ConnectPostgres()
		pg := v1.NewPostgresRunLog(db)
		store = v1.NewRedisStore(client.ConnectRedis())
		runs, outbox, deliveries = pg, pg, pg
		billing = v1.NewPostgresBilling(db)
	}

	dispatcher := v1.NewDispatcher(v1.DefaultSenders(cfg.NotifyHTTPTimeout), v1.RetryPolicy{
		MaxRetries:  cfg.NotifyMaxRetries,
		BaseBackoff: cfg.NotifyBaseBackoff,
		MaxBackoff:  cfg.NotifyMaxBackoff,
	}, 256, 2)
	dispatcher.Start(ctx)

	hub := v1.NewEventHub()
	engine := v1.NewEngine(store, runs, outbox, v1.NewIntentRouter(billing, dispatcher, deliveries, hub))
	catalog := v1.NewCatalog(store, runs)

	seed, err := v1.LoadSeed(cfg.SeedFile)
	if err != nil {
		log.Fatal("[SEED] ", err)
	}
	if err := v1.ApplySeed(ctx, catalog, seed); err != nil {
		log.Fatal("[SEED] ", err)
	}

	scheduler := v1.NewScheduler(catalog, engine, v1.NewLocalExecutor(cfg.LogExcerptBytes), store, v1.SchedulerConfig{
		Workers:         cfg.WorkerCount,
		SyncSpec:        cfg.SyncInterval,
		SweepSpec:       cfg.SweepInterval,
		LogExcerptBytes: cfg.LogExcerptBytes,
	})
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("[CRON] ", err)
	}

	// Start HTTP server for API endpoints
	go func() {
		err := api.StartServer(api.Deps{
			Catalog:   catalog,
			Scheduler: scheduler,
			Metrics:   store,
			Hub:       hub,
			Backend:   cfg.StorageBackend,
		})
		if err != nil {
			log.Println("[HTTP] Server stopped:", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	scheduler.Stop()
	dispatcher.Stop()
}
