package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alquemyfin/bankinplay-connect/internal/bankinplay"
	"github.com/alquemyfin/bankinplay-connect/internal/config"
	"github.com/alquemyfin/bankinplay-connect/internal/correlator"
	"github.com/alquemyfin/bankinplay-connect/internal/domain"
	"github.com/alquemyfin/bankinplay-connect/internal/eventbus"
	"github.com/alquemyfin/bankinplay-connect/internal/handler"
	"github.com/alquemyfin/bankinplay-connect/internal/ingest"
	"github.com/alquemyfin/bankinplay-connect/internal/ledger"
	"github.com/alquemyfin/bankinplay-connect/internal/scheduler"
	"github.com/alquemyfin/bankinplay-connect/internal/server"
	"github.com/alquemyfin/bankinplay-connect/internal/service"
	"github.com/alquemyfin/bankinplay-connect/internal/statement"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.New(cfg.Logging.Level)
	defer log.Sync()

	ctx := context.Background()
	log.Info(ctx, "Starting application")

	var store domain.LedgerStore
	var pgStore *ledger.PostgresStore
	if cfg.Database.Source != "" {
		var err error
		pgStore, err = ledger.NewPostgresStore(ctx, cfg.Database.Source)
		if err != nil {
			log.Fatal(ctx, "Failed to connect to database",
				"error", err,
			)
		}
		store = pgStore
		log.Info(ctx, "Postgres ledger store initialized")
	} else {
		store = ledger.NewMemoryStore()
		log.Info(ctx, "In-memory ledger store initialized")
	}

	location, err := time.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		log.Fatal(ctx, "Invalid timezone",
			"timezone", cfg.Sync.Timezone,
			"error", err,
		)
	}

	codec := bankinplay.NewCodec()
	transport := bankinplay.NewTransport(cfg.Provider.BaseURL, cfg.Provider.HTTPTimeout, codec, log)
	poller := bankinplay.NewPoller(transport, cfg.Provider.PollInterval, log)

	ingestor := ingest.New(ingest.Config{
		DateField:  ingest.DateField(cfg.Sync.DateField),
		Location:   location,
		CardNumber: cfg.Sync.CardNumber,
	})
	builder := statement.NewMemoryBuilder(log)

	corr := correlator.New(store, codec, ingestor, builder, log)

	client := bankinplay.NewClient(transport, poller, store, corr, bankinplay.ClientConfig{
		DisableCallback: cfg.Provider.DisableCallback,
		AccountNumber:   cfg.Sync.AccountNumber,
		CardNumber:      cfg.Sync.CardNumber,
	}, log)

	creds := domain.Credentials{
		APIKey:    cfg.Provider.APIKey,
		APISecret: cfg.Provider.APISecret,
	}
	syncService := service.NewSyncService(client, creds, service.SyncOptions{
		ImportType:    cfg.Sync.ImportType,
		IsCard:        cfg.Sync.IsCard,
		CardNumber:    cfg.Sync.CardNumber,
		AccountNumber: cfg.Sync.AccountNumber,
	}, log)
	log.Info(ctx, "Services initialized")

	eventBusCfg := &eventbus.Config{
		ChannelBuffer: cfg.EventBus.ChannelBufferSize,
		MaxRetries:    cfg.Worker.MaxRetries,
	}
	bus := eventbus.New(log, eventBusCfg)

	fetchConsumer := eventbus.NewFetchConsumer(syncService, log, cfg.Worker.PoolSize)
	if err := bus.Subscribe(eventbus.EventTypeFetch, fetchConsumer); err != nil {
		log.Fatal(ctx, "Failed to subscribe consumer",
			"error", err,
		)
	}
	if err := bus.Start(ctx); err != nil {
		log.Fatal(ctx, "Failed to start event bus",
			"error", err,
		)
	}
	log.Info(ctx, "Event bus started",
		"worker_count", cfg.Worker.PoolSize,
	)

	sched := scheduler.New(bus, cfg.Sync.Interval, cfg.Sync.LookbackDays, log)
	sched.Start(ctx)

	webhookHandler := handler.NewWebhookHandler(corr, log)
	ledgerHandler := handler.NewLedgerHandler(store, log)
	syncHandler := handler.NewSyncHandler(bus, cfg.Sync.LookbackDays, log)
	healthHandler := handler.NewHealthHandler()
	log.Info(ctx, "Handlers initialized")

	srv := server.New(cfg, log, webhookHandler, ledgerHandler, syncHandler, healthHandler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal(ctx, "Failed to start HTTP server",
				"error", err,
			)
		}
	}()

	log.Info(ctx, "Application started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	// Graceful shutdown in order:
	// 1. Stop accepting new HTTP requests
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "HTTP server shutdown error",
			"error", err,
		)
	}

	// 2. Stop publishing new fetch events
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "Scheduler shutdown error",
			"error", err,
		)
	}

	// 3. Stop event bus and wait for workers to finish
	if err := bus.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "Event bus shutdown error",
			"error", err,
		)
	}

	if pgStore != nil {
		pgStore.Close()
	}

	log.Info(ctx, "Application stopped gracefully")
}
