package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/paysync/internal/api"
	"github.com/punchamoorthee/paysync/internal/cache"
	"github.com/punchamoorthee/paysync/internal/config"
	"github.com/punchamoorthee/paysync/internal/domain"
	"github.com/punchamoorthee/paysync/internal/gateway"
	"github.com/punchamoorthee/paysync/internal/service"
	"github.com/punchamoorthee/paysync/internal/store"
)

const pruneInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	var logger *zap.Logger
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Unable to build logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// run serves until a shutdown signal or a listener failure. Every resource it
// opens is released before it returns.
func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := store.Connect(ctx, cfg.DBSource)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbPool.Close()

	currencies := domain.NewCurrencySet(cfg.SupportedCurrencies...)
	pgStore, err := store.NewStore(dbPool, currencies)
	if err != nil {
		return fmt.Errorf("store configuration: %w", err)
	}
	if err := pgStore.Migrate(ctx); err != nil {
		return fmt.Errorf("schema migration: %w", err)
	}

	var processed service.ProcessedCache
	if cfg.RedisAddr != "" {
		rdb := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword)
		defer rdb.Close()
		pe := cache.NewProcessedEvents(rdb, cfg.EventRetention)
		if err := pe.Ping(ctx); err != nil {
			logger.Warn("Redis unreachable; dedupe falls back to Postgres only", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		processed = pe
	}

	validator, err := gateway.NewValidator(cfg.WebhookSecret, cfg.WebhookTolerance)
	if err != nil {
		return fmt.Errorf("webhook configuration: %w", err)
	}

	// Initialize Layers
	dispatcher := service.NewDispatcher(pgStore,
		service.NewReconciler(logger.Named("reconciler"), nil),
		service.NewCreditApplier(currencies, logger.Named("credit")),
		processed,
		logger.Named("dispatcher"))
	handler := api.NewHandler(validator, dispatcher, pgStore, logger.Named("http"), cfg.DispatchTimeout)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.DispatchTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go pruneProcessedEvents(ctx, pgStore, cfg.EventRetention, logger.Named("retention"))

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var listenErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case listenErr = <-serverErr:
		logger.Error("ListenAndServe failed", zap.Error(listenErr))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	logger.Info("Server stopped")
	if listenErr != nil {
		return fmt.Errorf("listen: %w", listenErr)
	}
	return nil
}

// pruneProcessedEvents drops processed-event markers older than retention.
// A redelivery after pruning is still caught by the ledger entry check.
func pruneProcessedEvents(ctx context.Context, s *store.Store, retention time.Duration, logger *zap.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PruneProcessedEvents(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("pruned processed events", zap.Int64("count", n))
			}
		}
	}
}
