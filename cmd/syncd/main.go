package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/healthsync/internal/api"
	"example.com/healthsync/internal/auth"
	"example.com/healthsync/internal/config"
	"example.com/healthsync/internal/outbox"
	"example.com/healthsync/internal/platform"
	"example.com/healthsync/internal/settings"
	"example.com/healthsync/internal/store"
	"example.com/healthsync/internal/syncer"
	httptransport "example.com/healthsync/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := store.WaitReady(ctx, pool, 30*time.Second); err != nil {
		log.Fatalf("postgres not ready: %v", err)
	}

	stores := store.New(pool)
	source := platform.NewClient(cfg.PlatformBaseURL)
	settingsClient := settings.NewClient(cfg.SettingsBaseURL)
	remote := outbox.NewRemoteStoreClient(cfg.RemoteStoreURL, cfg.RemoteStoreToken)

	detector := syncer.NewDetector(source, stores, stores, cfg.BackfillWindowDays, cfg.MaxPagesPerRun)
	orchestrator := syncer.NewOrchestrator(source, settingsClient, detector, stores, cfg.SourceIdentity)
	publisher := outbox.NewPublisher(stores, remote, cfg.UserID, cfg.DrainInterval, cfg.DrainBatchSize)

	go publisher.Start(ctx)
	go runSyncLoop(ctx, orchestrator, cfg.SyncInterval)

	handler := api.NewHandler(orchestrator, publisher, stores)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		func(r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
		},
	)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("healthsync listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	publisher.Wait()
}

// runSyncLoop triggers periodic sync runs until the context is cancelled.
func runSyncLoop(ctx context.Context, orchestrator *syncer.Orchestrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := orchestrator.RunSync(ctx)
		if err != nil {
			log.Printf("sync run failed, will retry next tick: %v", err)
		} else {
			log.Printf("sync run %s finished (%d types)", report.RunID, len(report.Results))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
