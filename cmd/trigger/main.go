package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/healthsync/internal/config"
	"example.com/healthsync/internal/consumer"
	"example.com/healthsync/internal/platform"
	"example.com/healthsync/internal/settings"
	"example.com/healthsync/internal/store"
	"example.com/healthsync/internal/syncer"
)

const metricsAddress = ":9090"

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	stores := store.New(pool)
	source := platform.NewClient(cfg.PlatformBaseURL)
	settingsClient := settings.NewClient(cfg.SettingsBaseURL)

	detector := syncer.NewDetector(source, stores, stores, cfg.BackfillWindowDays, cfg.MaxPagesPerRun)
	orchestrator := syncer.NewOrchestrator(source, settingsClient, detector, stores, cfg.SourceIdentity)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTriggerTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	defer reader.Close()

	processor := consumer.NewProcessor(reader, consumer.NewSyncHandler(orchestrator))

	metricsSrv := &http.Server{Addr: metricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("trigger metrics listening on %s", metricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("trigger received shutdown signal")
		cancel()
	}()

	log.Printf("trigger consuming %s", cfg.KafkaTriggerTopic)
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("processor stopped: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
