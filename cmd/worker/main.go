package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/storefront-orders/internal/config"
	"github.com/joao-fontenele/storefront-orders/internal/messaging"
	"github.com/joao-fontenele/storefront-orders/internal/telemetry"
	"github.com/joao-fontenele/storefront-orders/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8085")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	if cfg.EmailServiceURL == "" {
		logger.Error("EMAIL_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tel, err := telemetry.Setup(ctx, "worker", cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	notifications := worker.NewNotificationHandler(cfg.EmailServiceURL, telemetry.NewClient(10*time.Second), logger)

	created, err := messaging.NewConsumer(cfg.KafkaBrokers, cfg.OrderCreatedTopic, "invoice-worker")
	if err != nil {
		logger.Error("failed to create consumer", "error", err, "topic", cfg.OrderCreatedTopic)
		os.Exit(1)
	}
	defer func() { _ = created.Close() }()

	updated, err := messaging.NewConsumer(cfg.KafkaBrokers, cfg.OrderUpdatedTopic, "status-worker")
	if err != nil {
		logger.Error("failed to create consumer", "error", err, "topic", cfg.OrderUpdatedTopic)
		os.Exit(1)
	}
	defer func() { _ = updated.Close() }()

	logger.Info("starting notification worker",
		"brokers", cfg.KafkaBrokers,
		"topics", []string{cfg.OrderCreatedTopic, cfg.OrderUpdatedTopic},
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", tel.Metrics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return created.Consume(gctx, notifications.HandleOrderCreated) })
	g.Go(func() error { return updated.Consume(gctx, notifications.HandleStatusChanged) })
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			logger.Info("consumers stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
