package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/storefront-orders/internal/config"
	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/idempotency"
	"github.com/joao-fontenele/storefront-orders/internal/messaging"
	"github.com/joao-fontenele/storefront-orders/internal/notify"
	"github.com/joao-fontenele/storefront-orders/internal/orders"
	"github.com/joao-fontenele/storefront-orders/internal/telemetry"
	"github.com/joao-fontenele/storefront-orders/internal/users"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8081")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	tel, err := telemetry.Setup(ctx, "orders", cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	db, err := telemetry.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	sinks, closeSinks := notificationSinks(cfg, logger)
	defer closeSinks()

	dispatcher, err := notify.NewDispatcher(sinks, cfg.NotifyQueueSize, logger)
	if err != nil {
		logger.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}

	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		dispatcher.Run(ctx)
	}()

	var idem idempotency.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", "error", err, "addr", cfg.RedisAddr)
		}
		idem = idempotency.NewRedisStore(client, cfg.IdempotencyTTL)
	}

	repo := orders.NewOrderRepository(db)
	userRepo := users.NewRepository(db)

	coordinator, err := orders.NewCoordinator(repo, userRepo, dispatcher, logger)
	if err != nil {
		logger.Error("failed to create coordinator", "error", err)
		os.Exit(1)
	}

	var lifecycleOpts []orders.LifecycleOption
	if cfg.StrictTransitions {
		lifecycleOpts = append(lifecycleOpts, orders.WithStrictTransitions())
	}
	if cfg.RestockOnCancel {
		lifecycleOpts = append(lifecycleOpts, orders.WithRestockOnCancel())
	}

	lifecycle, err := orders.NewLifecycleManager(repo, dispatcher, logger, lifecycleOpts...)
	if err != nil {
		logger.Error("failed to create lifecycle manager", "error", err)
		os.Exit(1)
	}

	handler := orders.NewHandler(coordinator, lifecycle, repo, userRepo, idem, logger)

	mux := http.NewServeMux()
	handler.Register(mux, telemetry.WithHTTPRoute)
	mux.HandleFunc("GET /healthz", healthz(db))
	mux.Handle("GET /metrics", tel.Metrics)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.NewHandler(mux, "orders"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting orders service",
			"port", cfg.Port,
			"strict_transitions", cfg.StrictTransitions,
			"restock_on_cancel", cfg.RestockOnCancel,
			"idempotency", idem != nil,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	dispatcher.Close()
	drained.Wait()
}

// notificationSinks maps each order channel to a Kafka topic, or to the log
// when no brokers are configured.
func notificationSinks(cfg config.Config, logger *slog.Logger) (map[string]notify.Sink, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set, notifications go to the log")
		return map[string]notify.Sink{
			domain.ChannelOrderCreated: notify.NewLogSink(domain.ChannelOrderCreated, logger),
			domain.ChannelOrderUpdated: notify.NewLogSink(domain.ChannelOrderUpdated, logger),
		}, func() {}
	}

	created := messaging.NewProducer(cfg.KafkaBrokers, cfg.OrderCreatedTopic)
	updated := messaging.NewProducer(cfg.KafkaBrokers, cfg.OrderUpdatedTopic)

	sinks := map[string]notify.Sink{
		domain.ChannelOrderCreated: created,
		domain.ChannelOrderUpdated: updated,
	}
	closeSinks := func() {
		_ = created.Close()
		_ = updated.Close()
	}

	return sinks, closeSinks
}

func healthz(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
