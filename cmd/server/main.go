package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payment-service/config"
	"payment-service/internal/api"
	"payment-service/internal/broker"
	"payment-service/internal/gateway"
	"payment-service/internal/redisclient"
	"payment-service/internal/service"
	"payment-service/internal/store"
	"payment-service/internal/util"
	"payment-service/internal/webhook"
	"payment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// lockStore is what the services need from Redis or its in-process stand-in.
type lockStore interface {
	service.Locker
	service.Deduper
}

func main() {

	cfg := config.Load()

	logger, err := util.NewLogger(cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting payment service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("payment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	var repo store.Repository
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on restart")
		repo = store.NewMemoryStore()
	default:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database connected")
		repo = db
	}

	var locks lockStore
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
		locks = redisClient
	} else {
		logger.Warn("Redis disabled, refund locks and webhook dedupe are process-local")
		locks = redisclient.NewLocal()
	}

	var hook service.TransitionHook = service.NoopHook{}
	notifyOptions := service.NotificationOptions{
		MaxAge:   cfg.Webhook.MaxAge,
		DedupTTL: cfg.Webhook.DedupTTL,
	}
	if cfg.Kafka.Enabled {
		orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, logger)
		defer orderProducer.Close()

		var notificationProducer *broker.Producer
		if cfg.Webhook.Async {
			notificationProducer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, logger)
			defer notificationProducer.Close()
		}
		logger.Info("Kafka producers initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

		publisher := broker.NewEventPublisher(orderProducer, notificationProducer)
		hook = service.NewEventHook(publisher)
		if cfg.Webhook.Async {
			notifyOptions.Queue = publisher
		}
	}

	if cfg.Webhook.Secret == "" {
		logger.Warn("MERCADOPAGO_WEBHOOK_SECRET not set, webhook signatures will not be verified")
	}

	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.AccessToken, cfg.Gateway.Timeout, logger)

	reconciler := service.NewReconciler(repo, gw, hook, logger)
	orderService := service.NewOrderService(repo, gw, hook, service.CheckoutSettings{
		BackendURL:             cfg.Checkout.BackendURL,
		FrontendURL:            cfg.Checkout.FrontendURL,
		Currency:               cfg.Checkout.Currency,
		StatementDescriptor:    cfg.Checkout.StatementDescriptor,
		PreferenceExpiration:   time.Duration(cfg.Checkout.PreferenceExpirationDays) * 24 * time.Hour,
		MaxInstallments:        cfg.Checkout.MaxInstallments,
		ExcludedPaymentMethods: cfg.Checkout.ExcludedPaymentMethods,
		ExcludedPaymentTypes:   cfg.Checkout.ExcludedPaymentTypes,
		UseSandbox:             cfg.Gateway.UseSandbox,
	}, logger)
	refundService := service.NewRefundService(repo, gw, locks, hook, cfg.Checkout.RefundLockTTL, logger)
	notificationService := service.NewNotificationService(
		repo,
		webhook.NewValidator(cfg.Webhook.Secret, logger),
		reconciler,
		locks,
		notifyOptions,
		logger,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var notificationWorker *worker.NotificationWorker
	if cfg.Webhook.Async {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup, logger)
		notificationWorker = worker.NewNotificationWorker(consumer, notificationService, logger)
		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, refundService, reconciler, notificationService, repo, cfg.Checkout.FrontendURL, logger)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	workerCancel()
	if notificationWorker != nil {
		if err := notificationWorker.Stop(); err != nil {
			logger.Error("Error stopping notification worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
