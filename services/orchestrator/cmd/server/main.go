package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"orchestrator-svc/internal/cache"
	"orchestrator-svc/internal/handlers"
	orchkafka "orchestrator-svc/internal/kafka"
	"orchestrator-svc/internal/middleware"
	"orchestrator-svc/internal/store"

	"sagakit/broker"
	"sagakit/inbox"
	"sagakit/outbox"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	serviceName := "orchestrator"

	db, err := store.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	st := store.New(db)

	ob := outbox.NewStore(db)
	if err := ob.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("Failed to ensure outbox schema", zap.Error(err))
	}

	ib := inbox.NewStore(db, "orchestrator")
	if err := ib.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("Failed to ensure inbox schema", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: getEnv("REDIS_ADDR", "localhost:6379")})
	cacheClient := cache.New(rdb)

	producer, err := broker.NewProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	shutdown, err := middleware.InitTracing(serviceName)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	outbox.RegisterMetrics()
	ratePerMin := getEnvInt("RATE_LIMIT_PER_MINUTE", 30)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := &outbox.Publisher{
		Store:          ob,
		Sender:         producer,
		ServiceName:    serviceName,
		Workers:        2,
		BatchSize:      100,
		PollInterval:   500 * time.Millisecond,
		ReclaimTimeout: 60 * time.Second,
		MaxAttempts:    10,
		Logger:         logger,
	}
	go publisher.Run(ctx)

	consumers := orchkafka.NewConsumers(st, ob, ib, logger)
	consumers.Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware(serviceName))

	paymentsHandler := handlers.NewPaymentsHandler(st, ob, cacheClient, logger, serviceName, ratePerMin)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())
	router.POST("/payments", paymentsHandler.CreatePayment)
	router.GET("/payments/:id", paymentsHandler.GetPayment)

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8001"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Orchestrator service started", zap.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
