package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"provider-adapter-svc/internal/circuitbreaker"
	providerkafka "provider-adapter-svc/internal/kafka"
	"provider-adapter-svc/internal/middleware"
	"provider-adapter-svc/internal/store"

	"sagakit/broker"
	"sagakit/inbox"
	"sagakit/outbox"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	serviceName := "provider-adapter"

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

	ib := inbox.NewStore(db, serviceName)
	if err := ib.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("Failed to ensure inbox schema", zap.Error(err))
	}

	// Five consecutive provider failures trip the breaker for 30s, shedding load onto the provider while it
	// recovers instead of piling up retries.
	breaker := circuitbreaker.NewCircuitBreaker(5, 30*time.Second, func(s circuitbreaker.State) {
		if s == circuitbreaker.StateOpen {
			middleware.ProviderCircuitOpenGauge.Set(1)
		} else {
			middleware.ProviderCircuitOpenGauge.Set(0)
		}
	})

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

	consumers := providerkafka.NewConsumers(st, ob, ib, breaker, logger)
	consumers.Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware(serviceName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/metrics", middleware.PrometheusHandler())

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8003"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Provider adapter service started", zap.String("addr", srv.Addr))

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
