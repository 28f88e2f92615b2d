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

	"risk-engine-svc/internal/handlers"
	riskkafka "risk-engine-svc/internal/kafka"
	"risk-engine-svc/internal/middleware"
	"risk-engine-svc/internal/orchclient"
	"risk-engine-svc/internal/store"
	"risk-engine-svc/internal/velocity"

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

	serviceName := "risk-engine"

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

	rdb := redis.NewClient(&redis.Options{Addr: getEnv("REDIS_ADDR", "localhost:6379")})

	thresholds := velocity.Thresholds{
		DenyFrequencyPerHour:  getEnvInt("RISK_DENY_FREQUENCY_THRESHOLD", 50),
		ReviewAmountCents:     int64(getEnvInt("RISK_REVIEW_AMOUNT_CENTS", 500000)),
		ReviewVelocityPerHour: getEnvInt("RISK_VELOCITY_PER_HOUR", 20),
	}
	engine := velocity.NewEngine(rdb, thresholds)

	orch := orchclient.New(getEnv("ORCHESTRATOR_URL", "http://orchestrator:8001"))

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

	consumers := riskkafka.NewConsumers(st, ob, ib, engine, logger)
	consumers.Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware(serviceName))

	reviewsHandler := handlers.NewReviewsHandler(st, ob, orch, logger, serviceName)
	jwtSecret := []byte(getEnv("JWT_SECRET", "your-secret-key-change-in-production"))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	ops := router.Group("/ops", middleware.OpsAuth(jwtSecret))
	ops.GET("/reviews", reviewsHandler.ListPendingReviews)
	ops.POST("/reviews/:id/approve", reviewsHandler.ApproveReview)
	ops.POST("/reviews/:id/deny", reviewsHandler.DenyReview)

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8002"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Risk engine service started", zap.String("addr", srv.Addr))

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
