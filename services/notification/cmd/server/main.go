package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notification-svc/internal/handlers"
	notificationkafka "notification-svc/internal/kafka"
	"notification-svc/internal/middleware"
	"notification-svc/internal/store"

	"sagakit/inbox"

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

	serviceName := "notification"

	db, err := store.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	st := store.New(db)

	ib := inbox.NewStore(db, serviceName)
	if err := ib.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("Failed to ensure inbox schema", zap.Error(err))
	}

	shutdown, err := middleware.InitTracing(serviceName)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumers := notificationkafka.NewConsumers(st, ib, logger)
	consumers.Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware(serviceName))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8005"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Notification service started", zap.String("addr", srv.Addr))

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
