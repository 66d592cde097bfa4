package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/cafe-order/internal/adapter/client"
	"github.com/rl1809/cafe-order/internal/adapter/handler"
	"github.com/rl1809/cafe-order/internal/adapter/storage"
	"github.com/rl1809/cafe-order/internal/config"
	"github.com/rl1809/cafe-order/internal/core/service"
	"github.com/rl1809/cafe-order/internal/logging"
	"github.com/rl1809/cafe-order/internal/metrics"
	"github.com/rl1809/cafe-order/internal/port"
)

const sweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("shell")

	// Cart snapshots live in Redis; without it sessions are memory only
	var store port.SessionStore
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, cart snapshots disabled", zap.Error(err))
	} else {
		store = storage.NewRedisAdapter(rdb)
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	orderClient := client.NewHTTPOrderClient(client.Config{
		BaseURL:         cfg.OrderServiceURL,
		Timeout:         cfg.RequestTimeout,
		BreakerFailures: cfg.BreakerFailures,
	}, logger)

	sessions := service.NewSessionManager(store, cfg.SessionTTL, logger)
	carts := service.NewCartService(orderClient, sessions, cfg.TaxRate, logger)
	checkout := service.NewCheckoutService(orderClient, logger, m)
	tracking := service.NewTrackingService(orderClient, service.TrackerConfig{
		PollInterval: cfg.PollInterval,
		MaxBackoff:   cfg.PollMaxBackoff,
		MaxDuration:  cfg.TrackingMaxDuration,
	}, logger, m)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions.Run(ctx, sweepInterval)
	}()

	// gRPC health
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP
	shellHandler := handler.NewShellHandler(sessions, carts, checkout, tracking, orderClient, logger)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(handler.RequestLogger(logger))
	r.Use(m.Middleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout + 5*time.Second))
	shellHandler.Routes(r)
	r.Handle("/metrics", m.Handler())

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server did not drain in time", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Stop the sweeper, then every session and its trackers
	cancel()
	wg.Wait()
	sessions.Close()
	logger.Info("sessions closed")

	rdb.Close()
	logger.Info("connections closed")
}
