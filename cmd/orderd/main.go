package main

import (
	"context"
	"database/sql"
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
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/cafe-order/internal/adapter/handler"
	"github.com/rl1809/cafe-order/internal/adapter/storage"
	"github.com/rl1809/cafe-order/internal/config"
	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/core/service"
	"github.com/rl1809/cafe-order/internal/logging"
	"github.com/rl1809/cafe-order/internal/metrics"
)

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

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal("failed to connect mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	if err := storage.RunMigrations(db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	m := metrics.New("orderd")

	// A zero step delay leaves status changes to the admin API
	queueSize := cfg.KitchenQueueSize
	if cfg.KitchenStepDelay <= 0 {
		queueSize = 0
	}
	orderService := service.NewOrderService(storage.NewMySQLAdapter(db), storage.NewRedisAdapter(rdb), service.OrderServiceConfig{
		QueueSize: queueSize,
		TaxRate:   cfg.TaxRate,
		BeanValue: domain.Money(cfg.BeanValueCents),
	}, logger, m)

	kitchenCtx, stopKitchen := context.WithCancel(ctx)
	defer stopKitchen()
	var wg sync.WaitGroup
	if queueSize > 0 {
		kitchen := service.NewKitchen(orderService.GetKitchenQueue(), orderService, cfg.KitchenWorkers, cfg.KitchenStepDelay, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			kitchen.Run(kitchenCtx)
		}()
	} else {
		logger.Info("kitchen automation disabled")
	}

	// gRPC health
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.OrderGRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", cfg.OrderGRPCPort), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("port", cfg.OrderGRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP
	if len(cfg.AuthTokens) == 0 {
		logger.Warn("AUTH_TOKENS is empty, every authenticated route will answer 401")
	}
	httpHandler := handler.NewHTTPHandler(orderService, cfg.AuthTokens, logger)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(handler.RequestLogger(logger))
	r.Use(m.Middleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	httpHandler.Routes(r)
	r.Handle("/metrics", m.Handler())

	httpServer := &http.Server{
		Addr:    ":" + cfg.OrderHTTPPort,
		Handler: r,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.OrderHTTPPort))
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

	// Close the kitchen queue and wait for workers; orders still queued stay
	// received and can be advanced from the admin API
	orderService.Close()
	stopKitchen()
	wg.Wait()
	logger.Info("kitchen stopped")

	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}
