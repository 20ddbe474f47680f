package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/olucodehub/2aside-platform-sub000/internal/config"
	"github.com/olucodehub/2aside-platform-sub000/internal/consumer"
	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
	"github.com/olucodehub/2aside-platform-sub000/internal/handlers"
	"github.com/olucodehub/2aside-platform-sub000/internal/proofstore"
	"github.com/olucodehub/2aside-platform-sub000/internal/rate"
	"github.com/olucodehub/2aside-platform-sub000/internal/scheduler"
	"github.com/olucodehub/2aside-platform-sub000/internal/service"
	"github.com/olucodehub/2aside-platform-sub000/internal/settlement"
	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
	"github.com/olucodehub/2aside-platform-sub000/libs/health"
	"github.com/olucodehub/2aside-platform-sub000/libs/httpmiddleware"
	"github.com/olucodehub/2aside-platform-sub000/libs/kafka"
	"github.com/olucodehub/2aside-platform-sub000/libs/logging"
	"github.com/olucodehub/2aside-platform-sub000/libs/metrics"
	"github.com/olucodehub/2aside-platform-sub000/libs/trace"
)

const proofDeletionKey = "aside:merge:proof_deletions"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	mergeMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	store := storage.New(pool)
	wallets := settlement.NewWalletStore(pool)

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	consumerGroup, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumerGroup.Close()
	consumerGroup.WithDLQ(producer, cfg.Kafka.Topics.DeadLetter, 0, 0)

	deletions := proofstore.NewRedisScheduler(redisClient, proofDeletionKey)
	proofs, err := proofstore.NewDiskStore(cfg.Proof.Dir, cfg.Proof.MaxBytes, deletions)
	if err != nil {
		logger.Error("proof store init failed", "error", err)
		os.Exit(1)
	}
	janitor := proofstore.NewJanitor(redisClient, proofDeletionKey, proofs, logger)

	deadlines := engine.Deadlines{
		Proof:        cfg.Deadlines.Proof,
		Confirmation: cfg.Deadlines.Confirmation,
		Extension:    cfg.Deadlines.Extension,
	}

	settlementAdapter := settlement.NewAdapter(store, producer, cfg.Kafka.Topics.SettlementRequested, logger)

	mergeSvc := service.NewMergeService(
		store, wallets, proofs, settlementAdapter, producer, logger, mergeMetrics,
		service.Topics{
			RequestsCreated: cfg.Kafka.Topics.RequestsCreated,
			CyclesMatched:   cfg.Kafka.Topics.CyclesMatched,
			ProofUploaded:   cfg.Kafka.Topics.ProofUploaded,
			PairsExpired:    cfg.Kafka.Topics.PairsExpired,
		},
		deadlines, cfg.Deadlines.CancelGuard, cfg.Proof.Retention,
	)
	adminSvc := service.NewAdminService(store, mergeSvc, logger, mergeMetrics, deadlines)

	schedule, err := scheduler.NewSchedule(cfg.Schedule.MergeTimes, cfg.Schedule.Timezone, cfg.Schedule.JoinWindow, cfg.Schedule.CutoffLead)
	if err != nil {
		logger.Error("schedule init failed", "error", err)
		os.Exit(1)
	}
	cycleScheduler := scheduler.New(store, mergeSvc, settlementAdapter, schedule, logger)

	limiter := rate.NewRedisLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, "")

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler := handlers.New(mergeSvc, limiter, logger, cfg.Limits.MinAmount, cfg.Limits.MaxAmount, cfg.Proof.MaxBytes)
	handler.Register(router, []byte(cfg.JWTSecret))

	adminHandler := handlers.NewAdmin(adminSvc, store, logger, cfg.Proof.MaxBytes)
	adminHandler.Register(router, []byte(cfg.JWTSecret))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	settlementConsumer := consumer.NewSettlementConsumer(wallets, store, producer, logger)

	ready.SetReady(true)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() {
		logger.Info("merge http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		logger.Info("merge cycle scheduler starting", "merge_times", cfg.Schedule.MergeTimes, "timezone", cfg.Schedule.Timezone)
		if err := cycleScheduler.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("cycle scheduler error", "error", err)
		}
	}()

	go func() {
		if err := janitor.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("proof janitor error", "error", err)
		}
	}()

	go func() {
		logger.Info("settlement consumer starting", "topic", cfg.Kafka.Topics.SettlementRequested)
		if err := consumerGroup.Consume(workerCtx, []string{cfg.Kafka.Topics.SettlementRequested}, settlementConsumer); err != nil {
			logger.Error("kafka consumer error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, workerCancel, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DB.User,
		cfg.DB.Password,
		cfg.DB.Host,
		cfg.DB.Port,
		cfg.DB.Name,
		cfg.DB.SSLMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetNotReady("shutting down")
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
