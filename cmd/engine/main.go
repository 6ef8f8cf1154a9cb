package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/plt-repo/order-inventory-platform/internal/idempotency"
	"github.com/plt-repo/order-inventory-platform/internal/repository"
	"github.com/plt-repo/order-inventory-platform/internal/reservation"
	"github.com/plt-repo/order-inventory-platform/internal/service"
	transportKafka "github.com/plt-repo/order-inventory-platform/internal/transport/kafka"
	"github.com/plt-repo/order-inventory-platform/pkg/config"
	"github.com/plt-repo/order-inventory-platform/pkg/db"
	pkgKafka "github.com/plt-repo/order-inventory-platform/pkg/kafka"
	"github.com/plt-repo/order-inventory-platform/pkg/mylogger"
	outboxRepository "github.com/plt-repo/order-inventory-platform/pkg/outbox/repository"
	"github.com/plt-repo/order-inventory-platform/pkg/outbox/worker"
	"github.com/plt-repo/order-inventory-platform/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	tp, err := utils.InitTracer(ctx, "order-inventory-engine", cfg.Telemetry.OTLPEndpoint, cfg.Env)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	logger, err := config.NewLogger(config.LoggerConfig{Env: cfg.Env})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := db.NewPostgresDB(cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})

	ledger := repository.NewLedgerStore(pool, logger)
	orders := repository.NewOrderRepository(pool, logger)
	reservations := repository.NewReservationRepository(pool, logger)
	outboxRepo := outboxRepository.NewOutboxRepository(pool, logger)

	manager := reservation.NewManager(ledger, reservations, logger, cfg.Engine.CASRetries)
	guard := idempotency.NewGuard(pool, logger)

	engine := service.NewEngine(pool, logger, guard, orders, ledger, manager, outboxRepo, cfg.Kafka.EventsTopic)
	engine = service.NewCachedEngine(engine, redisClient, cfg.Redis.CacheTTL)

	producer, err := pkgKafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("failed to create kafka producer: %v", err)
	}

	outboxProcessor := worker.NewOutboxProcessor(
		pool,
		outboxRepo,
		producer,
		logger,
		cfg.Outbox.BatchSize,
		cfg.Outbox.Interval,
	)
	go outboxProcessor.Start(ctx)

	reaper := service.NewReaper(engine, orders, logger, cfg.Engine.HoldTTL, cfg.Engine.ReaperInterval)
	go reaper.Start(ctx)

	consumer := transportKafka.NewConsumer(engine, pool, cfg.Kafka, logger)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			mylogger.Error(ctx, logger, "Fulfillment consumer stopped", zap.Error(err))
		}
	}()

	mylogger.Info(ctx, logger, "Order-inventory engine started")

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer exit()

	mylogger.Info(shutdownCtx, logger, "Shutting down engine")

	if err := producer.Close(); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to close kafka producer", zap.Error(err))
	}

	if err := redisClient.Close(); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to close redis client", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	}

	pool.Close()
}
