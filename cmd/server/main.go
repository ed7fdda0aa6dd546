package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/rl1809/order-verification/internal/adapter/handler"
	"github.com/rl1809/order-verification/internal/adapter/notify"
	"github.com/rl1809/order-verification/internal/adapter/storage"
	"github.com/rl1809/order-verification/internal/config"
	"github.com/rl1809/order-verification/internal/core/service"
	"github.com/rl1809/order-verification/internal/metrics"
	"github.com/rl1809/order-verification/internal/port"
	"github.com/rl1809/order-verification/internal/worker"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	var cache port.CacheRepository
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.RedisPoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect redis")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
		cache = storage.NewRedisAdapter(rdb)
	}

	publisher := openPublisher(cfg)
	reg := metrics.NewRegistry()

	orders := service.NewOrderService(store, cache, publisher,
		service.WithMetrics(reg),
		service.WithCodePrefix(cfg.OrderCodePrefix),
		service.WithStrictPayload(cfg.StrictVerificationPayload),
	)
	dispatch := service.NewDispatchService(store, cache, publisher, reg)
	stock := service.NewStockService(store, cache, reg)

	feeds := worker.NewFeedProcessor(dispatch, stock, cfg.FeedWorkers, cfg.FeedQueueSize, reg)
	feeds.Start(ctx)
	reconciler := worker.NewReconciler(stock, cfg.ReconcileInterval)
	reconciler.Start(ctx)

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(handler.Codec()))
	handler.RegisterOrderVerificationServer(grpcServer, handler.NewGRPCHandler(orders, dispatch, stock))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("failed to listen")
	}
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()

	mux := http.NewServeMux()
	handler.NewHTTPHandler(orders, dispatch, stock, feeds).Register(mux)
	mux.Handle("GET /metrics", reg.Handler())

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown")
	}
	log.Info().Msg("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info().Msg("gRPC server stopped")

	reconciler.Stop()
	feeds.Stop()
	log.Info().Msg("workers stopped")

	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("close publisher")
	}
	if rdb != nil {
		rdb.Close()
	}
	log.Info().Msg("connections closed")
}

func openStore(ctx context.Context, cfg config.Config) (port.Store, func()) {
	if cfg.StorageDriver == "memory" {
		log.Warn().Msg("using in-memory storage, data is lost on exit")
		return storage.NewMemoryAdapter(), func() {}
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open mysql")
	}
	db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQLMaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQLConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping mysql")
	}
	log.Info().Msg("connected to mysql")

	adapter := storage.NewMySQLAdapter(db)
	if cfg.MySQLApplySchema {
		if err := adapter.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
	}
	return adapter, func() { db.Close() }
}

func openPublisher(cfg config.Config) notify.Publisher {
	switch cfg.Notifier {
	case "kafka":
		log.Info().Str("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
		return notify.Fanout{notify.LogPublisher{}, notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)}
	case "amqp":
		p, err := notify.NewAMQPPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect rabbitmq")
		}
		log.Info().Str("exchange", cfg.RabbitMQExchange).Msg("publishing events to rabbitmq")
		return notify.Fanout{notify.LogPublisher{}, p}
	default:
		return notify.LogPublisher{}
	}
}
