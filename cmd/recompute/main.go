// Command recompute repairs the stored virtual stock of every product from
// the current reservation ledger, then exits.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/order-verification/internal/adapter/storage"
	"github.com/rl1809/order-verification/internal/config"
	"github.com/rl1809/order-verification/internal/core/service"
	"github.com/rl1809/order-verification/internal/port"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	if cfg.StorageDriver != "mysql" {
		log.Fatal().Str("driver", cfg.StorageDriver).Msg("recompute needs persistent storage")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open mysql")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping mysql")
	}

	var cache port.CacheRepository
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, stock mirror not refreshed")
		} else {
			cache = storage.NewRedisAdapter(rdb)
		}
	}

	stock := service.NewStockService(storage.NewMySQLAdapter(db), cache, nil)
	res, err := stock.RecomputeAll(ctx)
	if err != nil {
		log.Error().Err(err).Int("total", res.Total).Int("updated", res.Updated).Msg("recompute finished with errors")
		os.Exit(1)
	}
	log.Info().Int("total", res.Total).Int("updated", res.Updated).Msg("recompute finished")
}
