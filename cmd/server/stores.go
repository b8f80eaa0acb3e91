package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/mall-checkout/internal/adapter/storage"
	"github.com/rl1809/mall-checkout/internal/config"
	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
)

type stores struct {
	products    port.ProductRepository
	carts       port.CartRepository
	orders      port.OrderRepository
	stock       port.StockLedger
	idempotency port.IdempotencyStore
	sessions    port.SessionResolver

	// redis is set when any component lives in Redis.
	redis      *storage.RedisAdapter
	redisStock bool
	log        *zap.Logger
	closers    []func() error
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	st := &stores{log: log}

	switch cfg.Storage {
	case config.StorageMemory:
		catalog := storage.NewMemoryCatalog()
		st.products, st.stock = catalog, catalog
		st.carts = storage.NewMemoryCartStore()
		st.orders = storage.NewMemoryOrderStore()
		log.Info("using in-memory storage")
	default:
		db, err := openSQL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, db.Close)

		dialect := storage.MySQL
		if cfg.Storage == config.StoragePostgres {
			dialect = storage.Postgres
		}
		adapter := storage.NewSQLAdapter(db, dialect)
		if err := adapter.Migrate(ctx); err != nil {
			st.close()
			return nil, fmt.Errorf("migrate %s: %w", dialect.Name(), err)
		}
		st.products, st.stock, st.carts, st.orders = adapter, adapter, adapter, adapter
		log.Info("connected to database", zap.String("dialect", dialect.Name()))
	}

	st.idempotency = storage.NewMemoryIdempotencyStore()
	st.sessions = storage.StaticSessions(cfg.StaticTokens)

	if cfg.NeedsRedis() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.RedisPoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			st.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		st.closers = append(st.closers, rdb.Close)
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

		st.redis = storage.NewRedisAdapter(rdb)
		st.idempotency = st.redis
		if cfg.StockBackend == config.StockFromRedis {
			st.stock = st.redis
			st.redisStock = true
		}
		if cfg.SessionBackend == config.SessionsRedis {
			st.sessions = st.redis
		}
	}
	return st, nil
}

func openSQL(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	driver, dsn := "mysql", cfg.MySQLDSN
	if cfg.Storage == config.StoragePostgres {
		driver, dsn = "postgres", cfg.PostgresDSN
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// syncStock loads catalog stock into Redis for products the ledger has not
// seen yet. It is a no-op unless Redis holds the stock.
func (st *stores) syncStock(ctx context.Context) error {
	if !st.redisStock {
		return nil
	}

	seeded := 0
	page := domain.PageRequest{Size: domain.MaxPageSize}
	for {
		products, err := st.products.ListProducts(ctx, domain.ProductFilter{}, page)
		if err != nil {
			return err
		}
		for _, p := range products.Items {
			set, err := st.redis.InitStock(ctx, p.ID, p.Stock)
			if err != nil {
				return err
			}
			if set {
				seeded++
			}
		}
		if page.Page+1 >= products.TotalPages {
			break
		}
		page.Page++
	}
	st.log.Info("synced stock to redis", zap.Int("seeded", seeded))
	return nil
}

func (st *stores) close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		if err := st.closers[i](); err != nil {
			st.log.Warn("close store", zap.Error(err))
		}
	}
	st.closers = nil
}
