package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/library-management/internal/adapter/storage"
	"github.com/rl1809/library-management/internal/config"
	"github.com/rl1809/library-management/internal/port"
)

const connectTimeout = 10 * time.Second

// openStore connects the backend selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config) (port.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Store.Driver {
	case config.DriverMySQL, config.DriverPostgres, config.DriverSQLite:
		dialect := storage.Dialect(cfg.Store.Driver)
		db, err := storage.OpenSQL(ctx, dialect, cfg.Store.URL, storage.PoolConfig{
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		sqlStore, err := storage.NewSQLAdapter(db, dialect)
		if err != nil {
			db.Close()
			return nil, err
		}
		return sqlStore, nil

	case config.DriverMongo:
		mongoStore, err := openMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return mongoStore, nil

	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return storage.NewRedisAdapter(rdb), nil

	case config.DriverMemory:
		return storage.NewMemoryAdapter(), nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
}

func openMongo(ctx context.Context, cfg *config.Config) (*storage.MongoAdapter, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Store.URL))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	store := storage.NewMongoAdapter(client.Database(cfg.Store.MongoDatabase))
	// ISBN uniqueness relies on the unique index, so it must exist before serving.
	if err := store.EnsureIndexes(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// migrateStore prepares the schema of the configured backend.
func migrateStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Driver {
	case config.DriverMySQL, config.DriverPostgres, config.DriverSQLite:
		return storage.Migrate(storage.Dialect(cfg.Store.Driver), cfg.Store.URL)

	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		mongoStore, err := openMongo(ctx, cfg)
		if err != nil {
			return err
		}
		return mongoStore.Close()
	}
	return nil
}
