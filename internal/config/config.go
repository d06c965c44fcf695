package config

import (
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env             string        `env:"ENV" envDefault:"local"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	Port            int           `env:"PORT" envDefault:"5000"`
	GRPCPort        int           `env:"GRPC_PORT" envDefault:"50051"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	HealthInterval  time.Duration `env:"HEALTH_INTERVAL" envDefault:"15s"`
	Store           Store
	Redis           Redis
}

type Store struct {
	Driver          string        `env:"STORE_DRIVER" envDefault:"mysql"`
	URL             string        `env:"DB_URL" envDefault:"root:root@tcp(localhost:3306)/library"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"50"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"25"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	MongoDatabase   string        `env:"MONGO_DATABASE" envDefault:"library"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"100"`
}

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	switch cfg.Store.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite, DriverMongo, DriverRedis, DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.Store.Driver)
	}
	return cfg, nil
}

// LogValue leaves DB_URL and REDIS_PASSWORD out of logs, they may carry
// credentials.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("env", c.Env),
		slog.String("logLevel", c.LogLevel),
		slog.Int("port", c.Port),
		slog.Int("grpcPort", c.GRPCPort),
		slog.Duration("shutdownTimeout", c.ShutdownTimeout),
		slog.Duration("healthInterval", c.HealthInterval),
		slog.String("storeDriver", c.Store.Driver),
		slog.String("mongoDatabase", c.Store.MongoDatabase),
		slog.String("redisAddr", c.Redis.Addr),
		slog.Int("redisDB", c.Redis.DB),
	)
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("parse config error: %s", err)
	}
	return cfg
}
