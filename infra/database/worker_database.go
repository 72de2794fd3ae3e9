package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

//go:embed schema.sql
var schema string

// PostgresConfig holds database configuration.
type PostgresConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPostgresConfig sizes the pool for one page of concurrent message
// writes per running sync.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxConns:          25,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

func NewPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	return NewPostgresWithConfig(ctx, databaseURL, DefaultPostgresConfig())
}

func NewPostgresWithConfig(ctx context.Context, databaseURL string, cfg *PostgresConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = cfg.MaxConns
	config.MinConns = cfg.MinConns
	config.MaxConnLifetime = cfg.MaxConnLifetime
	config.MaxConnIdleTime = cfg.MaxConnIdleTime
	config.HealthCheckPeriod = cfg.HealthCheckPeriod

	// Disable prepared statement cache to avoid conflicts with sqlx
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// NewSQLX exposes the pool through database/sql for the sqlx adapters.
// Closing the returned DB does not close the pool.
func NewSQLX(pool *pgxpool.Pool) *sqlx.DB {
	return sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
}

// EnsureSchema applies the embedded schema. Every statement is idempotent.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig leaves ReadTimeout above the stream consumer's block
// time so XREADGROUP does not time out while waiting.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func NewRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	return NewRedisWithConfig(ctx, redisURL, DefaultRedisConfig())
}

func NewRedisWithConfig(ctx context.Context, redisURL string, cfg *RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.MaxRetries = cfg.MaxRetries
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
