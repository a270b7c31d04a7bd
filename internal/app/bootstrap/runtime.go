// Package bootstrap builds the process-wide clients shared by the API binary.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/dentalchart-platform/internal/config"
	"github.com/wolfman30/dentalchart-platform/internal/dentalchart"
	"github.com/wolfman30/dentalchart-platform/pkg/logging"
)

// Chart store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreDynamo   = "dynamodb"
)

var ErrStoreUnavailable = errors.New("bootstrap: chart store backend unavailable")

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool connects a pgx pool, or returns nil when no URL is configured.
func BuildPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	if logger != nil {
		logger.Info("postgres pool connected")
	}
	return pool, nil
}

// BuildAuditDB opens the database/sql handle used by the audit trail, or nil when no URL is set.
func BuildAuditDB(databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open audit db: %w", err)
	}
	db.SetMaxOpenConns(4)
	return db, nil
}

// StoreDeps are the already-built clients a chart store may need.
type StoreDeps struct {
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Dynamo *dynamodb.Client
}

// BuildChartRepository picks the chart store named by cfg.ChartStore.
func BuildChartRepository(cfg *appconfig.Config, deps StoreDeps, logger *logging.Logger) (dentalchart.Repository, error) {
	if logger == nil {
		logger = logging.Default()
	}
	store := strings.ToLower(strings.TrimSpace(cfg.ChartStore))
	if store == "" {
		store = StoreMemory
	}

	var repo dentalchart.Repository
	switch store {
	case StoreMemory:
		if cfg.Env == "production" {
			logger.Warn("in-memory chart store in production; charts will not survive a restart")
		}
		repo = dentalchart.NewMemoryRepository()
	case StorePostgres:
		if deps.Pool == nil {
			return nil, fmt.Errorf("%w: %s needs DATABASE_URL", ErrStoreUnavailable, store)
		}
		repo = dentalchart.NewPostgresRepository(deps.Pool)
	case StoreRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("%w: %s needs REDIS_ADDR", ErrStoreUnavailable, store)
		}
		repo = dentalchart.NewRedisRepository(deps.Redis)
	case StoreDynamo:
		if deps.Dynamo == nil || strings.TrimSpace(cfg.ChartsTable) == "" {
			return nil, fmt.Errorf("%w: %s needs AWS config and CHARTS_TABLE", ErrStoreUnavailable, store)
		}
		repo = dentalchart.NewDynamoRepository(deps.Dynamo, cfg.ChartsTable)
	default:
		return nil, fmt.Errorf("%w: unknown store %q", ErrStoreUnavailable, cfg.ChartStore)
	}
	logger.Info("chart store selected", "store", store)
	return repo, nil
}
