// Package backend owns the process-wide infrastructure handles: the
// PostgreSQL pool, the optional Redis client and the optional object store.
//
// A Client is built once at startup from configuration. The database is
// required and must answer a ping; Redis and object storage degrade to nil
// when absent or unreachable so the server can still serve reads.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // PostgreSQL driver
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/quill/pkg/config"
	"github.com/platinummonkey/quill/pkg/media"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/store"
)

// Client bundles the backend connections
type Client struct {
	DB      *sql.DB
	Store   *store.Store
	Redis   *redis.Client  // nil when not configured or unreachable
	Objects *media.S3Store // nil when not configured or unreachable

	logger *observability.Logger
}

// New opens every configured backend and runs the connectivity self-test
func New(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *observability.Logger) (*Client, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	db, err := OpenDatabase(ctx, cfg.Database.URL, cfg.Database)
	if err != nil {
		return nil, err
	}

	c := &Client{
		DB:     db,
		Store:  store.New(db, metrics),
		logger: logger,
	}

	if c.Redis, err = OpenRedis(ctx, cfg.Redis); err != nil {
		logger.WithError(err).Warn("redis unavailable, falling back to in-process caches")
		c.Redis = nil
	}

	if cfg.ObjectStore.Enabled() {
		buckets := make([]string, 0, len(media.Buckets))
		for _, b := range media.Buckets {
			buckets = append(buckets, string(b))
		}
		if c.Objects, err = media.NewS3Store(ctx, cfg.ObjectStore, buckets...); err != nil {
			logger.WithError(err).Warn("object storage unavailable, uploads disabled")
			c.Objects = nil
		}
	}

	report := c.SelfTest(ctx)
	for name, status := range report {
		logger.WithField("backend", name).Infof("self-test: %s", status)
	}
	if report["database"] != StatusOK {
		_ = c.Close()
		return nil, fmt.Errorf("database self-test failed: %s", report["database"])
	}

	return c, nil
}

// OpenDatabase opens and pings a PostgreSQL pool
func OpenDatabase(ctx context.Context, url string, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// OpenRedis connects to Redis. It returns nil, nil when no URL is configured.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Self-test outcomes
const (
	StatusOK       = "ok"
	StatusDisabled = "disabled"
)

// SelfTest pings every backend concurrently. Each entry is StatusOK,
// StatusDisabled or the failure message.
func (c *Client) SelfTest(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	checks := map[string]func(context.Context) error{
		"database":     nil,
		"redis":        nil,
		"object_store": nil,
	}
	if c.DB != nil {
		checks["database"] = c.DB.PingContext
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }
	}
	if c.Objects != nil {
		checks["object_store"] = c.Objects.HealthCheck
	}

	var mu sync.Mutex
	results := make(map[string]string, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		if check == nil {
			mu.Lock()
			results[name] = StatusDisabled
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			status := StatusOK
			if err := check(gctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ObjectPinger returns the object store as a health dependency, or a nil
// interface when storage is not available
func (c *Client) ObjectPinger() observability.Pinger {
	if c.Objects == nil {
		return nil
	}
	return c.Objects
}

// Close releases every open connection
func (c *Client) Close() error {
	var errs []error
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
