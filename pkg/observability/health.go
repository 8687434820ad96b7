package observability

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/quill/pkg/httputil"
)

// Pinger is any dependency that can report its own health
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthChecker provides liveness and readiness probes
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	objects Pinger
	metrics *Metrics
	version string
}

// NewHealthChecker creates a new health checker. Any dependency may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, objects Pinger, metrics *Metrics, version string) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redisClient,
		objects: objects,
		metrics: metrics,
		version: version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness always returns 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness checks all dependencies; 503 only when the database is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	_ = httputil.WriteJSON(w, code, status)
}

// Check probes the database (required), Redis and object storage (optional) concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	var mu sync.Mutex
	record := func(name string, dep DependencyStatus, required bool) {
		mu.Lock()
		defer mu.Unlock()
		status.Dependencies[name] = dep
		switch {
		case dep.Status == StatusUnhealthy && required:
			status.Status = StatusUnhealthy
		case dep.Status != StatusHealthy && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}

	var g errgroup.Group
	if h.db != nil {
		g.Go(func() error {
			record("database", h.checkDatabase(ctx), true)
			return nil
		})
	}
	if h.redis != nil {
		g.Go(func() error {
			record("redis", probe(ctx, func(ctx context.Context) error { return h.redis.Ping(ctx).Err() }), false)
			return nil
		})
	}
	if h.objects != nil {
		g.Go(func() error {
			record("object_storage", probe(ctx, h.objects.HealthCheck), false)
			return nil
		})
	}
	_ = g.Wait()

	return status
}

func probe(ctx context.Context, fn func(context.Context) error) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{Status: StatusHealthy, Timestamp: start}

	err := fn(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	status := probe(ctx, func(ctx context.Context) error {
		var one int
		return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
	if status.Status != StatusHealthy {
		return status
	}

	stats := h.db.Stats()
	if h.metrics != nil {
		h.metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
		h.metrics.DBConnectionsIdle.Set(float64(stats.Idle))
	}
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		status.Status = StatusDegraded
		status.Message = "connection pool exhausted"
	}

	return status
}
