package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/comms-planner/internal/pkg/httputil"
	"github.com/ignite/comms-planner/internal/worker"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded", "not_configured"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// QueueStats reports notification dispatcher counters.
type QueueStats interface {
	Stats() worker.DispatcherStats
}

// HealthChecker reports on the database, Redis and the notification queue.
// Any dependency can be nil; it is then reported as "not_configured".
type HealthChecker struct {
	db            *sql.DB
	redisClient   *redis.Client
	notifications QueueStats
	queueCapacity int
	startTime     time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, notifications QueueStats, queueCapacity int) *HealthChecker {
	return &HealthChecker{
		db:            db,
		redisClient:   redisClient,
		notifications: notifications,
		queueCapacity: queueCapacity,
		startTime:     time.Now(),
	}
}

const healthVersion = "1.0.0"

// HandleHealth returns the status of every component. Always 200; the body
// carries the verdict.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	httputil.OK(w, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  time.Since(hc.startTime).Round(time.Second).String(),
		Checks:  checks,
	})
}

// HandleReadiness returns 503 when a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	ready := overall != "unhealthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 3)

	go func() { ch <- result{"database", hc.checkDatabase(ctx)} }()
	go func() { ch <- result{"redis", hc.checkRedis(ctx)} }()
	go func() { ch <- result{"notifications", hc.checkNotifications()} }()

	checks := make(map[string]ComponentCheck, 3)
	for i := 0; i < 3; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

// checkDatabase pings PostgreSQL with a 3-second timeout.
func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(pingCtx)
	return latencyCheck(time.Since(start), err, time.Second)
}

// checkRedis pings Redis with a 2-second timeout.
func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.redisClient.Ping(pingCtx).Err()
	return latencyCheck(time.Since(start), err, 500*time.Millisecond)
}

// checkNotifications reports degraded once the queue is 80% full.
func (hc *HealthChecker) checkNotifications() ComponentCheck {
	if hc.notifications == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	s := hc.notifications.Stats()
	msg := fmt.Sprintf("pending=%d delivered=%d failed=%d dropped=%d", s.Pending, s.Delivered, s.Failed, s.Dropped)
	if hc.queueCapacity > 0 && s.Pending*5 >= hc.queueCapacity*4 {
		return ComponentCheck{Status: "degraded", Message: msg}
	}
	return ComponentCheck{Status: "up", Message: msg}
}

func latencyCheck(latency time.Duration, err error, slow time.Duration) ComponentCheck {
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	if latency > slow {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

// determineOverallStatus: the database is critical, everything else only
// degrades.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	overall := "healthy"
	for name, c := range checks {
		switch c.Status {
		case "down":
			if name == "database" {
				return "unhealthy"
			}
			overall = "degraded"
		case "degraded":
			overall = "degraded"
		}
	}
	return overall
}
