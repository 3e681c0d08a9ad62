package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/comms-planner/internal/api"
	"github.com/ignite/comms-planner/internal/config"
	"github.com/ignite/comms-planner/internal/counters"
	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/pkg/distlock"
	"github.com/ignite/comms-planner/internal/pkg/logger"
	"github.com/ignite/comms-planner/internal/repository/memory"
	"github.com/ignite/comms-planner/internal/repository/postgres"
	"github.com/ignite/comms-planner/internal/ses"
	"github.com/ignite/comms-planner/internal/service/access"
	"github.com/ignite/comms-planner/internal/service/notify"
	"github.com/ignite/comms-planner/internal/service/occurrence"
	"github.com/ignite/comms-planner/internal/service/recurrence"
	"github.com/ignite/comms-planner/internal/service/series"
	"github.com/ignite/comms-planner/internal/worker"
)

// backends groups every store contract the engine needs.
type backends struct {
	occurrences interface {
		series.Repository
		access.OccurrenceReader
	}
	plans     occurrence.PlanReader
	orgs      occurrence.OrgReader
	directory interface {
		access.Directory
		ses.UserResolver
	}
	grants access.GrantStore
	rules  notify.RuleStore
}

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func fatal(msg string, fields ...interface{}) {
	logger.Error(msg, fields...)
	os.Exit(1)
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		fatal("failed to load config", "path", configPath, "error", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactPII)

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		fatal("pre-flight check failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var (
		db    *sql.DB
		store backends
	)
	switch cfg.Storage.Type {
	case "memory":
		mem := memory.New()
		store = backends{occurrences: mem, plans: mem, orgs: mem, directory: mem, grants: mem, rules: mem}
		logger.Warn("using in-memory storage; data is lost on restart")
	case "postgres":
		db, err = postgres.Open(ctx, cfg.Database)
		if err != nil {
			fatal("failed to connect to database", "host", extractHost(cfg.Database.URL), "error", err)
		}
		defer db.Close()
		plans := postgres.NewPlanRepo(db)
		store = backends{
			occurrences: postgres.NewOccurrenceRepo(db),
			plans:       plans,
			orgs:        plans,
			directory:   postgres.NewDirectoryRepo(db),
			grants:      postgres.NewGrantRepo(db),
			rules:       postgres.NewRuleRepo(db),
		}
		logger.Info("connected to database", "host", extractHost(cfg.Database.URL))
	default:
		fatal("unknown storage type", "type", cfg.Storage.Type)
	}

	// Redis backs the plan counters and the optional series lock.
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			fatal("invalid REDIS_URL", "error", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; counters and series lock disabled", "error", err)
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// Notifications
	var (
		dispatcher notify.Dispatcher = discard{}
		queue      *worker.NotificationDispatcher
	)
	if cfg.Notifications.Enabled {
		var sink worker.NotificationSink = worker.LogSink{}
		if cfg.Notifications.Sink == "ses" {
			sesSink, err := ses.NewClient(ctx, cfg.SES, cfg.Notifications, store.directory)
			if err != nil {
				fatal("failed to initialize SES sink", "error", err)
			}
			sink = sesSink
		}
		queue = worker.NewNotificationDispatcher(sink, cfg.Notifications.Workers, cfg.Notifications.QueueSize)
		queue.SetDeliveryTimeout(cfg.Notifications.DeliveryTimeout())
		if err := queue.Start(); err != nil {
			fatal("failed to start notification dispatcher", "error", err)
		}
		dispatcher = queue
	}

	// Engine
	propagator := access.NewPropagator(store.occurrences, store.directory, store.grants)
	seriesStore := series.NewStore(store.occurrences, recurrence.ForCeiling(cfg.Engine.MaxOccurrences), propagator)
	if cfg.Engine.SeriesLockEnabled {
		if redisClient == nil {
			logger.Warn("series lock requested but redis is not available")
		}
		seriesStore.SetLockFactory(distlock.NewRedisFactory(redisClient, cfg.Engine.SeriesLockTTL()))
	}
	svc := occurrence.NewService(store.occurrences, seriesStore, store.plans, store.orgs, propagator,
		notify.NewDiffNotifier(store.rules, dispatcher),
		occurrence.Config{MaxOccurrences: cfg.Engine.MaxOccurrences})
	if redisClient != nil {
		svc.SetCounter(counters.NewPlanCounter(redisClient, ""))
	}

	// HTTP
	var stats api.QueueStats
	if queue != nil {
		stats = queue
	}
	health := api.NewHealthChecker(db, redisClient, stats, cfg.Notifications.QueueSize)
	router := api.SetupRoutes(api.NewOccurrenceHandlers(svc), health, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "addr", server.Addr,
			"storage", cfg.Storage.Type, "max_occurrences", cfg.Engine.MaxOccurrences)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("server error", "error", err)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	// Requests have drained; flush what they queued.
	if queue != nil {
		queue.Stop()
	}
	logger.Info("server stopped")
}

// discard drops notifications when delivery is disabled.
type discard struct{}

func (discard) Dispatch(domain.Notification) {}
