package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/pkg/logger"
)

// =============================================================================
// NOTIFICATION DISPATCHER
// =============================================================================
// Accepts notifications from request handlers and delivers them on a pool of
// goroutines, decoupled from the request and its transaction.
//
// Delivery is at-most-once and best-effort:
// - Dispatch never blocks; when the queue is full the notification is dropped
// - A failed delivery is logged and counted, never retried
// - Stop drains whatever is already queued, then returns

const (
	DefaultDispatcherWorkers   = 4
	DefaultDispatcherQueueSize = 1000
	DefaultDeliveryTimeout     = 10 * time.Second
)

// NotificationSink delivers one notification to its recipients.
type NotificationSink interface {
	Deliver(ctx context.Context, n domain.Notification) error
}

// DispatcherStats is a snapshot of dispatcher counters.
type DispatcherStats struct {
	Queued    int64 `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

// NotificationDispatcher is a buffered queue drained by a worker pool.
type NotificationDispatcher struct {
	sink    NotificationSink
	queue   chan domain.Notification
	workers int
	timeout time.Duration

	queued    int64
	delivered int64
	failed    int64
	dropped   int64

	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewNotificationDispatcher creates a dispatcher. Non-positive sizes fall
// back to the defaults.
func NewNotificationDispatcher(sink NotificationSink, workers, queueSize int) *NotificationDispatcher {
	if workers <= 0 {
		workers = DefaultDispatcherWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultDispatcherQueueSize
	}
	return &NotificationDispatcher{
		sink:    sink,
		queue:   make(chan domain.Notification, queueSize),
		workers: workers,
		timeout: DefaultDeliveryTimeout,
	}
}

// SetDeliveryTimeout bounds each Deliver call.
func (d *NotificationDispatcher) SetDeliveryTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// Start launches the worker pool.
func (d *NotificationDispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("notification dispatcher already running")
	}
	d.running = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
	logger.Info("notification dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
	return nil
}

// Stop refuses new notifications, drains the queue and waits for the workers.
// A stopped dispatcher cannot be restarted.
func (d *NotificationDispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	s := d.Stats()
	logger.Info("notification dispatcher stopped",
		"delivered", s.Delivered, "failed", s.Failed, "dropped", s.Dropped)
}

// Dispatch enqueues n without blocking.
func (d *NotificationDispatcher) Dispatch(n domain.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		atomic.AddInt64(&d.dropped, 1)
		logger.Warn("notification dropped: dispatcher not running",
			"template", string(n.Template), "occurrence_id", n.OccurrenceID)
		return
	}
	select {
	case d.queue <- n:
		atomic.AddInt64(&d.queued, 1)
	default:
		atomic.AddInt64(&d.dropped, 1)
		logger.Warn("notification dropped: queue full",
			"template", string(n.Template), "occurrence_id", n.OccurrenceID)
	}
}

// Stats returns current counters.
func (d *NotificationDispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Queued:    atomic.LoadInt64(&d.queued),
		Delivered: atomic.LoadInt64(&d.delivered),
		Failed:    atomic.LoadInt64(&d.failed),
		Dropped:   atomic.LoadInt64(&d.dropped),
		Pending:   len(d.queue),
	}
}

func (d *NotificationDispatcher) workerLoop(id int) {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(id, n)
	}
}

func (d *NotificationDispatcher) deliver(worker int, n domain.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&d.failed, 1)
			logger.Error("notification sink panicked", "worker", worker, "panic", r)
		}
	}()

	if err := d.sink.Deliver(ctx, n); err != nil {
		atomic.AddInt64(&d.failed, 1)
		logger.Warn("notification delivery failed",
			"worker", worker,
			"template", string(n.Template),
			"occurrence_id", n.OccurrenceID,
			"recipients", len(n.Recipients),
			"error", err)
		return
	}
	atomic.AddInt64(&d.delivered, 1)
}

// LogSink writes notifications to the structured log instead of sending them.
type LogSink struct{}

// Deliver logs n.
func (LogSink) Deliver(_ context.Context, n domain.Notification) error {
	logger.Info("notification",
		"template", string(n.Template),
		"category", n.Category,
		"occurrence_id", n.OccurrenceID,
		"recipients", len(n.Recipients))
	return nil
}
