package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"
	"arenalink/pkg/idgen"
	"arenalink/pkg/tracing"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

var ErrFanoutStopped = errors.New("notification fanout stopped")

type NotificationFanoutConfig struct {
	Workers   int
	QueueSize int
}

func DefaultNotificationFanoutConfig() NotificationFanoutConfig {
	return NotificationFanoutConfig{Workers: 4, QueueSize: 1024}
}

type queuedNotification struct {
	ctx   context.Context
	event domain.NotificationEvent
}

// NotificationFanout turns domain events into user-directed messages. Events
// for one recipient always land on the same worker, so they are published in
// the order they were accepted.
type NotificationFanout struct {
	broker  ports.MessageBroker
	ids     *idgen.Generator
	now     func() time.Time
	metrics ports.RealtimeMetrics
	logger  *zap.SugaredLogger

	queues []chan queuedNotification
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

func NewNotificationFanout(broker ports.MessageBroker, cfg NotificationFanoutConfig, metrics ports.RealtimeMetrics, logger *zap.SugaredLogger) *NotificationFanout {
	defaults := DefaultNotificationFanoutConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	queues := make([]chan queuedNotification, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan queuedNotification, cfg.QueueSize)
	}
	return &NotificationFanout{
		broker:  broker,
		ids:     idgen.NewGenerator(nil),
		now:     time.Now,
		metrics: metrics,
		logger:  logger,
		queues:  queues,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (n *NotificationFanout) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started || n.stopped {
		return
	}
	n.started = true
	for i, q := range n.queues {
		n.wg.Add(1)
		go n.worker(i, q)
	}
	n.logger.Infow("notification fanout started", "workers", len(n.queues))
}

// Stop refuses new events and waits for the queued ones to drain, or for ctx.
func (n *NotificationFanout) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	for _, q := range n.queues {
		close(q)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify validates and queues event. It never waits for delivery; when the
// recipient's queue is full the event is dropped and counted.
func (n *NotificationFanout) Notify(ctx context.Context, event domain.NotificationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = n.ids.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = n.now().UTC()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		return ErrFanoutStopped
	}

	q := n.queues[n.shardFor(event.RecipientSubject)]
	select {
	case q <- queuedNotification{ctx: context.WithoutCancel(ctx), event: event}:
		n.metrics.NotificationQueued()
	default:
		n.metrics.NotificationDropped("queue_full")
		n.logger.Warnw("notification queue full, dropping event",
			"notification_id", event.ID,
			"recipient", event.RecipientSubject,
			"kind", event.Kind,
		)
	}
	return nil
}

// shardFor picks the worker queue for a recipient. Subjects that differ only
// in case or surrounding space share a queue, so their events stay ordered.
func (n *NotificationFanout) shardFor(subject string) int {
	return int(xxhash.Sum64String(domain.NormalizeSubject(subject)) % uint64(len(n.queues)))
}

func (n *NotificationFanout) worker(index int, q <-chan queuedNotification) {
	defer n.wg.Done()
	for item := range q {
		n.deliver(item.ctx, item.event)
	}
	n.logger.Debugw("notification worker exited", "worker", index)
}

func (n *NotificationFanout) deliver(ctx context.Context, event domain.NotificationEvent) {
	ctx, span := tracing.TraceNotification(ctx, string(event.Kind), event.RecipientSubject)
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		tracing.RecordError(ctx, err)
		n.metrics.NotificationDropped("encode")
		n.logger.Errorw("failed to encode notification", "notification_id", event.ID, "error", err)
		return
	}

	destination := domain.UserDestination(event.RecipientSubject, domain.NotificationsPath)
	outcome, err := n.broker.Publish(ctx, destination, ContentTypeJSON, payload)
	if err != nil {
		tracing.RecordError(ctx, err)
		n.metrics.NotificationDropped("publish")
		n.logger.Errorw("failed to publish notification",
			"notification_id", event.ID, "destination", destination, "error", err)
		return
	}
	if outcome.Dropped {
		n.logger.Debugw("recipient offline, notification not delivered live",
			"notification_id", event.ID, "recipient", event.RecipientSubject)
	}
}
