package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"
	"arenalink/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel carries notification events produced by other backend services.
const DefaultChannel = "arenalink:notifications"

// EventType represents the type of event
type EventType string

const (
	EventNotification EventType = "notification"
)

// Event is the envelope published on the channel.
type Event struct {
	Type         EventType                 `json:"type"`
	Source       string                    `json:"source,omitempty"`
	Timestamp    time.Time                 `json:"timestamp"`
	Notification *domain.NotificationEvent `json:"notification,omitempty"`
}

var ErrAlreadySubscribed = errors.New("event bus already subscribed")

// EventBus feeds notification events received over Redis pub/sub into the
// local Notifier. It is an ingress only: nothing is republished.
type EventBus struct {
	client   redis.UniversalClient
	channel  string
	source   string
	notifier ports.Notifier
	logger   *zap.SugaredLogger
	retry    retry.Config

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewEventBus creates a new event bus. An empty channel uses DefaultChannel.
func NewEventBus(client redis.UniversalClient, channel, source string, notifier ports.Notifier, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventBus{
		client:   client,
		channel:  channel,
		source:   source,
		notifier: notifier,
		logger:   logger,
		retry:    retry.DefaultConfig(),
	}
}

// WithRetry sets the backoff used while waiting for the subscription.
func (eb *EventBus) WithRetry(cfg retry.Config) *EventBus {
	eb.retry = cfg
	return eb
}

// Publish sends a notification event to the channel. Producers in other
// services use the same envelope.
func (eb *EventBus) Publish(ctx context.Context, notification domain.NotificationEvent) error {
	data, err := json.Marshal(Event{
		Type:         EventNotification,
		Source:       eb.source,
		Timestamp:    time.Now().UTC(),
		Notification: &notification,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Run subscribes to the channel and hands every event to the notifier until
// ctx is cancelled or the subscription is closed.
func (eb *EventBus) Run(ctx context.Context) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return ErrAlreadySubscribed
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()
	defer pubsub.Close()

	// Wait for the subscription confirmation so early publishes are not lost.
	err := retry.Do(ctx, eb.retry, func(ctx context.Context) error {
		_, err := pubsub.Receive(ctx)
		if err != nil {
			eb.logger.Warnw("event bus subscription not confirmed", "channel", eb.channel, "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}
	eb.logger.Infow("event bus subscribed", "channel", eb.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (eb *EventBus) handle(ctx context.Context, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		eb.logger.Warnw("failed to unmarshal event",
			"error", err,
			"channel", eb.channel,
		)
		return
	}

	if event.Type != EventNotification || event.Notification == nil {
		eb.logger.Debugw("ignoring event", "type", event.Type, "source", event.Source)
		return
	}

	if err := eb.notifier.Notify(ctx, *event.Notification); err != nil {
		eb.logger.Warnw("error handling event",
			"type", event.Type,
			"source", event.Source,
			"recipient", event.Notification.RecipientSubject,
			"error", err,
		)
	}
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
