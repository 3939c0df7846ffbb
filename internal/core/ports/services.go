package ports

import (
	"context"
	"time"

	"arenalink/internal/core/domain"
)

type TokenService interface {
	Issue(identity *domain.Identity, ttl time.Duration) (string, time.Time, error)
	Verify(token string) (string, error)
	SafeVerify(token string) (string, bool)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, subject string) (*domain.Identity, error)
}

// Outbox is a session's outbound queue. Enqueue never blocks.
type Outbox interface {
	Enqueue(msg domain.Message) bool
	Close()
}

type SessionRegistry interface {
	OnConnect(id domain.SessionID, identity *domain.Identity, outbox Outbox) error
	OnDisconnect(id domain.SessionID)
	OnSubscribe(id domain.SessionID, subscriptionID, destination string) error
	OnUnsubscribe(id domain.SessionID, subscriptionID string) (string, bool)
	SessionsFor(destination string) []domain.SessionID
	Subscribers(destination string) []domain.Subscriber
	SessionsOf(subject string) []domain.SessionID
	SubscriptionID(id domain.SessionID, destination string) (string, bool)
	IdentityOf(id domain.SessionID) (*domain.Identity, bool)
	Deliver(id domain.SessionID, msg domain.Message) bool
	Stats() domain.RegistryStats
	Presence(subject string) domain.Presence
}

type MessageBroker interface {
	Route(ctx context.Context, frame domain.Frame) (domain.RouteOutcome, error)
	Publish(ctx context.Context, destination, contentType string, payload []byte) (domain.RouteOutcome, error)
}

type Notifier interface {
	Notify(ctx context.Context, event domain.NotificationEvent) error
}
