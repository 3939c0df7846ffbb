package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"
	"arenalink/pkg/idgen"
	"arenalink/pkg/tracing"
	"arenalink/pkg/validation"

	"go.uber.org/zap"
)

const (
	ContentTypeJSON = "application/json"
	ChatAppPath     = "chat"
)

// AppHandler serves SEND frames addressed to /app/{path}. sender is nil for
// anonymous sessions.
type AppHandler func(ctx context.Context, sender *domain.Identity, frame domain.Frame) (domain.RouteOutcome, error)

// MessageBroker routes client frames and server-originated publications to
// the sessions held by the registry. Delivery goes through each session's
// outbox and never blocks on a receiver.
type MessageBroker struct {
	registry ports.SessionRegistry
	ids      *idgen.Generator
	now      func() time.Time
	metrics  ports.RealtimeMetrics
	logger   *zap.SugaredLogger

	mu       sync.RWMutex
	handlers map[string]AppHandler
}

func NewMessageBroker(registry ports.SessionRegistry, metrics ports.RealtimeMetrics, logger *zap.SugaredLogger) *MessageBroker {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	b := &MessageBroker{
		registry: registry,
		ids:      idgen.NewGenerator(nil),
		now:      time.Now,
		metrics:  metrics,
		logger:   logger,
		handlers: make(map[string]AppHandler),
	}
	b.HandleApp(ChatAppPath, b.handleChat)
	return b
}

// HandleApp registers h for /app/{path}, replacing any previous handler.
func (b *MessageBroker) HandleApp(path string, h AppHandler) {
	b.mu.Lock()
	b.handlers[strings.Trim(path, "/")] = h
	b.mu.Unlock()
}

func (b *MessageBroker) appHandler(path string) (AppHandler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[path]
	return h, ok
}

func (b *MessageBroker) Route(ctx context.Context, frame domain.Frame) (domain.RouteOutcome, error) {
	switch frame.Command {
	case domain.CommandSend:
		return b.send(ctx, frame)
	case domain.CommandSubscribe:
		return domain.RouteOutcome{}, b.subscribe(ctx, frame)
	case domain.CommandUnsubscribe:
		if _, ok := b.registry.OnUnsubscribe(frame.SessionID, frame.SubscriptionID); !ok {
			b.logger.Debugw("unsubscribe for unknown subscription",
				"session_id", frame.SessionID, "subscription_id", frame.SubscriptionID)
		}
		return domain.RouteOutcome{}, nil
	}
	return domain.RouteOutcome{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedCommand, frame.Command)
}

// Publish delivers a server-originated message. No identity gate applies.
func (b *MessageBroker) Publish(ctx context.Context, destination, contentType string, payload []byte) (domain.RouteOutcome, error) {
	dest, err := domain.ParseDestination(destination)
	if err != nil {
		return domain.RouteOutcome{}, err
	}
	switch dest.Kind {
	case domain.DestinationUser:
		subject, path, err := dest.UserTarget()
		if err != nil {
			return domain.RouteOutcome{}, err
		}
		return b.deliverToUser(ctx, subject, path, contentType, payload), nil
	case domain.DestinationApp:
		return domain.RouteOutcome{}, fmt.Errorf("%w: cannot publish to %s", domain.ErrInvalidDestination, destination)
	}
	return b.broadcast(ctx, dest, contentType, payload), nil
}

func (b *MessageBroker) identityOf(ctx context.Context, id domain.SessionID) *domain.Identity {
	if identity, ok := domain.IdentityFromContext(ctx); ok {
		return identity
	}
	if identity, ok := b.registry.IdentityOf(id); ok {
		return identity
	}
	return nil
}

func (b *MessageBroker) send(ctx context.Context, frame domain.Frame) (domain.RouteOutcome, error) {
	dest, err := domain.ParseDestination(frame.Destination)
	if err != nil {
		return domain.RouteOutcome{}, err
	}
	sender := b.identityOf(ctx, frame.SessionID)

	switch dest.Kind {
	case domain.DestinationUser:
		if sender == nil {
			return domain.RouteOutcome{}, fmt.Errorf("%w: %s requires an authenticated session", domain.ErrUnauthorizedSend, frame.Destination)
		}
		subject, path, err := dest.UserTarget()
		if err != nil {
			return domain.RouteOutcome{}, err
		}
		return b.deliverToUser(ctx, subject, path, frame.ContentType, frame.Payload), nil
	case domain.DestinationApp:
		h, ok := b.appHandler(dest.AppPath())
		if !ok {
			return domain.RouteOutcome{}, fmt.Errorf("%w: %s", domain.ErrNoApplicationHandler, frame.Destination)
		}
		return h(ctx, sender, frame)
	}
	return b.broadcast(ctx, dest, frame.ContentType, frame.Payload), nil
}

func (b *MessageBroker) subscribe(ctx context.Context, frame domain.Frame) error {
	if err := validation.ValidateSubscriptionID(frame.SubscriptionID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	dest, err := domain.ParseDestination(frame.Destination)
	if err != nil {
		return err
	}
	switch dest.Kind {
	case domain.DestinationApp:
		return fmt.Errorf("%w: %s accepts SEND only", domain.ErrInvalidDestination, frame.Destination)
	case domain.DestinationUser:
		if b.identityOf(ctx, frame.SessionID) == nil {
			return fmt.Errorf("%w: %s requires an authenticated session", domain.ErrUnauthorizedSend, frame.Destination)
		}
	}
	return b.registry.OnSubscribe(frame.SessionID, frame.SubscriptionID, frame.Destination)
}

func (b *MessageBroker) broadcast(ctx context.Context, dest domain.Destination, contentType string, payload []byte) domain.RouteOutcome {
	ctx, span := tracing.TracePublish(ctx, dest.Raw, dest.Kind.String())
	defer span.End()

	id := b.ids.New()
	delivered := 0
	for _, s := range b.registry.Subscribers(dest.Raw) {
		msg := domain.Message{
			ID:             id,
			Destination:    dest.Raw,
			SubscriptionID: s.SubscriptionID,
			ContentType:    contentType,
			Payload:        payload,
		}
		if b.registry.Deliver(s.SessionID, msg) {
			delivered++
		}
	}
	return b.outcome(ctx, dest.Kind.String(), dest.Raw, delivered)
}

// deliverToUser sends to every live session of subject subscribed to the
// user-relative destination. Each copy carries that session's subscription id.
func (b *MessageBroker) deliverToUser(ctx context.Context, subject, path, contentType string, payload []byte) domain.RouteOutcome {
	relative := domain.UserRelative(path)
	ctx, span := tracing.TracePublish(ctx, domain.UserDestination(subject, path), domain.DestinationUser.String())
	defer span.End()

	id := b.ids.New()
	delivered, unsubscribed := 0, 0
	for _, sessionID := range b.registry.SessionsOf(subject) {
		subscriptionID, ok := b.registry.SubscriptionID(sessionID, relative)
		if !ok {
			unsubscribed++
			continue
		}
		msg := domain.Message{
			ID:             id,
			Destination:    relative,
			SubscriptionID: subscriptionID,
			ContentType:    contentType,
			Payload:        payload,
		}
		if b.registry.Deliver(sessionID, msg) {
			delivered++
		}
	}
	if unsubscribed > 0 {
		b.logger.Debugw("skipped sessions without a subscription",
			"destination", domain.UserDestination(subject, path), "sessions", unsubscribed)
	}
	return b.outcome(ctx, domain.DestinationUser.String(), domain.UserDestination(subject, path), delivered)
}

func (b *MessageBroker) outcome(ctx context.Context, kind, destination string, delivered int) domain.RouteOutcome {
	tracing.AddSpanAttributes(ctx, tracing.DeliveredKey.Int(delivered))
	if delivered == 0 {
		b.metrics.Dropped(kind)
		b.logger.Debugw("no live receiver", "destination", destination)
		return domain.RouteOutcome{Dropped: true}
	}
	b.metrics.Delivered(kind, delivered)
	return domain.RouteOutcome{Delivered: delivered}
}

type chatRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

// ChatMessage is the payload delivered on /user/queue/messages.
type ChatMessage struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

func (b *MessageBroker) handleChat(ctx context.Context, sender *domain.Identity, frame domain.Frame) (domain.RouteOutcome, error) {
	if sender == nil {
		return domain.RouteOutcome{}, fmt.Errorf("%w: chat requires an authenticated session", domain.ErrUnauthorizedSend)
	}
	var req chatRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return domain.RouteOutcome{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	req.To = strings.TrimSpace(req.To)
	if req.To == "" || strings.Contains(req.To, "/") {
		return domain.RouteOutcome{}, fmt.Errorf("%w: invalid recipient", domain.ErrInvalidPayload)
	}
	if err := validation.ValidateChatContent(req.Content); err != nil {
		return domain.RouteOutcome{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	body, err := json.Marshal(ChatMessage{
		ID:      b.ids.New(),
		From:    sender.Subject,
		To:      req.To,
		Content: req.Content,
		SentAt:  b.now().UTC(),
	})
	if err != nil {
		return domain.RouteOutcome{}, fmt.Errorf("encode chat message: %w", err)
	}
	return b.deliverToUser(ctx, req.To, domain.MessagesPath, ContentTypeJSON, body), nil
}
