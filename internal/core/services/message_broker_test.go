package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"arenalink/internal/core/domain"
	"arenalink/internal/infrastructure/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memoryOutbox struct {
	mu       sync.Mutex
	messages []domain.Message
	closed   bool
}

func (o *memoryOutbox) Enqueue(msg domain.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.messages = append(o.messages, msg)
	return true
}

func (o *memoryOutbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

func (o *memoryOutbox) Messages() []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Message(nil), o.messages...)
}

type brokerFixture struct {
	registry *registry.SessionRegistry
	broker   *MessageBroker
	outboxes map[domain.SessionID]*memoryOutbox
}

func newBrokerFixture(t *testing.T) *brokerFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	reg := registry.NewSessionRegistry(4, nil, logger)
	return &brokerFixture{
		registry: reg,
		broker:   NewMessageBroker(reg, nil, logger),
		outboxes: make(map[domain.SessionID]*memoryOutbox),
	}
}

func (f *brokerFixture) connect(t *testing.T, id domain.SessionID, subject string) {
	t.Helper()
	var identity *domain.Identity
	if subject != "" {
		identity = domain.NewIdentity(subject, 1, domain.AccountPlayer, subject, domain.AccountPlayer.Authority())
	}
	outbox := &memoryOutbox{}
	f.outboxes[id] = outbox
	require.NoError(t, f.registry.OnConnect(id, identity, outbox))
}

func (f *brokerFixture) subscribe(t *testing.T, id domain.SessionID, subscriptionID, destination string) {
	t.Helper()
	_, err := f.broker.Route(context.Background(), domain.Frame{
		Command:        domain.CommandSubscribe,
		SessionID:      id,
		SubscriptionID: subscriptionID,
		Destination:    destination,
	})
	require.NoError(t, err)
}

func sendFrame(id domain.SessionID, destination string, payload string) domain.Frame {
	return domain.Frame{
		Command:     domain.CommandSend,
		SessionID:   id,
		Destination: destination,
		ContentType: "text/plain",
		Payload:     []byte(payload),
	}
}

func TestMessageBroker_BroadcastPreservesSenderOrder(t *testing.T) {
	f := newBrokerFixture(t)
	f.connect(t, "sender", "alice@example.com")
	f.connect(t, "r1", "")
	f.connect(t, "r2", "bob@example.com")
	f.subscribe(t, "r1", "sub-1", "/topic/lobby")
	f.subscribe(t, "r2", "sub-2", "/topic/lobby")

	const n = 50
	for i := 0; i < n; i++ {
		outcome, err := f.broker.Route(context.Background(), sendFrame("sender", "/topic/lobby", fmt.Sprint(i)))
		require.NoError(t, err)
		assert.Equal(t, 2, outcome.Delivered)
	}

	for id, subscriptionID := range map[domain.SessionID]string{"r1": "sub-1", "r2": "sub-2"} {
		messages := f.outboxes[id].Messages()
		require.Len(t, messages, n)
		for i, msg := range messages {
			assert.Equal(t, fmt.Sprint(i), string(msg.Payload))
			assert.Equal(t, subscriptionID, msg.SubscriptionID)
			assert.Equal(t, "/topic/lobby", msg.Destination)
		}
	}
	assert.Empty(t, f.outboxes["sender"].Messages())
}

func TestMessageBroker_NoSubscriberIsDroppedNotError(t *testing.T) {
	f := newBrokerFixture(t)
	f.connect(t, "sender", "")

	outcome, err := f.broker.Route(context.Background(), sendFrame("sender", "/topic/empty", "hello"))
	require.NoError(t, err)
	assert.True(t, outcome.Dropped)
	assert.Zero(t, outcome.Delivered)

	outcome, err = f.broker.Publish(context.Background(), "/user/nobody/queue/notifications", ContentTypeJSON, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, outcome.Dropped)
}

func TestMessageBroker_AnonymousSendToUserIsRejected(t *testing.T) {
	f := newBrokerFixture(t)
	f.connect(t, "alice-1", "alice@example.com")
	f.connect(t, "anon", "")

	_, err := f.broker.Route(context.Background(), sendFrame("anon", "/user/alice@example.com/inbox", "hi"))
	assert.ErrorIs(t, err, domain.ErrUnauthorizedSend)
	assert.Empty(t, f.outboxes["alice-1"].Messages())

	_, err = f.broker.Route(context.Background(), domain.Frame{
		Command:        domain.CommandSubscribe,
		SessionID:      "anon",
		SubscriptionID: "sub-0",
		Destination:    "/user/queue/notifications",
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorizedSend)

	f.subscribe(t, "anon", "sub-1", "/topic/public")
	outcome, err := f.broker.Publish(context.Background(), "/topic/public", "text/plain", []byte("open to all"))
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Delivered)
}

func TestMessageBroker_UserDestinationReachesSubscribedSessions(t *testing.T) {
	f := newBrokerFixture(t)
	f.connect(t, "bob-phone", "bob")
	f.connect(t, "bob-laptop", "bob")
	f.connect(t, "bob-tablet", "bob")
	f.connect(t, "carol", "carol")
	f.subscribe(t, "bob-phone", "n-1", "/user/queue/notifications")
	f.subscribe(t, "bob-laptop", "n-7", "/user/queue/notifications")
	f.subscribe(t, "carol", "n-1", "/user/queue/notifications")

	outcome, err := f.broker.Publish(context.Background(), "/user/bob/queue/notifications", ContentTypeJSON, []byte(`{"k":1}`))
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Delivered)

	phone := f.outboxes["bob-phone"].Messages()
	laptop := f.outboxes["bob-laptop"].Messages()
	require.Len(t, phone, 1)
	require.Len(t, laptop, 1)
	assert.Equal(t, "n-1", phone[0].SubscriptionID)
	assert.Equal(t, "n-7", laptop[0].SubscriptionID)
	assert.Equal(t, "/user/queue/notifications", phone[0].Destination)
	assert.Equal(t, phone[0].ID, laptop[0].ID)
	assert.Equal(t, phone[0].Payload, laptop[0].Payload)
	assert.Empty(t, f.outboxes["bob-tablet"].Messages())
	assert.Empty(t, f.outboxes["carol"].Messages())
}

func TestMessageBroker_UserDestinationWithoutSubscriptionIsDropped(t *testing.T) {
	f := newBrokerFixture(t)
	f.connect(t, "bob-phone", "bob")
	f.subscribe(t, "bob-phone", "m-1", "/user/queue/messages")

	outcome, err := f.broker.Publish(context.Background(), "/user/bob/queue/notifications", ContentTypeJSON, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, outcome.Dropped)
	assert.Zero(t, outcome.Delivered)
	assert.Empty(t, f.outboxes["bob-phone"].Messages())
}

func TestMessageBroker_ChatHandler(t *testing.T) {
	f := newBrokerFixture(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.broker.now = func() time.Time { return at }
	f.connect(t, "alice", "alice@example.com")
	f.connect(t, "bob", "bob@example.com")
	f.connect(t, "anon", "")
	f.subscribe(t, "bob", "m-1", "/user/queue/messages")

	outcome, err := f.broker.Route(context.Background(),
		sendFrame("alice", "/app/chat", `{"to":"bob@example.com","content":"gg"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Delivered)

	messages := f.outboxes["bob"].Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "m-1", messages[0].SubscriptionID)
	assert.Equal(t, ContentTypeJSON, messages[0].ContentType)

	var chat ChatMessage
	require.NoError(t, json.Unmarshal(messages[0].Payload, &chat))
	assert.Equal(t, "alice@example.com", chat.From)
	assert.Equal(t, "bob@example.com", chat.To)
	assert.Equal(t, "gg", chat.Content)
	assert.True(t, at.Equal(chat.SentAt))
	assert.NotEmpty(t, chat.ID)

	_, err = f.broker.Route(context.Background(), sendFrame("anon", "/app/chat", `{"to":"bob@example.com","content":"x"}`))
	assert.ErrorIs(t, err, domain.ErrUnauthorizedSend)

	for _, body := range []string{`not json`, `{"to":"","content":"x"}`, `{"to":"a/b","content":"x"}`, `{"to":"bob@example.com","content":"  "}`} {
		_, err = f.broker.Route(context.Background(), sendFrame("alice", "/app/chat", body))
		assert.ErrorIs(t, err, domain.ErrInvalidPayload, body)
	}
}

func TestMessageBroker_RejectsBadFrames(t *testing.T) {
	f := newBrokerFixture(t)
	f.connect(t, "s1", "alice@example.com")
	ctx := context.Background()

	_, err := f.broker.Route(ctx, sendFrame("s1", "/app/unknown", "x"))
	assert.ErrorIs(t, err, domain.ErrNoApplicationHandler)

	_, err = f.broker.Route(ctx, sendFrame("s1", "no-prefix", "x"))
	assert.ErrorIs(t, err, domain.ErrInvalidDestination)

	_, err = f.broker.Route(ctx, domain.Frame{Command: domain.CommandConnect, SessionID: "s1"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedCommand)

	_, err = f.broker.Route(ctx, domain.Frame{Command: domain.CommandSubscribe, SessionID: "s1", Destination: "/topic/a"})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = f.broker.Route(ctx, domain.Frame{Command: domain.CommandSubscribe, SessionID: "s1", SubscriptionID: "x", Destination: "/app/chat"})
	assert.ErrorIs(t, err, domain.ErrInvalidDestination)

	_, err = f.broker.Publish(ctx, "/app/chat", ContentTypeJSON, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidDestination)
}

func TestMessageBroker_UnsubscribeStopsDelivery(t *testing.T) {
	f := newBrokerFixture(t)
	f.connect(t, "s1", "")
	f.subscribe(t, "s1", "sub-1", "/topic/lobby")

	_, err := f.broker.Route(context.Background(), domain.Frame{
		Command: domain.CommandUnsubscribe, SessionID: "s1", SubscriptionID: "sub-1",
	})
	require.NoError(t, err)

	outcome, err := f.broker.Publish(context.Background(), "/topic/lobby", "text/plain", []byte("x"))
	require.NoError(t, err)
	assert.True(t, outcome.Dropped)
}

func TestMessageBroker_ConcurrentDisconnectDuringBroadcast(t *testing.T) {
	f := newBrokerFixture(t)
	for i := 0; i < 20; i++ {
		id := domain.SessionID(fmt.Sprintf("s%d", i))
		f.connect(t, id, "")
		f.subscribe(t, id, "sub", "/topic/busy")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, err := f.broker.Publish(context.Background(), "/topic/busy", "text/plain", []byte("x"))
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			f.registry.OnDisconnect(domain.SessionID(fmt.Sprintf("s%d", i)))
		}
	}()
	wg.Wait()

	assert.Empty(t, f.registry.SessionsFor("/topic/busy"))
}
