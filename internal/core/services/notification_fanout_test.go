package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingMetrics struct {
	ports.NopMetrics
	mu      sync.Mutex
	queued  int
	dropped map[string]int
}

func (m *countingMetrics) NotificationQueued() {
	m.mu.Lock()
	m.queued++
	m.mu.Unlock()
}

func (m *countingMetrics) NotificationDropped(reason string) {
	m.mu.Lock()
	if m.dropped == nil {
		m.dropped = make(map[string]int)
	}
	m.dropped[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) DroppedCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}

func followerEvent(recipient string) domain.NotificationEvent {
	return domain.NotificationEvent{
		RecipientSubject: recipient,
		RecipientType:    domain.AccountPlayer,
		SenderSubject:    "alice@example.com",
		SenderType:       domain.AccountPlayer,
		Kind:             domain.NotificationNewFollower,
		Message:          "alice started following you",
		Metadata:         json.RawMessage(`{"followerId":7}`),
	}
}

func TestNotificationFanout_MultiDeviceDelivery(t *testing.T) {
	f := newBrokerFixture(t)
	f.connect(t, "bob-1", "bob")
	f.connect(t, "bob-2", "bob")
	f.subscribe(t, "bob-1", "n", "/user/queue/notifications")
	f.subscribe(t, "bob-2", "n", "/user/queue/notifications")

	fanout := NewNotificationFanout(f.broker, NotificationFanoutConfig{Workers: 2, QueueSize: 8}, nil, zaptest.NewLogger(t).Sugar())
	fanout.Start()
	t.Cleanup(func() { _ = fanout.Stop(context.Background()) })

	require.NoError(t, fanout.Notify(context.Background(), followerEvent("bob")))

	require.Eventually(t, func() bool {
		return len(f.outboxes["bob-1"].Messages()) == 1 && len(f.outboxes["bob-2"].Messages()) == 1
	}, time.Second, 5*time.Millisecond)

	first := f.outboxes["bob-1"].Messages()[0]
	second := f.outboxes["bob-2"].Messages()[0]
	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, "/user/queue/notifications", first.Destination)

	var event domain.NotificationEvent
	require.NoError(t, json.Unmarshal(first.Payload, &event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())
	assert.Equal(t, domain.NotificationNewFollower, event.Kind)
	assert.JSONEq(t, `{"followerId":7}`, string(event.Metadata))

	// A duplicate copy would show up shortly after the first.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.outboxes["bob-1"].Messages(), 1)
	assert.Len(t, f.outboxes["bob-2"].Messages(), 1)
}

func TestNotificationFanout_OfflineRecipientIsNotAnError(t *testing.T) {
	f := newBrokerFixture(t)
	fanout := NewNotificationFanout(f.broker, NotificationFanoutConfig{Workers: 1, QueueSize: 1}, nil, zaptest.NewLogger(t).Sugar())
	fanout.Start()

	assert.NoError(t, fanout.Notify(context.Background(), followerEvent("nobody")))
	require.NoError(t, fanout.Stop(context.Background()))
}

func TestNotificationFanout_RejectsInvalidEvents(t *testing.T) {
	f := newBrokerFixture(t)
	fanout := NewNotificationFanout(f.broker, DefaultNotificationFanoutConfig(), nil, nil)

	event := followerEvent("bob")
	event.Kind = "SOMETHING_ELSE"
	assert.ErrorIs(t, fanout.Notify(context.Background(), event), domain.ErrInvalidNotification)

	event = followerEvent("")
	assert.ErrorIs(t, fanout.Notify(context.Background(), event), domain.ErrInvalidNotification)

	event = followerEvent("bob")
	event.Metadata = json.RawMessage(`{broken`)
	assert.ErrorIs(t, fanout.Notify(context.Background(), event), domain.ErrInvalidNotification)
}

func TestNotificationFanout_FullQueueDrops(t *testing.T) {
	f := newBrokerFixture(t)
	metrics := &countingMetrics{}
	fanout := NewNotificationFanout(f.broker, NotificationFanoutConfig{Workers: 1, QueueSize: 1}, metrics, zaptest.NewLogger(t).Sugar())

	// Workers are not started, so the single slot fills immediately.
	require.NoError(t, fanout.Notify(context.Background(), followerEvent("bob")))
	require.NoError(t, fanout.Notify(context.Background(), followerEvent("bob")))

	assert.Equal(t, 1, metrics.queued)
	assert.Equal(t, 1, metrics.DroppedCount("queue_full"))
}

func TestNotificationFanout_StopDrainsAndRefuses(t *testing.T) {
	f := newBrokerFixture(t)
	f.connect(t, "bob-1", "bob")
	f.subscribe(t, "bob-1", "n", "/user/queue/notifications")
	fanout := NewNotificationFanout(f.broker, NotificationFanoutConfig{Workers: 2, QueueSize: 16}, nil, zaptest.NewLogger(t).Sugar())
	fanout.Start()

	for i := 0; i < 10; i++ {
		require.NoError(t, fanout.Notify(context.Background(), followerEvent("bob")))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fanout.Stop(ctx))

	messages := f.outboxes["bob-1"].Messages()
	require.Len(t, messages, 10)
	var previous string
	for _, msg := range messages {
		var event domain.NotificationEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		assert.Greater(t, event.ID, previous)
		previous = event.ID
	}

	assert.ErrorIs(t, fanout.Notify(context.Background(), followerEvent("bob")), ErrFanoutStopped)
	assert.NoError(t, fanout.Stop(context.Background()))
}

func TestNotificationFanout_RecipientCaseSharesWorker(t *testing.T) {
	f := newBrokerFixture(t)
	f.connect(t, "bob-1", "bob@example.com")
	f.subscribe(t, "bob-1", "n", "/user/queue/notifications")
	fanout := NewNotificationFanout(f.broker, NotificationFanoutConfig{Workers: 16, QueueSize: 64}, nil, zaptest.NewLogger(t).Sugar())

	spellings := []string{"bob@example.com", "Bob@Example.com", "BOB@EXAMPLE.COM", "bOb@example.COM"}
	for _, subject := range append(spellings, "  bob@example.com ") {
		assert.Equal(t, fanout.shardFor("bob@example.com"), fanout.shardFor(subject), subject)
	}

	fanout.Start()
	for i := 0; i < 20; i++ {
		require.NoError(t, fanout.Notify(context.Background(), followerEvent(spellings[i%len(spellings)])))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fanout.Stop(ctx))

	messages := f.outboxes["bob-1"].Messages()
	require.Len(t, messages, 20)
	var previous string
	for _, msg := range messages {
		var event domain.NotificationEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		assert.Greater(t, event.ID, previous)
		previous = event.ID
	}
}
