package stomp

import (
	"testing"

	"arenalink/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestMailbox_OverflowClosesInsteadOfBlocking(t *testing.T) {
	m := NewMailbox(2)
	assert.True(t, m.Enqueue(domain.Message{ID: "1"}))
	assert.True(t, m.Enqueue(domain.Message{ID: "2"}))
	assert.False(t, m.Enqueue(domain.Message{ID: "3"}))

	assert.True(t, m.Overflowed())
	select {
	case <-m.Done():
	default:
		t.Fatal("mailbox should be closed after overflow")
	}
	assert.False(t, m.Enqueue(domain.Message{ID: "4"}))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "1", (<-m.Messages()).ID)
}

func TestMailbox_CloseIsIdempotent(t *testing.T) {
	m := NewMailbox(0)
	m.Close()
	m.Close()
	assert.False(t, m.Overflowed())
	assert.False(t, m.Enqueue(domain.Message{ID: "late"}))
}
