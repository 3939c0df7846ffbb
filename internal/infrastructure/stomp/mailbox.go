package stomp

import (
	"sync"

	"arenalink/internal/core/domain"
)

// Mailbox is a session's bounded outbound queue. Enqueue never blocks: when
// the queue is full the mailbox marks itself overflowed and closes, and the
// connection's writer ends the session.
type Mailbox struct {
	ch   chan domain.Message
	done chan struct{}

	mu         sync.Mutex
	closed     bool
	overflowed bool
}

func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = 1
	}
	return &Mailbox{
		ch:   make(chan domain.Message, size),
		done: make(chan struct{}),
	}
}

func (m *Mailbox) Enqueue(msg domain.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.ch <- msg:
		return true
	default:
		m.overflowed = true
		m.closeLocked()
		return false
	}
}

func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closeLocked()
	m.mu.Unlock()
}

func (m *Mailbox) closeLocked() {
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

// Messages is never closed; select on Done as well.
func (m *Mailbox) Messages() <-chan domain.Message { return m.ch }

func (m *Mailbox) Done() <-chan struct{} { return m.done }

func (m *Mailbox) Overflowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overflowed
}

func (m *Mailbox) Len() int { return len(m.ch) }
