// Package idgen produces the identifiers used across the realtime core:
// random UUIDs for sessions and sortable ULIDs for messages and notifications.
package idgen

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var ErrInvalid = errors.New("idgen: invalid ulid")

// SessionID returns a random v4 UUID.
func SessionID() string {
	return uuid.NewString()
}

// Generator hands out monotonic ULIDs and is safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0), now: now}
}

func (g *Generator) New() string {
	return g.NewAt(g.now())
}

func (g *Generator) NewAt(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t.UTC()), g.entropy).String()
}

var (
	globalOnce sync.Once
	global     *Generator
)

// ULID returns a new id from the process-wide generator.
func ULID() string {
	globalOnce.Do(func() { global = NewGenerator(nil) })
	return global.New()
}

func Parse(s string) (ulid.ULID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ulid.ULID{}, ErrInvalid
	}
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return ulid.ULID{}, ErrInvalid
	}
	return id, nil
}

// Time extracts the millisecond timestamp embedded in a ULID string.
func Time(s string) (time.Time, error) {
	id, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()).UTC(), nil
}
