package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const DefaultShardCount = 32

var ErrSubscriptionIDInUse = errors.New("subscription id already in use")

type session struct {
	id            domain.SessionID
	identity      *domain.Identity
	outbox        ports.Outbox
	subscriptions map[string]string // destination -> subscription id
	bySubID       map[string]string // subscription id -> destination
	connectedAt   time.Time
}

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*session
}

// indexShard maps a key (destination or subject) to the sessions under it.
type indexShard struct {
	mu      sync.RWMutex
	entries map[string]map[domain.SessionID]string
}

func (s *indexShard) add(key string, id domain.SessionID, value string) {
	members, ok := s.entries[key]
	if !ok {
		members = make(map[domain.SessionID]string)
		s.entries[key] = members
	}
	members[id] = value
}

func (s *indexShard) remove(key string, id domain.SessionID) {
	members, ok := s.entries[key]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(s.entries, key)
	}
}

// SessionRegistry tracks live sessions, their subscriptions and the reverse
// indexes by destination and by subject. Every map is sharded and guarded by
// its own lock. Locks are always taken session shard first, then index shards,
// so a session's subscription set and the destination index change together.
type SessionRegistry struct {
	sessions     []*sessionShard
	destinations []*indexShard
	subjects     []*indexShard

	metrics ports.RealtimeMetrics
	logger  *zap.SugaredLogger
}

func NewSessionRegistry(shardCount int, metrics ports.RealtimeMetrics, logger *zap.SugaredLogger) *SessionRegistry {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := &SessionRegistry{
		sessions:     make([]*sessionShard, shardCount),
		destinations: make([]*indexShard, shardCount),
		subjects:     make([]*indexShard, shardCount),
		metrics:      metrics,
		logger:       logger,
	}
	for i := 0; i < shardCount; i++ {
		r.sessions[i] = &sessionShard{sessions: make(map[domain.SessionID]*session)}
		r.destinations[i] = &indexShard{entries: make(map[string]map[domain.SessionID]string)}
		r.subjects[i] = &indexShard{entries: make(map[string]map[domain.SessionID]string)}
	}
	return r
}

func (r *SessionRegistry) sessionShard(id domain.SessionID) *sessionShard {
	return r.sessions[xxhash.Sum64String(string(id))%uint64(len(r.sessions))]
}

func (r *SessionRegistry) destinationShard(destination string) *indexShard {
	return r.destinations[xxhash.Sum64String(destination)%uint64(len(r.destinations))]
}

func (r *SessionRegistry) subjectShard(subject string) *indexShard {
	return r.subjects[xxhash.Sum64String(subject)%uint64(len(r.subjects))]
}

func (r *SessionRegistry) OnConnect(id domain.SessionID, identity *domain.Identity, outbox ports.Outbox) error {
	if id == "" {
		return fmt.Errorf("%w: empty session id", domain.ErrSessionNotFound)
	}

	shard := r.sessionShard(id)
	shard.mu.Lock()
	if _, exists := shard.sessions[id]; exists {
		shard.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrSessionExists, id)
	}
	shard.sessions[id] = &session{
		id:            id,
		identity:      identity,
		outbox:        outbox,
		subscriptions: make(map[string]string),
		bySubID:       make(map[string]string),
		connectedAt:   time.Now(),
	}
	if identity != nil {
		key := domain.NormalizeSubject(identity.Subject)
		subjects := r.subjectShard(key)
		subjects.mu.Lock()
		subjects.add(key, id, "")
		subjects.mu.Unlock()
	}
	shard.mu.Unlock()

	r.metrics.SessionOpened(identity != nil)
	r.logger.Debugw("session registered", "session_id", id, "authenticated", identity != nil)
	return nil
}

// OnDisconnect removes the session and every index entry pointing at it.
// Disconnecting an unknown session is a no-op.
func (r *SessionRegistry) OnDisconnect(id domain.SessionID) {
	shard := r.sessionShard(id)
	shard.mu.Lock()
	s, exists := shard.sessions[id]
	if !exists {
		shard.mu.Unlock()
		return
	}
	delete(shard.sessions, id)
	for destination := range s.subscriptions {
		index := r.destinationShard(destination)
		index.mu.Lock()
		index.remove(destination, id)
		index.mu.Unlock()
	}
	if s.identity != nil {
		key := domain.NormalizeSubject(s.identity.Subject)
		subjects := r.subjectShard(key)
		subjects.mu.Lock()
		subjects.remove(key, id)
		subjects.mu.Unlock()
	}
	shard.mu.Unlock()

	if s.outbox != nil {
		s.outbox.Close()
	}
	r.metrics.SubscriptionsChanged(-len(s.subscriptions))
	r.metrics.SessionClosed(s.identity != nil)
	r.logger.Debugw("session removed", "session_id", id, "subscriptions", len(s.subscriptions))
}

// OnSubscribe is a no-op when the session already listens on destination.
func (r *SessionRegistry) OnSubscribe(id domain.SessionID, subscriptionID, destination string) error {
	shard := r.sessionShard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	s, exists := shard.sessions[id]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if _, subscribed := s.subscriptions[destination]; subscribed {
		return nil
	}
	if other, used := s.bySubID[subscriptionID]; used {
		return fmt.Errorf("%w: %q is bound to %s", ErrSubscriptionIDInUse, subscriptionID, other)
	}

	s.subscriptions[destination] = subscriptionID
	s.bySubID[subscriptionID] = destination

	index := r.destinationShard(destination)
	index.mu.Lock()
	index.add(destination, id, subscriptionID)
	index.mu.Unlock()

	r.metrics.SubscriptionsChanged(1)
	return nil
}

// OnUnsubscribe drops the subscription with the given id and returns its destination.
func (r *SessionRegistry) OnUnsubscribe(id domain.SessionID, subscriptionID string) (string, bool) {
	shard := r.sessionShard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	s, exists := shard.sessions[id]
	if !exists {
		return "", false
	}
	destination, ok := s.bySubID[subscriptionID]
	if !ok {
		return "", false
	}
	delete(s.bySubID, subscriptionID)
	delete(s.subscriptions, destination)

	index := r.destinationShard(destination)
	index.mu.Lock()
	index.remove(destination, id)
	index.mu.Unlock()

	r.metrics.SubscriptionsChanged(-1)
	return destination, true
}

// Subscribers returns a snapshot of the sessions listening on destination.
func (r *SessionRegistry) Subscribers(destination string) []domain.Subscriber {
	index := r.destinationShard(destination)
	index.mu.RLock()
	defer index.mu.RUnlock()

	members := index.entries[destination]
	out := make([]domain.Subscriber, 0, len(members))
	for id, subscriptionID := range members {
		out = append(out, domain.Subscriber{SessionID: id, SubscriptionID: subscriptionID})
	}
	return out
}

func (r *SessionRegistry) SessionsFor(destination string) []domain.SessionID {
	subscribers := r.Subscribers(destination)
	out := make([]domain.SessionID, len(subscribers))
	for i, s := range subscribers {
		out[i] = s.SessionID
	}
	return out
}

// SessionsOf returns a snapshot of the live sessions bound to subject.
func (r *SessionRegistry) SessionsOf(subject string) []domain.SessionID {
	subject = domain.NormalizeSubject(subject)
	index := r.subjectShard(subject)
	index.mu.RLock()
	defer index.mu.RUnlock()

	members := index.entries[subject]
	out := make([]domain.SessionID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

func (r *SessionRegistry) SubscriptionID(id domain.SessionID, destination string) (string, bool) {
	shard := r.sessionShard(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	s, exists := shard.sessions[id]
	if !exists {
		return "", false
	}
	subscriptionID, ok := s.subscriptions[destination]
	return subscriptionID, ok
}

func (r *SessionRegistry) IdentityOf(id domain.SessionID) (*domain.Identity, bool) {
	shard := r.sessionShard(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	s, exists := shard.sessions[id]
	if !exists || s.identity == nil {
		return nil, false
	}
	return s.identity, true
}

// Deliver hands msg to the session's outbox without blocking. It returns false
// when the session is gone or its outbox refused the message.
func (r *SessionRegistry) Deliver(id domain.SessionID, msg domain.Message) bool {
	shard := r.sessionShard(id)
	shard.mu.RLock()
	s, exists := shard.sessions[id]
	var outbox ports.Outbox
	if exists {
		outbox = s.outbox
	}
	shard.mu.RUnlock()

	if outbox == nil {
		return false
	}
	return outbox.Enqueue(msg)
}

// Snapshot returns a copy of the session entry.
func (r *SessionRegistry) Snapshot(id domain.SessionID) (domain.SessionInfo, bool) {
	shard := r.sessionShard(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	s, exists := shard.sessions[id]
	if !exists {
		return domain.SessionInfo{}, false
	}
	subscriptions := make(map[string]string, len(s.subscriptions))
	for destination, subscriptionID := range s.subscriptions {
		subscriptions[destination] = subscriptionID
	}
	status := domain.AuthUnauthenticated
	if s.identity != nil {
		status = domain.AuthAuthenticated
	}
	return domain.SessionInfo{
		ID:            s.id,
		Status:        status,
		Identity:      s.identity,
		Subscriptions: subscriptions,
		ConnectedAt:   s.connectedAt,
	}, true
}

func (r *SessionRegistry) Stats() domain.RegistryStats {
	var stats domain.RegistryStats
	for _, shard := range r.sessions {
		shard.mu.RLock()
		for _, s := range shard.sessions {
			stats.ActiveSessions++
			if s.identity != nil {
				stats.AuthenticatedSessions++
			} else {
				stats.AnonymousSessions++
			}
		}
		shard.mu.RUnlock()
	}
	for _, index := range r.destinations {
		index.mu.RLock()
		stats.Destinations += len(index.entries)
		index.mu.RUnlock()
	}
	for _, index := range r.subjects {
		index.mu.RLock()
		stats.OnlineSubjects += len(index.entries)
		index.mu.RUnlock()
	}
	return stats
}

func (r *SessionRegistry) Presence(subject string) domain.Presence {
	sessions := len(r.SessionsOf(subject))
	return domain.Presence{Subject: subject, Online: sessions > 0, Sessions: sessions}
}
