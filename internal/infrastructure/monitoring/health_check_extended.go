package monitoring

import (
	"context"
	"errors"
	"time"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// sentinelSubject is never registered; looking it up exercises the store's
// read path without depending on seeded data.
const sentinelSubject = "healthcheck@arenalink.invalid"

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddAccountStoreCheck adds one check per configured account store. A
// not-found answer means the store is reachable.
func (h *HealthChecker) AddAccountStoreCheck(stores ports.AccountStores, interval, timeout time.Duration) {
	named := map[string]ports.AccountStore{
		"players":       stores.Players,
		"organizations": stores.Organizations,
		"spectators":    stores.Spectators,
	}
	for name, store := range named {
		if store == nil {
			continue
		}
		store := store
		h.AddCheck("accounts_"+name, func(ctx context.Context) (bool, error) {
			_, err := store.FindBySubject(ctx, sentinelSubject)
			if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
				return false, err
			}
			return true, nil
		}, interval, timeout)
	}
}

// GetReadinessStatus returns readiness status for load balancer
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}
