package repositories

import (
	"context"
	"fmt"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"
	"arenalink/internal/infrastructure/reliability"
	"arenalink/internal/infrastructure/repositories/memory"
	pgrepo "arenalink/internal/infrastructure/repositories/postgres"
	redisrepo "arenalink/internal/infrastructure/repositories/redis"
	"arenalink/pkg/circuitbreaker"
	"arenalink/pkg/config"
	"arenalink/pkg/retry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type accountSaver interface {
	Save(ctx context.Context, account *domain.Account) error
}

// RepositoryFactory opens the configured account backend. A Redis backend
// that cannot be reached falls back to memory; Postgres failures are fatal.
type RepositoryFactory struct {
	backend     string
	redisClient *redis.Client
	pgPool      *pgxpool.Pool
	memory      *memory.Stores
	stores      ports.AccountStores
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		backend: cfg.Storage.Backend,
		logger:  logger,
	}

	if cfg.UsesRedis() {
		redisCfg := cfg.Storage.Redis
		client, err := redisrepo.NewRedisClient(ctx, redisCfg.Address, redisCfg.Password, redisCfg.DB, redisCfg.PoolSize, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis",
				"error", err,
				"storage_backend", cfg.Storage.Backend,
			)
			if factory.backend == BackendRedis {
				logger.Warn("falling back to memory account stores")
				factory.backend = BackendMemory
			}
		} else {
			factory.redisClient = client
		}
	}

	resilience := cfg.Storage.Resilience
	guard := reliability.Config{
		Retry: retry.Config{
			MaxAttempts:  resilience.RetryAttempts,
			InitialDelay: resilience.RetryDelay,
			MaxDelay:     10 * resilience.RetryDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
		Breaker: circuitbreaker.Config{
			FailureThreshold:    resilience.BreakerThreshold,
			SuccessThreshold:    1,
			Timeout:             resilience.BreakerCooldown,
			MaxRequestsHalfOpen: 1,
		},
	}

	if factory.backend == BackendPostgres {
		pgCfg := cfg.Storage.Postgres
		pool, err := retry.DoWithResult(ctx, guard.Retry, func(ctx context.Context) (*pgxpool.Pool, error) {
			return pgrepo.NewPool(ctx, pgCfg.DSN, pgCfg.MaxConns, pgCfg.MinConns, logger)
		})
		if err != nil {
			factory.Close()
			return nil, err
		}
		factory.pgPool = pool
		if pgCfg.RunMigrations {
			if err := pgrepo.Migrate(ctx, pool); err != nil {
				factory.Close()
				return nil, err
			}
		}
	}

	switch factory.backend {
	case BackendRedis:
		factory.stores = reliability.GuardAccountStores(ports.AccountStores{
			Players:       redisrepo.NewAccountStore(factory.redisClient, domain.AccountPlayer),
			Organizations: redisrepo.NewAccountStore(factory.redisClient, domain.AccountOrganization),
			Spectators:    redisrepo.NewAccountStore(factory.redisClient, domain.AccountSpectator),
		}, guard, logger)
	case BackendPostgres:
		factory.stores = reliability.GuardAccountStores(ports.AccountStores{
			Players:       pgrepo.NewAccountStore(factory.pgPool, domain.AccountPlayer),
			Organizations: pgrepo.NewAccountStore(factory.pgPool, domain.AccountOrganization),
			Spectators:    pgrepo.NewAccountStore(factory.pgPool, domain.AccountSpectator),
		}, guard, logger)
	default:
		factory.memory = memory.NewStores()
		factory.stores = factory.memory.AccountStores()
	}

	logger.Infow("account stores ready", "backend", factory.backend)
	return factory, nil
}

func (f *RepositoryFactory) Backend() string {
	return f.backend
}

// AccountStores returns the three stores in resolver order. External
// backends come wrapped in retry and circuit breaker guards.
func (f *RepositoryFactory) AccountStores() ports.AccountStores {
	return f.stores
}

// Seed loads the accounts of a seed file into the active backend.
func (f *RepositoryFactory) Seed(ctx context.Context, path string) (int, error) {
	if f.backend == BackendMemory {
		return f.memory.LoadSeed(path)
	}

	accounts, err := memory.ReadSeed(path)
	if err != nil {
		return 0, err
	}
	stores := f.AccountStores()
	byType := map[domain.AccountType]ports.AccountStore{
		domain.AccountPlayer:       stores.Players,
		domain.AccountOrganization: stores.Organizations,
		domain.AccountSpectator:    stores.Spectators,
	}

	for i := range accounts {
		saver, ok := byType[accounts[i].Type].(accountSaver)
		if !ok {
			return i, fmt.Errorf("backend %s cannot store seed accounts", f.backend)
		}
		if err := saver.Save(ctx, &accounts[i]); err != nil {
			return i, fmt.Errorf("seed account %d: %w", i, err)
		}
	}
	return len(accounts), nil
}

// RedisClient is nil when Redis is not configured or unreachable.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// PostgresPool is nil unless the postgres backend is active.
func (f *RepositoryFactory) PostgresPool() *pgxpool.Pool {
	return f.pgPool
}

// Close releases the Redis client and the Postgres pool.
func (f *RepositoryFactory) Close() {
	if f.redisClient != nil {
		if err := redisrepo.CloseRedisClient(f.redisClient); err != nil {
			f.logger.Warnw("failed to close Redis client", "error", err)
		}
		f.redisClient = nil
	}
	if f.pgPool != nil {
		f.pgPool.Close()
		f.pgPool = nil
	}
}
