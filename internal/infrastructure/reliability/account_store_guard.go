package reliability

import (
	"context"
	"errors"
	"fmt"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"
	"arenalink/pkg/circuitbreaker"
	"arenalink/pkg/retry"

	"go.uber.org/zap"
)

type Config struct {
	Retry   retry.Config
	Breaker circuitbreaker.Config
}

type accountSaver interface {
	Save(ctx context.Context, account *domain.Account) error
}

// GuardedAccountStore retries transient lookup failures and stops calling a
// backend that keeps failing. A missing account is a normal answer and never
// trips the breaker.
type GuardedAccountStore struct {
	name        string
	store       ports.AccountStore
	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker
}

func NewGuardedAccountStore(name string, store ports.AccountStore, cfg Config, logger *zap.SugaredLogger) *GuardedAccountStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	cbCfg := cfg.Breaker
	cbCfg.IsFailure = countsAgainstBackend

	breaker := circuitbreaker.New(cbCfg)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("account store circuit breaker state changed",
			"store", name,
			"from", from.String(),
			"to", to.String(),
		)
	})

	return &GuardedAccountStore{
		name:        name,
		store:       store,
		retryConfig: cfg.Retry,
		breaker:     breaker,
	}
}

func (g *GuardedAccountStore) FindBySubject(ctx context.Context, subject string) (*domain.Account, error) {
	return retry.DoWithResult(ctx, g.retryConfig, func(ctx context.Context) (*domain.Account, error) {
		var account *domain.Account
		err := g.breaker.Execute(func() error {
			var err error
			account, err = g.store.FindBySubject(ctx, subject)
			return err
		})
		if err != nil && (!countsAgainstBackend(err) || errors.Is(err, circuitbreaker.ErrOpen)) {
			return nil, retry.Permanent(err)
		}
		return account, err
	})
}

// Save writes through the breaker without retrying.
func (g *GuardedAccountStore) Save(ctx context.Context, account *domain.Account) error {
	saver, ok := g.store.(accountSaver)
	if !ok {
		return fmt.Errorf("account store %s is read-only", g.name)
	}
	return g.breaker.Execute(func() error {
		return saver.Save(ctx, account)
	})
}

func (g *GuardedAccountStore) State() circuitbreaker.State {
	return g.breaker.State()
}

// GuardAccountStores wraps each of the three stores with its own breaker.
func GuardAccountStores(stores ports.AccountStores, cfg Config, logger *zap.SugaredLogger) ports.AccountStores {
	return ports.AccountStores{
		Players:       NewGuardedAccountStore("players", stores.Players, cfg, logger),
		Organizations: NewGuardedAccountStore("organizations", stores.Organizations, cfg, logger),
		Spectators:    NewGuardedAccountStore("spectators", stores.Spectators, cfg, logger),
	}
}

func countsAgainstBackend(err error) bool {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
