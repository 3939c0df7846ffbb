package services

import (
	"context"
	"errors"
	"fmt"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"
)

type IdentityResolver struct {
	stores []typedStore
}

type typedStore struct {
	accountType domain.AccountType
	store       ports.AccountStore
}

// NewIdentityResolver consults players, then organizations, then spectators.
// The first store that knows the subject wins; nil stores are skipped.
func NewIdentityResolver(stores ports.AccountStores) *IdentityResolver {
	ordered := []typedStore{
		{domain.AccountPlayer, stores.Players},
		{domain.AccountOrganization, stores.Organizations},
		{domain.AccountSpectator, stores.Spectators},
	}
	r := &IdentityResolver{}
	for _, ts := range ordered {
		if ts.store != nil {
			r.stores = append(r.stores, ts)
		}
	}
	return r
}

func (r *IdentityResolver) Resolve(ctx context.Context, subject string) (*domain.Identity, error) {
	if subject == "" {
		return nil, domain.ErrIdentityNotFound
	}
	for _, ts := range r.stores {
		account, err := ts.store.FindBySubject(ctx, subject)
		if errors.Is(err, domain.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s account: %w", ts.accountType, err)
		}
		return identityFromAccount(account, ts.accountType), nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrIdentityNotFound, subject)
}

// Account returns the raw record behind a subject using the same precedence as Resolve.
func (r *IdentityResolver) Account(ctx context.Context, subject string) (*domain.Account, error) {
	for _, ts := range r.stores {
		account, err := ts.store.FindBySubject(ctx, subject)
		if errors.Is(err, domain.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s account: %w", ts.accountType, err)
		}
		if account.Type == "" {
			account.Type = ts.accountType
		}
		return account, nil
	}
	return nil, domain.ErrAccountNotFound
}

func identityFromAccount(account *domain.Account, storeType domain.AccountType) *domain.Identity {
	accountType := account.Type
	if accountType == "" {
		accountType = storeType
	}
	authorities := append([]string{accountType.Authority()}, account.Roles...)
	return domain.NewIdentity(account.Subject, account.ID, accountType, account.DisplayName, authorities...)
}
