package ports

import (
	"context"

	"arenalink/internal/core/domain"
)

// AccountStore looks up one kind of account by its stable subject (email).
// Implementations return domain.ErrAccountNotFound when nothing matches.
type AccountStore interface {
	FindBySubject(ctx context.Context, subject string) (*domain.Account, error)
}

// AccountStores groups the three independent stores the resolver consults.
type AccountStores struct {
	Players       AccountStore
	Organizations AccountStore
	Spectators    AccountStore
}
