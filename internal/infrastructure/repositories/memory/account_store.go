package memory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"

	"gopkg.in/yaml.v2"
)

// AccountStore keeps the accounts of one type in memory. Subjects are
// compared case-insensitively.
type AccountStore struct {
	accountType domain.AccountType

	mu       sync.RWMutex
	accounts map[string]*domain.Account
	nextID   int64
}

func NewAccountStore(accountType domain.AccountType) *AccountStore {
	return &AccountStore{
		accountType: accountType,
		accounts:    make(map[string]*domain.Account),
	}
}

func normalizeSubject(subject string) string {
	return domain.NormalizeSubject(subject)
}

// Add stores a copy of account. A zero ID is assigned from a per-store sequence.
func (s *AccountStore) Add(account domain.Account) error {
	key := normalizeSubject(account.Subject)
	if key == "" {
		return fmt.Errorf("account subject is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[key]; exists {
		return fmt.Errorf("account already exists: %s", account.Subject)
	}
	if account.ID == 0 {
		s.nextID++
		account.ID = s.nextID
	} else if account.ID > s.nextID {
		s.nextID = account.ID
	}
	account.Type = s.accountType
	account.Roles = append([]string(nil), account.Roles...)
	s.accounts[key] = &account
	return nil
}

func (s *AccountStore) FindBySubject(ctx context.Context, subject string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[normalizeSubject(subject)]
	if !exists {
		return nil, domain.ErrAccountNotFound
	}
	copied := *account
	copied.Roles = append([]string(nil), account.Roles...)
	return &copied, nil
}

func (s *AccountStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// Stores holds one in-memory store per account type.
type Stores struct {
	Players       *AccountStore
	Organizations *AccountStore
	Spectators    *AccountStore
}

func NewStores() *Stores {
	return &Stores{
		Players:       NewAccountStore(domain.AccountPlayer),
		Organizations: NewAccountStore(domain.AccountOrganization),
		Spectators:    NewAccountStore(domain.AccountSpectator),
	}
}

// AccountStores exposes the stores in resolver order.
func (s *Stores) AccountStores() ports.AccountStores {
	return ports.AccountStores{
		Players:       s.Players,
		Organizations: s.Organizations,
		Spectators:    s.Spectators,
	}
}

func (s *Stores) For(accountType domain.AccountType) (*AccountStore, bool) {
	switch accountType {
	case domain.AccountPlayer:
		return s.Players, true
	case domain.AccountOrganization:
		return s.Organizations, true
	case domain.AccountSpectator:
		return s.Spectators, true
	}
	return nil, false
}

type seedFile struct {
	Accounts []struct {
		Subject      string   `yaml:"subject"`
		Type         string   `yaml:"type"`
		DisplayName  string   `yaml:"display_name"`
		PasswordHash string   `yaml:"password_hash"`
		Roles        []string `yaml:"roles"`
	} `yaml:"accounts"`
}

// ReadSeed parses a YAML file of accounts. Each account's Type is set and
// checked against the known account types.
func ReadSeed(path string) ([]domain.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	accounts := make([]domain.Account, 0, len(seed.Accounts))
	for i, a := range seed.Accounts {
		accountType := domain.AccountType(strings.ToUpper(a.Type))
		if !accountType.Valid() {
			return nil, fmt.Errorf("seed account %d: unknown type %q", i, a.Type)
		}
		accounts = append(accounts, domain.Account{
			Subject:      a.Subject,
			Type:         accountType,
			DisplayName:  a.DisplayName,
			PasswordHash: a.PasswordHash,
			Roles:        a.Roles,
		})
	}
	return accounts, nil
}

// LoadSeed reads a YAML file of accounts into the stores and returns how many were added.
func (s *Stores) LoadSeed(path string) (int, error) {
	accounts, err := ReadSeed(path)
	if err != nil {
		return 0, err
	}

	added := 0
	for i, account := range accounts {
		store, _ := s.For(account.Type)
		if err := store.Add(account); err != nil {
			return added, fmt.Errorf("seed account %d: %w", i, err)
		}
		added++
	}
	return added, nil
}
