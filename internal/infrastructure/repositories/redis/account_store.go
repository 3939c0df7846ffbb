package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"arenalink/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "arenalink:"
	accountSeqKey = keyPrefix + "account:seq"
)

// AccountStore keeps the accounts of one type as JSON values under
// arenalink:account:{type}:{subject}.
type AccountStore struct {
	client      redis.Cmdable
	accountType domain.AccountType
}

func NewAccountStore(client redis.Cmdable, accountType domain.AccountType) *AccountStore {
	return &AccountStore{client: client, accountType: accountType}
}

func accountKey(accountType domain.AccountType, subject string) string {
	return keyPrefix + "account:" + strings.ToLower(string(accountType)) + ":" + domain.NormalizeSubject(subject)
}

func indexKey(accountType domain.AccountType) string {
	return keyPrefix + "accounts:" + strings.ToLower(string(accountType))
}

// lowerAccountKey lowercases the subject part of an account key.
func lowerAccountKey(key string) string {
	rest := strings.TrimPrefix(key, keyPrefix+"account:")
	if rest == key || !strings.Contains(rest, ":") {
		return key
	}
	return keyPrefix + "account:" + strings.ToLower(rest)
}

func (s *AccountStore) FindBySubject(ctx context.Context, subject string) (*domain.Account, error) {
	data, err := s.client.Get(ctx, accountKey(s.accountType, subject)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account from Redis: %w", err)
	}

	var account domain.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	account.Type = s.accountType
	return &account, nil
}

// Save stores the account, assigning an id from the shared sequence when it
// has none.
func (s *AccountStore) Save(ctx context.Context, account *domain.Account) error {
	subject := domain.NormalizeSubject(account.Subject)
	if subject == "" {
		return fmt.Errorf("account subject is required")
	}
	account.Subject = subject
	account.Type = s.accountType

	if account.ID == 0 {
		id, err := s.client.Incr(ctx, accountSeqKey).Result()
		if err != nil {
			return fmt.Errorf("failed to allocate account id: %w", err)
		}
		account.ID = id
	}

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, accountKey(s.accountType, subject), data, 0)
	pipe.SAdd(ctx, indexKey(s.accountType), subject)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save account in Redis: %w", err)
	}
	return nil
}

func (s *AccountStore) Delete(ctx context.Context, subject string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, accountKey(s.accountType, subject))
	pipe.SRem(ctx, indexKey(s.accountType), domain.NormalizeSubject(subject))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete account from Redis: %w", err)
	}
	if del.Val() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (s *AccountStore) Count(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, indexKey(s.accountType)).Result()
}
