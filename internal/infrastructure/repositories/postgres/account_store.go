package postgres

import (
	"context"
	"errors"
	"fmt"

	"arenalink/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountStore reads the accounts of one type from the shared accounts table.
type AccountStore struct {
	db          Querier
	accountType domain.AccountType
}

func NewAccountStore(db Querier, accountType domain.AccountType) *AccountStore {
	return &AccountStore{db: db, accountType: accountType}
}

func normalizeSubject(subject string) string {
	return domain.NormalizeSubject(subject)
}

func (s *AccountStore) FindBySubject(ctx context.Context, subject string) (*domain.Account, error) {
	const query = `
        SELECT id, subject, display_name, password_hash, roles
        FROM accounts WHERE account_type=$1 AND subject=$2`

	account := domain.Account{Type: s.accountType}
	err := s.db.QueryRow(ctx, query, string(s.accountType), normalizeSubject(subject)).Scan(
		&account.ID,
		&account.Subject,
		&account.DisplayName,
		&account.PasswordHash,
		&account.Roles,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &account, nil
}

// Save inserts the account or updates the row with the same subject, and
// writes the row id back into account.
func (s *AccountStore) Save(ctx context.Context, account *domain.Account) error {
	const query = `
        INSERT INTO accounts (subject, account_type, display_name, password_hash, roles)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (account_type, subject)
        DO UPDATE SET display_name=EXCLUDED.display_name, password_hash=EXCLUDED.password_hash, roles=EXCLUDED.roles
        RETURNING id`

	subject := normalizeSubject(account.Subject)
	if subject == "" {
		return fmt.Errorf("account subject is required")
	}
	roles := account.Roles
	if roles == nil {
		roles = []string{}
	}

	if err := s.db.QueryRow(ctx, query,
		subject,
		string(s.accountType),
		account.DisplayName,
		account.PasswordHash,
		roles,
	).Scan(&account.ID); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	account.Subject = subject
	account.Type = s.accountType
	return nil
}

func (s *AccountStore) Delete(ctx context.Context, subject string) error {
	cmd, err := s.db.Exec(ctx, `DELETE FROM accounts WHERE account_type=$1 AND subject=$2`,
		string(s.accountType), normalizeSubject(subject))
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (s *AccountStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE account_type=$1`, string(s.accountType)).Scan(&n)
	return n, err
}
