//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"arenalink/internal/core/domain"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func setupPostgresContainer(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "arenalink",
				"POSTGRES_PASSWORD": "arenalink",
				"POSTGRES_DB":       "arenalink",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://arenalink:arenalink@%s:%s/arenalink?sslmode=disable", host, port.Port())
	pool, err := NewPool(ctx, dsn, 4, 1, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func TestAccountStore_Postgres(t *testing.T) {
	pool := setupPostgresContainer(t)
	ctx := context.Background()
	players := NewAccountStore(pool, domain.AccountPlayer)
	spectators := NewAccountStore(pool, domain.AccountSpectator)

	alice := &domain.Account{Subject: "Alice@Example.com", DisplayName: "Alice", Roles: []string{"ROLE_BETA"}}
	require.NoError(t, players.Save(ctx, alice))
	require.NotZero(t, alice.ID)

	// same subject, different type
	require.NoError(t, spectators.Save(ctx, &domain.Account{Subject: "alice@example.com", DisplayName: "Viewer"}))

	found, err := players.FindBySubject(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, found.ID)
	assert.Equal(t, []string{"ROLE_BETA"}, found.Roles)

	alice.DisplayName = "Alice A."
	require.NoError(t, players.Save(ctx, alice))
	found, err = players.FindBySubject(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", found.DisplayName)

	count, err := players.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, players.Delete(ctx, "alice@example.com"))
	_, err = players.FindBySubject(ctx, "alice@example.com")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = spectators.FindBySubject(ctx, "alice@example.com")
	assert.NoError(t, err)
}
