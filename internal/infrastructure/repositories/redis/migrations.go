package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = keyPrefix + "schema:version"
	migrationLockKey     = keyPrefix + "lock:migrations"
	currentSchemaVersion = 2
)

// Migration represents a key schema migration
type Migration struct {
	Version int
	Up      func(ctx context.Context, client redis.Cmdable) error
}

// Migrate runs all pending migrations
func Migrate(ctx context.Context, client redis.Cmdable, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client redis.Cmdable) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client redis.Cmdable, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			// 1: account id sequence
			Version: 1,
			Up: func(ctx context.Context, client redis.Cmdable) error {
				return client.SetNX(ctx, accountSeqKey, 0, 0).Err()
			},
		},
		{
			// 2: subjects are stored lowercased; rewrite any mixed-case keys
			// left by early writers.
			Version: 2,
			Up: func(ctx context.Context, client redis.Cmdable) error {
				iter := client.Scan(ctx, 0, keyPrefix+"account:*", 100).Iterator()
				for iter.Next(ctx) {
					key := iter.Val()
					lowered := lowerAccountKey(key)
					if lowered == key {
						continue
					}
					if err := client.RenameNX(ctx, key, lowered).Err(); err != nil {
						return err
					}
				}
				return iter.Err()
			},
		},
	}
}
