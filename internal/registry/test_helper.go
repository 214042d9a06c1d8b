//go:build integration

package registry

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// SetupTestStore connects to the registry's test database and applies
// migrations so integration tests run against a real schema.
func SetupTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := Config{
		Host:            "localhost",
		Port:            "5432",
		User:            "postgres",
		Password:        "postgres",
		DB:              "card_test",
		SslMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5,
		MaxConnIdleTime: 1,
	}

	store, err := NewStore(cfg)
	require.NoError(t, err, "failed to connect to registry test database")

	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	projectRoot := filepath.Join(dir, "../..")
	store.migrationPath = "file://" + filepath.Join(projectRoot, "migrations")

	require.NoError(t, store.RunMigrations(), "failed to run migrations on registry test database")
	return store
}

// TruncateAll wipes every registry table between tests.
func TruncateAll(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tables := []string{
		"payments", "payment_requests", "reset_tokens", "watermarks",
		"limits", "trusted_merchants", "delegations", "cards",
		"merchants", "holders", "ntags", "designs",
	}
	for _, table := range tables {
		_, err := store.pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE")
		require.NoError(t, err, "failed to truncate table %s", table)
	}
}
