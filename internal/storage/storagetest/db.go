// Package storagetest connects tests to a real Postgres when one is configured.
package storagetest

import (
	"os"
	"testing"

	"skillzio/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

const urlEnv = "CHECKOUT_TEST_DATABASE_URL"

// DB returns a migrated pool, or skips the test when CHECKOUT_TEST_DATABASE_URL
// is unset. Tests share the database, so they must use fresh ids.
func DB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv(urlEnv)
	if url == "" {
		t.Skipf("%s not set", urlEnv)
	}

	store, err := storage.New(t.Context(), storage.Options{URL: url, TraceQueries: testing.Verbose()}, slogt.New(t))
	require.NoError(t, err, "cannot connect to test database")
	t.Cleanup(store.Close)

	return store.Pool()
}
