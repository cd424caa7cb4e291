package pgstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/luno/jettison/jtest"

	"github.com/easymodehq/workflowrun"
	"github.com/easymodehq/workflowrun/adapters/adaptertest"
	"github.com/easymodehq/workflowrun/adapters/pgstore"
)

// TestStore runs against the database in the PG_URL env var and is skipped when
// it is not set.
func TestStore(t *testing.T) {
	pgURL := os.Getenv("PG_URL")
	if pgURL == "" {
		t.Skip("PG_URL not set")
	}

	adaptertest.RunStoreTest(t, func() workflowrun.Store {
		return pgstore.New(connectForTesting(t, pgURL))
	})
}

func connectForTesting(t *testing.T, pgURL string) *pgxpool.Pool {
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, pgURL)
	jtest.RequireNil(t, err)
	t.Cleanup(pool.Close)

	jtest.RequireNil(t, pool.Ping(ctx))
	jtest.RequireNil(t, pgstore.InitSchema(ctx, pool))

	// The suite expects an empty store.
	for _, table := range []string{"workflow_runs", "workflow_sends", "workflow_attributions", "workflow_outbox"} {
		_, err := pool.Exec(ctx, "TRUNCATE "+table)
		jtest.RequireNil(t, err)
	}

	return pool
}
