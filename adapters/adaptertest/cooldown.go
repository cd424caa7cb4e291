package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/easymodehq/workflowrun"
)

// RunCooldownIndexTest runs the acceptance suite for write-through CooldownIndex
// implementations fed by MarkSent. The default store backed index is exercised
// through RunStoreTest instead since its reads come straight off the send log.
func RunCooldownIndexTest(t *testing.T, factory func() workflowrun.CooldownIndex) {
	tests := []func(t *testing.T, idx workflowrun.CooldownIndex){
		testMarkSent,
		testSentWithinBoundary,
		testSentWithinScoping,
	}

	for _, test := range tests {
		idxForTesting := factory()
		test(t, idxForTesting)
	}
}

func testMarkSent(t *testing.T, idx workflowrun.CooldownIndex) {
	t.Run("MarkSent", func(t *testing.T) {
		ctx := context.Background()
		base := time.Now().Truncate(time.Second)

		err := idx.MarkSent(ctx, "proj_1", "cart_abandoned", "ana@example.com", base)
		jtest.RequireNil(t, err)

		recent, err := idx.SentWithin(ctx, "proj_1", "cart_abandoned", []string{"ana@example.com"}, base.Add(-time.Hour))
		jtest.RequireNil(t, err)
		require.Equal(t, []string{"ana@example.com"}, recent)

		recent, err = idx.SentWithin(ctx, "proj_1", "cart_abandoned", []string{"unknown@example.com"}, base.Add(-time.Hour))
		jtest.RequireNil(t, err)
		require.Empty(t, recent)
	})
}

func testSentWithinBoundary(t *testing.T, idx workflowrun.CooldownIndex) {
	t.Run("SentWithinBoundary", func(t *testing.T) {
		ctx := context.Background()
		base := time.Now().Truncate(time.Second)

		err := idx.MarkSent(ctx, "proj_1", "cart_abandoned", "ana@example.com", base)
		jtest.RequireNil(t, err)

		// A send exactly at since has aged out of the window.
		recent, err := idx.SentWithin(ctx, "proj_1", "cart_abandoned", []string{"ana@example.com"}, base)
		jtest.RequireNil(t, err)
		require.Empty(t, recent)

		recent, err = idx.SentWithin(ctx, "proj_1", "cart_abandoned", []string{"ana@example.com"}, base.Add(-time.Second))
		jtest.RequireNil(t, err)
		require.Equal(t, []string{"ana@example.com"}, recent)

		// A later mark moves the recipient's cooldown forward.
		err = idx.MarkSent(ctx, "proj_1", "cart_abandoned", "ana@example.com", base.Add(time.Hour))
		jtest.RequireNil(t, err)

		recent, err = idx.SentWithin(ctx, "proj_1", "cart_abandoned", []string{"ana@example.com"}, base)
		jtest.RequireNil(t, err)
		require.Equal(t, []string{"ana@example.com"}, recent)
	})
}

func testSentWithinScoping(t *testing.T, idx workflowrun.CooldownIndex) {
	t.Run("SentWithinScoping", func(t *testing.T) {
		ctx := context.Background()
		base := time.Now().Truncate(time.Second)

		err := idx.MarkSent(ctx, "proj_1", "cart_abandoned", "ana@example.com", base)
		jtest.RequireNil(t, err)

		err = idx.MarkSent(ctx, "proj_1", "cart_abandoned", "ben@example.com", base)
		jtest.RequireNil(t, err)

		// Cooldowns are scoped per action and per project.
		recent, err := idx.SentWithin(ctx, "proj_1", "winback", []string{"ana@example.com"}, base.Add(-time.Hour))
		jtest.RequireNil(t, err)
		require.Empty(t, recent)

		recent, err = idx.SentWithin(ctx, "proj_2", "cart_abandoned", []string{"ana@example.com"}, base.Add(-time.Hour))
		jtest.RequireNil(t, err)
		require.Empty(t, recent)

		// Input order is preserved.
		recent, err = idx.SentWithin(ctx, "proj_1", "cart_abandoned", []string{"ben@example.com", "missing@example.com", "ana@example.com"}, base.Add(-time.Hour))
		jtest.RequireNil(t, err)
		require.Equal(t, []string{"ben@example.com", "ana@example.com"}, recent)
	})
}
