package workflowrun_test

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/easymodehq/workflowrun"
)

func TestDescribeRun(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()

	run, err := service.StartRun(ctx, "proj_1", "cart_abandoned", "cart-55", workflowrun.TriggerContext{
		workflowrun.ContextKeyEmail: "ana@example.com",
	})
	jtest.RequireNil(t, err)

	summary, err := service.DescribeRun(ctx, run.ID)
	jtest.RequireNil(t, err)
	require.Equal(t, *run, summary.Run)
	require.Empty(t, summary.Sends)
	require.Empty(t, summary.Attributions)
	require.Equal(t, workflowrun.RunPhaseCreated, summary.Phase())

	_, err = service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusSent)
	jtest.RequireNil(t, err)

	summary, err = service.DescribeRun(ctx, run.ID)
	jtest.RequireNil(t, err)
	require.Len(t, summary.Sends, 1)
	require.Equal(t, workflowrun.RunPhaseCreated, summary.Phase())

	clock.Step(time.Hour)
	_, err = service.AttributeOutcome(ctx, paymentEvent("evt_1", clock.Now()), []workflowrun.RunCandidate{
		{RunID: run.ID, Method: workflowrun.MatchMethodEmail},
	})
	jtest.RequireNil(t, err)

	summary, err = service.DescribeRun(ctx, run.ID)
	jtest.RequireNil(t, err)
	require.Len(t, summary.Attributions, 1)
	require.Equal(t, "evt_1", summary.Attributions[0].PaymentEventID)
	require.Equal(t, workflowrun.RunPhaseAttributed, summary.Phase())
}

func TestDescribeRunNotFound(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()

	_, err := service.DescribeRun(ctx, "missing-run")
	jtest.Require(t, workflowrun.ErrRunNotFound, err)

	_, err = service.DescribeRun(ctx, "")
	jtest.Require(t, workflowrun.ErrInvalidArgument, err)
}

func TestRecentRuns(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()

	first, err := service.StartRun(ctx, "proj_1", "cart_abandoned", "cart-55", nil)
	jtest.RequireNil(t, err)

	clock.Step(time.Hour)
	second, err := service.StartRun(ctx, "proj_1", "winback", "cust-9", nil)
	jtest.RequireNil(t, err)

	clock.Step(time.Hour)
	_, err = service.StartRun(ctx, "proj_2", "cart_abandoned", "cart-55", nil)
	jtest.RequireNil(t, err)

	// Most recent first, scoped to the project.
	runs, err := service.RecentRuns(ctx, "proj_1", testBase)
	jtest.RequireNil(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, second.ID, runs[0].ID)
	require.Equal(t, first.ID, runs[1].ID)

	// A run created exactly at since is included.
	runs, err = service.RecentRuns(ctx, "proj_1", second.CreatedAt)
	jtest.RequireNil(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, second.ID, runs[0].ID)

	runs, err = service.RecentRuns(ctx, "proj_1", second.CreatedAt.Add(time.Second))
	jtest.RequireNil(t, err)
	require.Empty(t, runs)

	_, err = service.RecentRuns(ctx, "", testBase)
	jtest.Require(t, workflowrun.ErrInvalidArgument, err)
}

func TestRunPhase(t *testing.T) {
	require.Equal(t, "Unknown", workflowrun.RunPhaseUnknown.String())
	require.Equal(t, "Created", workflowrun.RunPhaseCreated.String())
	require.Equal(t, "Attributed", workflowrun.RunPhaseAttributed.String())
	require.Equal(t, "RunPhase(99)", workflowrun.RunPhase(99).String())

	require.False(t, workflowrun.RunPhaseUnknown.Valid())
	require.True(t, workflowrun.RunPhaseCreated.Valid())
	require.True(t, workflowrun.RunPhaseAttributed.Valid())
	require.False(t, workflowrun.RunPhase(99).Valid())
}
