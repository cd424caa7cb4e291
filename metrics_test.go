package workflowrun_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/easymodehq/workflowrun"
	"github.com/easymodehq/workflowrun/adapters/memstreamer"
	"github.com/easymodehq/workflowrun/internal/metrics"
)

func TestMetricRunCounters(t *testing.T) {
	metrics.Reset()

	service, _ := newTestService()
	ctx := context.Background()

	run, err := service.StartRun(ctx, "proj_1", "winback", "key_1", nil)
	require.NoError(t, err)

	_, err = service.StartRun(ctx, "proj_1", "winback", "key_1", nil)
	require.NoError(t, err)

	_, err = service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusSent)
	require.NoError(t, err)

	expected := `
# HELP workflowrun_runs_started_count Number of workflow runs started
# TYPE workflowrun_runs_started_count counter
workflowrun_runs_started_count{action="winback"} 1
`
	require.NoError(t, testutil.CollectAndCompare(metrics.RunsStarted, strings.NewReader(expected)))

	expected = `
# HELP workflowrun_runs_deduplicated_count Number of triggers deduplicated onto an existing run
# TYPE workflowrun_runs_deduplicated_count counter
workflowrun_runs_deduplicated_count{action="winback"} 1
`
	require.NoError(t, testutil.CollectAndCompare(metrics.RunsDeduplicated, strings.NewReader(expected)))

	expected = `
# HELP workflowrun_sends_recorded_count Number of sends recorded
# TYPE workflowrun_sends_recorded_count counter
workflowrun_sends_recorded_count{action="winback",send_status="Sent"} 1
`
	require.NoError(t, testutil.CollectAndCompare(metrics.SendsRecorded, strings.NewReader(expected)))

	metrics.Reset()
}

func TestMetricRecipientsExcluded(t *testing.T) {
	metrics.Reset()

	service, _ := newTestService()
	ctx := context.Background()

	run, err := service.StartRun(ctx, "proj_1", "winback", "key_1", nil)
	require.NoError(t, err)

	_, err = service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusSent)
	require.NoError(t, err)

	recipients, err := service.BuildRecipients(ctx, "proj_1", "winback",
		[]string{"ana@example.com", "bob@example.com"}, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, []string{"bob@example.com"}, recipients)

	expected := `
# HELP workflowrun_recipients_excluded_count Number of recipients excluded by the cooldown window
# TYPE workflowrun_recipients_excluded_count counter
workflowrun_recipients_excluded_count{action="winback"} 1
`
	require.NoError(t, testutil.CollectAndCompare(metrics.RecipientsExcluded, strings.NewReader(expected)))

	metrics.Reset()
}

func TestMetricAttributionsClaimed(t *testing.T) {
	metrics.Reset()

	service, _ := newTestService()
	ctx := context.Background()

	run, err := service.StartRun(ctx, "proj_1", "winback", "key_1", nil)
	require.NoError(t, err)

	ev := workflowrun.PaymentEvent{
		ID:          "pay_1",
		ProjectID:   "proj_1",
		AmountMinor: 12900,
		Currency:    "EUR",
		OccurredAt:  testBase,
	}
	candidates := []workflowrun.RunCandidate{{RunID: run.ID, Method: workflowrun.MatchMethodLink}}

	_, err = service.AttributeOutcome(ctx, ev, candidates)
	require.NoError(t, err)

	// DuplicateClaims is a plain counter that Reset cannot zero, so assert the
	// delta a replayed claim adds.
	before := testutil.ToFloat64(metrics.DuplicateClaims)

	_, err = service.AttributeOutcome(ctx, ev, candidates)
	require.NoError(t, err)

	expected := `
# HELP workflowrun_attributions_claimed_count Number of payment events attributed to a run
# TYPE workflowrun_attributions_claimed_count counter
workflowrun_attributions_claimed_count{match_method="Link"} 1
`
	require.NoError(t, testutil.CollectAndCompare(metrics.AttributionsClaimed, strings.NewReader(expected)))
	require.Equal(t, before+1, testutil.ToFloat64(metrics.DuplicateClaims))

	metrics.Reset()
}

func TestMetricOutboxLag(t *testing.T) {
	metrics.Reset()

	service, clock := newTestService()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := service.StartRun(ctx, "proj_1", "winback", "key_1", nil)
	require.NoError(t, err)

	// 1 hour = 3600 seconds
	clock.SetTime(testBase.Add(time.Hour))

	go func() {
		_ = service.ForwardOutboxForever(ctx, memstreamer.New(),
			workflowrun.WithForwardLagAlert(time.Minute),
		)
	}()

	workflowrun.AwaitOutboxDrained(t, service)

	expected := `
# HELP workflowrun_outbox_lag_seconds Lag between now and the current outbox event timestamp in seconds
# TYPE workflowrun_outbox_lag_seconds gauge
workflowrun_outbox_lag_seconds 3600
`
	require.NoError(t, testutil.CollectAndCompare(metrics.OutboxLag, strings.NewReader(expected)))

	expected = `
# HELP workflowrun_outbox_lag_alert Whether or not the outbox lag crosses its alert threshold
# TYPE workflowrun_outbox_lag_alert gauge
workflowrun_outbox_lag_alert 1
`
	require.NoError(t, testutil.CollectAndCompare(metrics.OutboxLagAlert, strings.NewReader(expected)))

	metrics.Reset()
}
