package reflexstreamer_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/luno/fate"
	"github.com/luno/jettison/jtest"
	"github.com/luno/reflex"
	"github.com/luno/reflex/rpatterns"
	"github.com/luno/reflex/rsql"
	"github.com/stretchr/testify/require"

	"github.com/easymodehq/workflowrun"
	"github.com/easymodehq/workflowrun/adapters/memstore"
	"github.com/easymodehq/workflowrun/adapters/reflexstreamer"
)

func TestStreamFunc(t *testing.T) {
	dbc := ConnectForTesting(t)
	eventsTable := rsql.NewEventsTable("workflow_run_events", rsql.WithEventMetadataField("metadata"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	service := startTestService(ctx, dbc, eventsTable)

	// Other projects share the events table and must not leak into the stream.
	_, err := service.StartRun(ctx, "proj_other", "cart_abandoned", "order-9", workflowrun.TriggerContext{})
	jtest.RequireNil(t, err)

	run, err := service.StartRun(ctx, "proj_checkout", "cart_abandoned", "order-1", workflowrun.TriggerContext{
		workflowrun.ContextKeyEmail: "ana@example.com",
	})
	jtest.RequireNil(t, err)

	send, err := service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusSent)
	jtest.RequireNil(t, err)

	var got []*reflex.Event
	spec := reflex.NewSpec(
		reflexstreamer.StreamFunc(dbc, eventsTable, workflowrun.Topic("proj_checkout")),
		rpatterns.MemCursorStore(),
		reflex.NewConsumer("checkout_consumer", func(ctx context.Context, fate fate.Fate, event *reflex.Event) error {
			got = append(got, event)
			if len(got) == 2 {
				// End the test
				cancel()
			}

			return nil
		}),
	)

	err = reflex.Run(ctx, spec)
	jtest.Require(t, context.Canceled, err)

	require.Len(t, got, 2)
	require.Equal(t, run.ID, got[0].ForeignID)
	require.Equal(t, int(workflowrun.EventTypeRunStarted), got[0].Type.ReflexType())
	require.Equal(t, send.ID, got[1].ForeignID)
	require.Equal(t, int(workflowrun.EventTypeSendRecorded), got[1].Type.ReflexType())
}

func TestOnOutcomeAttributed(t *testing.T) {
	dbc := ConnectForTesting(t)
	eventsTable := rsql.NewEventsTable("workflow_run_events", rsql.WithEventMetadataField("metadata"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	service := startTestService(ctx, dbc, eventsTable)

	run, err := service.StartRun(ctx, "proj_checkout", "cart_abandoned", "order-1", workflowrun.TriggerContext{
		workflowrun.ContextKeyEmail: "ana@example.com",
	})
	jtest.RequireNil(t, err)

	_, err = service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusSent)
	jtest.RequireNil(t, err)

	attribution, err := service.AttributeOutcome(ctx, workflowrun.PaymentEvent{
		ID:          "evt_1",
		ProjectID:   "proj_checkout",
		AmountMinor: 12900,
		Currency:    "EUR",
		OccurredAt:  time.Now(),
	}, []workflowrun.RunCandidate{
		{RunID: run.ID, Method: workflowrun.MatchMethodLink},
	})
	jtest.RequireNil(t, err)

	var got []*reflex.Event
	spec := reflex.NewSpec(
		reflexstreamer.OnOutcomeAttributed(dbc, eventsTable, workflowrun.Topic("proj_checkout")),
		rpatterns.MemCursorStore(),
		reflex.NewConsumer("revenue_consumer", func(ctx context.Context, fate fate.Fate, event *reflex.Event) error {
			got = append(got, event)

			// End the test
			cancel()

			return nil
		}),
	)

	err = reflex.Run(ctx, spec)
	jtest.Require(t, context.Canceled, err)

	// The run and send events precede the attribution event in the table but
	// are filtered out of the stream.
	require.Len(t, got, 1)
	require.Equal(t, attribution.ID, got[0].ForeignID)
	require.Equal(t, int(workflowrun.EventTypeOutcomeAttributed), got[0].Type.ReflexType())
}

func startTestService(ctx context.Context, dbc *sql.DB, table *rsql.EventsTable) *workflowrun.Service {
	service := workflowrun.New(memstore.New())

	streamer := reflexstreamer.New(dbc, dbc, table, rpatterns.MemCursorStore())
	go func() {
		_ = service.ForwardOutboxForever(ctx, streamer,
			workflowrun.WithForwardPollingFrequency(time.Millisecond*10),
		)
	}()

	return service
}
