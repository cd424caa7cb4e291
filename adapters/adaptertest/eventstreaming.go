package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/easymodehq/workflowrun"
	"github.com/easymodehq/workflowrun/adapters/memstore"
)

// RunEventStreamerTest runs the event streamer acceptance suite: the full outbox
// path from a service writing rows, through ForwardOutboxForever, to a receiver
// on the project topic seeing every event in write order.
func RunEventStreamerTest(t *testing.T, streamer workflowrun.EventStreamer) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memstore.New()
	service := workflowrun.New(store)

	go func() {
		_ = service.ForwardOutboxForever(ctx, streamer,
			workflowrun.WithForwardPollingFrequency(time.Millisecond*10),
		)
	}()

	// A fresh project per suite run keeps the topic clean on backends with
	// durable history such as kafka.
	projectID := "proj_" + uuid.New().String()

	run, err := service.StartRun(ctx, projectID, "cart_abandoned", "order-2001", workflowrun.TriggerContext{
		workflowrun.ContextKeyEmail: "Ana@Example.com",
	})
	jtest.RequireNil(t, err)

	send, err := service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusSent)
	jtest.RequireNil(t, err)

	attribution, err := service.AttributeOutcome(ctx, workflowrun.PaymentEvent{
		ID:          "evt_" + uuid.New().String(),
		ProjectID:   projectID,
		AmountMinor: 4990,
		Currency:    "EUR",
		OccurredAt:  time.Now(),
	}, []workflowrun.RunCandidate{
		{RunID: run.ID, Method: workflowrun.MatchMethodLink},
	})
	jtest.RequireNil(t, err)

	topic := workflowrun.Topic(projectID)
	receiver, err := streamer.NewReceiver(ctx, topic, "adaptertest",
		workflowrun.WithReceiverPollFrequency(time.Millisecond*10),
	)
	jtest.RequireNil(t, err)
	t.Cleanup(func() {
		err := receiver.Close()
		jtest.RequireNil(t, err)
	})

	expected := []struct {
		foreignID string
		eventType int
	}{
		{run.ID, int(workflowrun.EventTypeRunStarted)},
		{send.ID, int(workflowrun.EventTypeSendRecorded)},
		{attribution.ID, int(workflowrun.EventTypeOutcomeAttributed)},
	}

	for _, want := range expected {
		event, ack, err := receiver.Recv(ctx)
		jtest.RequireNil(t, err)

		require.Equal(t, want.foreignID, event.ForeignID)
		require.Equal(t, want.eventType, event.Type)
		require.Equal(t, projectID, event.Headers[workflowrun.HeaderProjectID])
		require.Equal(t, topic, event.Headers[workflowrun.HeaderTopic])
		require.Equal(t, run.ID, event.Headers[workflowrun.HeaderRunID])

		err = ack()
		jtest.RequireNil(t, err)
	}

	// The forwarder deletes events once the streamer has accepted them.
	require.Eventually(t, func() bool {
		events, err := store.ListOutboxEvents(ctx, 10)
		jtest.RequireNil(t, err)
		return len(events) == 0
	}, time.Second*10, time.Millisecond*10)
}
