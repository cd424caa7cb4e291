package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/easymodehq/workflowrun"
)

// RunStoreTest runs the store acceptance suite. Every Store implementation must
// pass it unchanged; the suite pins the uniqueness, upsert, ordering, and outbox
// behaviour the service depends on.
func RunStoreTest(t *testing.T, factory func() workflowrun.Store) {
	tests := []func(t *testing.T, store workflowrun.Store){
		testCreateRun,
		testListRecentRuns,
		testUpsertSend,
		testRecentRecipients,
		testCreateAttribution,
		testOutboxEvents,
	}

	for _, test := range tests {
		storeForTesting := factory()
		test(t, storeForTesting)
	}
}

func testCreateRun(t *testing.T, store workflowrun.Store) {
	t.Run("CreateRun", func(t *testing.T) {
		ctx := context.Background()
		createdAt := time.Now().Truncate(time.Second)

		run := makeRun("proj_1", "cart_abandoned", "order-1001", createdAt)
		run.TriggerContext = workflowrun.TriggerContext{
			workflowrun.ContextKeyEmail:  "ana@example.com",
			workflowrun.ContextKeyCartID: "cart-77",
		}

		err := store.CreateRun(ctx, run)
		jtest.RequireNil(t, err)

		looked, err := store.LookupRun(ctx, run.ID)
		jtest.RequireNil(t, err)
		runIsEqual(t, *run, *looked)

		byKey, err := store.LookupRunByKey(ctx, "proj_1", "cart_abandoned", "order-1001")
		jtest.RequireNil(t, err)
		runIsEqual(t, *run, *byKey)

		// A second insert on the same triple must collide regardless of run ID.
		duplicate := makeRun("proj_1", "cart_abandoned", "order-1001", createdAt.Add(time.Minute))
		err = store.CreateRun(ctx, duplicate)
		jtest.Require(t, workflowrun.ErrAlreadyExists, err)

		// Idempotency keys are scoped per action and per project.
		err = store.CreateRun(ctx, makeRun("proj_1", "order_followup", "order-1001", createdAt))
		jtest.RequireNil(t, err)

		err = store.CreateRun(ctx, makeRun("proj_2", "cart_abandoned", "order-1001", createdAt))
		jtest.RequireNil(t, err)

		_, err = store.LookupRun(ctx, "unknown-run")
		jtest.Require(t, workflowrun.ErrRunNotFound, err)

		_, err = store.LookupRunByKey(ctx, "proj_1", "cart_abandoned", "unknown-key")
		jtest.Require(t, workflowrun.ErrRunNotFound, err)
	})
}

func testListRecentRuns(t *testing.T, store workflowrun.Store) {
	t.Run("ListRecentRuns", func(t *testing.T) {
		ctx := context.Background()
		base := time.Now().Truncate(time.Second)

		early := makeRun("proj_1", "cart_abandoned", "order-1", base)
		middle := makeRun("proj_1", "cart_abandoned", "order-2", base.Add(time.Minute))
		late := makeRun("proj_1", "winback", "order-3", base.Add(2*time.Minute))
		other := makeRun("proj_2", "cart_abandoned", "order-4", base.Add(2*time.Minute))

		for _, run := range []*workflowrun.Run{early, middle, late, other} {
			err := store.CreateRun(ctx, run)
			jtest.RequireNil(t, err)
		}

		runs, err := store.ListRecentRuns(ctx, "proj_1", base.Add(time.Minute))
		jtest.RequireNil(t, err)
		require.Len(t, runs, 2)

		// Most recent first, and a run created exactly at since is included.
		require.Equal(t, late.ID, runs[0].ID)
		require.Equal(t, middle.ID, runs[1].ID)

		runs, err = store.ListRecentRuns(ctx, "proj_1", base.Add(3*time.Minute))
		jtest.RequireNil(t, err)
		require.Empty(t, runs)
	})
}

func testUpsertSend(t *testing.T, store workflowrun.Store) {
	t.Run("UpsertSend", func(t *testing.T) {
		ctx := context.Background()
		base := time.Now().Truncate(time.Second)

		run := makeRun("proj_1", "cart_abandoned", "order-1", base)
		err := store.CreateRun(ctx, run)
		jtest.RequireNil(t, err)

		first := makeSend(run, "ana@example.com", workflowrun.SendStatusSent, base)
		err = store.UpsertSend(ctx, first)
		jtest.RequireNil(t, err)

		looked, err := store.LookupSend(ctx, run.ID, "ana@example.com")
		jtest.RequireNil(t, err)
		sendIsEqual(t, *first, *looked)

		// Recipients are matched on their normalised form.
		looked, err = store.LookupSend(ctx, run.ID, "ANA@Example.com")
		jtest.RequireNil(t, err)
		sendIsEqual(t, *first, *looked)

		// A replay updates status and sent time in place and keeps the original
		// row identity.
		replay := makeSend(run, "ana@example.com", workflowrun.SendStatusFailed, base.Add(time.Hour))
		err = store.UpsertSend(ctx, replay)
		jtest.RequireNil(t, err)

		looked, err = store.LookupSend(ctx, run.ID, "ana@example.com")
		jtest.RequireNil(t, err)
		require.Equal(t, first.ID, looked.ID)
		require.Equal(t, workflowrun.SendStatusFailed, looked.Status)
		require.WithinDuration(t, base.Add(time.Hour), looked.SentAt, time.Second*10)
		require.WithinDuration(t, first.CreatedAt, looked.CreatedAt, time.Second*10)

		second := makeSend(run, "ben@example.com", workflowrun.SendStatusSent, base.Add(time.Minute))
		err = store.UpsertSend(ctx, second)
		jtest.RequireNil(t, err)

		sends, err := store.ListSendsByRun(ctx, run.ID)
		jtest.RequireNil(t, err)
		require.Len(t, sends, 2)
		require.Equal(t, "ana@example.com", sends[0].Recipient)
		require.Equal(t, "ben@example.com", sends[1].Recipient)

		_, err = store.LookupSend(ctx, run.ID, "unknown@example.com")
		jtest.Require(t, workflowrun.ErrSendNotFound, err)
	})
}

func testRecentRecipients(t *testing.T, store workflowrun.Store) {
	t.Run("RecentRecipients", func(t *testing.T) {
		ctx := context.Background()
		base := time.Now().Truncate(time.Second)

		seed := []struct {
			projectID string
			action    string
			recipient string
			sentAt    time.Time
		}{
			{"proj_1", "cart_abandoned", "alice@example.com", base},
			{"proj_1", "cart_abandoned", "bob@example.com", base.Add(2 * time.Hour)},
			{"proj_1", "cart_abandoned", "carol@example.com", base.Add(4 * time.Hour)},
			{"proj_1", "winback", "dave@example.com", base.Add(4 * time.Hour)},
			{"proj_2", "cart_abandoned", "erin@example.com", base.Add(4 * time.Hour)},
		}
		for i, s := range seed {
			run := makeRun(s.projectID, s.action, s.recipient, base)
			err := store.CreateRun(ctx, run)
			jtest.RequireNil(t, err)

			send := makeSend(run, s.recipient, workflowrun.SendStatusSent, s.sentAt)
			err = store.UpsertSend(ctx, send)
			jtest.RequireNil(t, err, i)
		}

		candidates := []string{
			"alice@example.com",
			"bob@example.com",
			"carol@example.com",
			"dave@example.com",
			"erin@example.com",
			"unknown@example.com",
		}

		// Only sends strictly after since count: bob's send sits exactly on the
		// boundary and has aged out, and other actions and projects are invisible.
		recent, err := store.RecentRecipients(ctx, "proj_1", "cart_abandoned", base.Add(2*time.Hour), candidates)
		jtest.RequireNil(t, err)
		require.Equal(t, []string{"carol@example.com"}, recent)

		// Input order is preserved.
		recent, err = store.RecentRecipients(ctx, "proj_1", "cart_abandoned", base.Add(-time.Hour), candidates)
		jtest.RequireNil(t, err)
		require.Equal(t, []string{"alice@example.com", "bob@example.com", "carol@example.com"}, recent)

		// Matching happens on the normalised form of the input.
		recent, err = store.RecentRecipients(ctx, "proj_1", "cart_abandoned", base.Add(3*time.Hour), []string{"  CAROL@Example.com "})
		jtest.RequireNil(t, err)
		require.Equal(t, []string{"  CAROL@Example.com "}, recent)

		// A newer send from any run moves the recipient's cooldown forward.
		run := makeRun("proj_1", "cart_abandoned", "alice-replay", base)
		err = store.CreateRun(ctx, run)
		jtest.RequireNil(t, err)

		err = store.UpsertSend(ctx, makeSend(run, "alice@example.com", workflowrun.SendStatusSent, base.Add(5*time.Hour)))
		jtest.RequireNil(t, err)

		recent, err = store.RecentRecipients(ctx, "proj_1", "cart_abandoned", base.Add(4*time.Hour), candidates)
		jtest.RequireNil(t, err)
		require.Equal(t, []string{"alice@example.com"}, recent)
	})
}

func testCreateAttribution(t *testing.T, store workflowrun.Store) {
	t.Run("CreateAttribution", func(t *testing.T) {
		ctx := context.Background()
		base := time.Now().Truncate(time.Second)

		run := makeRun("proj_1", "cart_abandoned", "order-1", base)
		err := store.CreateRun(ctx, run)
		jtest.RequireNil(t, err)

		first := makeAttribution(run, "evt_1", workflowrun.MatchMethodLink, base.Add(time.Hour))
		err = store.CreateAttribution(ctx, first)
		jtest.RequireNil(t, err)

		looked, err := store.LookupAttribution(ctx, "evt_1")
		jtest.RequireNil(t, err)
		attributionIsEqual(t, *first, *looked)

		// A payment event can only ever be claimed once.
		rival := makeRun("proj_1", "cart_abandoned", "order-2", base)
		err = store.CreateRun(ctx, rival)
		jtest.RequireNil(t, err)

		err = store.CreateAttribution(ctx, makeAttribution(rival, "evt_1", workflowrun.MatchMethodEmail, base.Add(2*time.Hour)))
		jtest.Require(t, workflowrun.ErrAlreadyExists, err)

		_, err = store.LookupAttribution(ctx, "evt_unknown")
		jtest.Require(t, workflowrun.ErrAttributionNotFound, err)

		second := makeAttribution(run, "evt_2", workflowrun.MatchMethodAmount, base.Add(3*time.Hour))
		err = store.CreateAttribution(ctx, second)
		jtest.RequireNil(t, err)

		attributions, err := store.ListAttributionsByRun(ctx, run.ID)
		jtest.RequireNil(t, err)
		require.Len(t, attributions, 2)
		require.Equal(t, "evt_1", attributions[0].PaymentEventID)
		require.Equal(t, "evt_2", attributions[1].PaymentEventID)

		attributions, err = store.ListAttributionsByRun(ctx, "unknown-run")
		jtest.RequireNil(t, err)
		require.Empty(t, attributions)
	})
}

func testOutboxEvents(t *testing.T, store workflowrun.Store) {
	t.Run("OutboxEvents", func(t *testing.T) {
		ctx := context.Background()
		base := time.Now().Truncate(time.Second)

		run := makeRun("proj_1", "cart_abandoned", "order-1", base)
		err := store.CreateRun(ctx, run)
		jtest.RequireNil(t, err)

		send := makeSend(run, "ana@example.com", workflowrun.SendStatusSent, base.Add(time.Minute))
		err = store.UpsertSend(ctx, send)
		jtest.RequireNil(t, err)

		attribution := makeAttribution(run, "evt_1", workflowrun.MatchMethodLink, base.Add(2*time.Minute))
		err = store.CreateAttribution(ctx, attribution)
		jtest.RequireNil(t, err)

		events, err := store.ListOutboxEvents(ctx, 10)
		jtest.RequireNil(t, err)
		require.Len(t, events, 3)

		seen := make(map[string]bool)
		for i, event := range events {
			require.NotEmpty(t, event.ID)
			require.Equal(t, "proj_1", event.ProjectID)
			require.NotEmpty(t, event.Data)
			require.False(t, seen[event.ID])
			seen[event.ID] = true

			if i > 0 {
				require.False(t, event.CreatedAt.Before(events[i-1].CreatedAt))
			}
		}

		// Oldest first and the limit caps the page.
		page, err := store.ListOutboxEvents(ctx, 2)
		jtest.RequireNil(t, err)
		require.Len(t, page, 2)
		require.Equal(t, events[0].ID, page[0].ID)
		require.Equal(t, events[1].ID, page[1].ID)

		// Every upsert appends an event, replays included.
		err = store.UpsertSend(ctx, makeSend(run, "ana@example.com", workflowrun.SendStatusFailed, base.Add(3*time.Minute)))
		jtest.RequireNil(t, err)

		events, err = store.ListOutboxEvents(ctx, 10)
		jtest.RequireNil(t, err)
		require.Len(t, events, 4)

		err = store.DeleteOutboxEvent(ctx, events[0].ID)
		jtest.RequireNil(t, err)

		err = store.DeleteOutboxEvent(ctx, events[0].ID)
		jtest.Require(t, workflowrun.ErrOutboxEventNotFound, err)

		events, err = store.ListOutboxEvents(ctx, 10)
		jtest.RequireNil(t, err)
		require.Len(t, events, 3)
	})
}

func makeRun(projectID, action, idempotencyKey string, createdAt time.Time) *workflowrun.Run {
	return &workflowrun.Run{
		ID:             uuid.New().String(),
		ProjectID:      projectID,
		Action:         action,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      createdAt,
	}
}

func makeSend(run *workflowrun.Run, recipient string, status workflowrun.SendStatus, sentAt time.Time) *workflowrun.Send {
	return &workflowrun.Send{
		ID:        uuid.New().String(),
		RunID:     run.ID,
		ProjectID: run.ProjectID,
		Action:    run.Action,
		Recipient: workflowrun.NormaliseRecipient(recipient),
		Status:    status,
		SentAt:    sentAt,
		CreatedAt: sentAt,
	}
}

func makeAttribution(run *workflowrun.Run, paymentEventID string, method workflowrun.MatchMethod, attributedAt time.Time) *workflowrun.Attribution {
	return &workflowrun.Attribution{
		ID:             uuid.New().String(),
		ProjectID:      run.ProjectID,
		RunID:          run.ID,
		PaymentEventID: paymentEventID,
		Model:          workflowrun.ModelLastTouch48h,
		Method:         method,
		Confidence:     method.Confidence(),
		AmountMinor:    4990,
		Currency:       "EUR",
		AttributedAt:   attributedAt,
	}
}

func runIsEqual(t *testing.T, a, b workflowrun.Run) {
	require.Equal(t, a.ID, b.ID)
	require.Equal(t, a.ProjectID, b.ProjectID)
	require.Equal(t, a.Action, b.Action)
	require.Equal(t, a.IdempotencyKey, b.IdempotencyKey)
	require.Equal(t, a.TriggerContext, b.TriggerContext)
	require.WithinDuration(t, a.CreatedAt, b.CreatedAt, time.Second*10)
}

func sendIsEqual(t *testing.T, a, b workflowrun.Send) {
	require.Equal(t, a.ID, b.ID)
	require.Equal(t, a.RunID, b.RunID)
	require.Equal(t, a.ProjectID, b.ProjectID)
	require.Equal(t, a.Action, b.Action)
	require.Equal(t, a.Recipient, b.Recipient)
	require.Equal(t, a.Status, b.Status)
	require.WithinDuration(t, a.SentAt, b.SentAt, time.Second*10)
	require.WithinDuration(t, a.CreatedAt, b.CreatedAt, time.Second*10)
}

func attributionIsEqual(t *testing.T, a, b workflowrun.Attribution) {
	require.Equal(t, a.ID, b.ID)
	require.Equal(t, a.ProjectID, b.ProjectID)
	require.Equal(t, a.RunID, b.RunID)
	require.Equal(t, a.PaymentEventID, b.PaymentEventID)
	require.Equal(t, a.Model, b.Model)
	require.Equal(t, a.Method, b.Method)
	require.Equal(t, a.Confidence, b.Confidence)
	require.Equal(t, a.AmountMinor, b.AmountMinor)
	require.Equal(t, a.Currency, b.Currency)
	require.WithinDuration(t, a.AttributedAt, b.AttributedAt, time.Second*10)
}
