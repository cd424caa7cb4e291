package workflowrun

import (
	"context"
	"time"
)

// RunStore holds the append only run rows. Implementations must enforce uniqueness
// of the (project, action, idempotency key) triple; that constraint, not
// application locking, is what serialises concurrent StartRun callers.
type RunStore interface {
	// CreateRun persists a new run and a RunStarted outbox event in a single
	// transaction. ErrAlreadyExists is returned when a run already holds the same
	// (ProjectID, Action, IdempotencyKey) triple.
	CreateRun(ctx context.Context, run *Run) error
	LookupRun(ctx context.Context, runID string) (*Run, error)
	LookupRunByKey(ctx context.Context, projectID, action, idempotencyKey string) (*Run, error)
	// ListRecentRuns returns the project's runs created at or after since, most
	// recent first.
	ListRecentRuns(ctx context.Context, projectID string, since time.Time) ([]Run, error)
}

// SendStore holds the send audit log. Rows are unique per (RunID, Recipient).
type SendStore interface {
	// UpsertSend inserts the send or, when a row already exists for the send's
	// (RunID, Recipient), updates its Status and SentAt in place (last writer
	// wins). The stored row keeps its original ID and CreatedAt across replays. A
	// SendRecorded outbox event is written in the same transaction.
	UpsertSend(ctx context.Context, send *Send) error
	LookupSend(ctx context.Context, runID, recipient string) (*Send, error)
	ListSendsByRun(ctx context.Context, runID string) ([]Send, error)
	// RecentRecipients is the cooldown probe: it returns the subset of recipients
	// with a send for (project, action) whose SentAt is strictly after since,
	// preserving the input order. Recipients are matched on their normalised form.
	RecentRecipients(ctx context.Context, projectID, action string, since time.Time, recipients []string) ([]string, error)
}

// AttributionStore holds the append only outcome ledger. Rows are unique per
// payment event, which is what makes first-claim-wins safe under duplicate
// webhook deliveries.
type AttributionStore interface {
	// CreateAttribution persists the attribution and an OutcomeAttributed outbox
	// event in a single transaction. ErrAlreadyExists is returned when the payment
	// event has already been claimed.
	CreateAttribution(ctx context.Context, attribution *Attribution) error
	LookupAttribution(ctx context.Context, paymentEventID string) (*Attribution, error)
	ListAttributionsByRun(ctx context.Context, runID string) ([]Attribution, error)
}

// OutboxStore exposes the undelivered outbox events that every store write appends
// transactionally. ForwardOutboxForever drains it into an EventStreamer.
type OutboxStore interface {
	// ListOutboxEvents returns up to limit undelivered events, oldest first.
	ListOutboxEvents(ctx context.Context, limit int64) ([]OutboxEvent, error)
	// DeleteOutboxEvent removes an event once it has been published.
	// ErrOutboxEventNotFound is returned when the event was already deleted,
	// which happens when forwarder instances race.
	DeleteOutboxEvent(ctx context.Context, id string) error
}

// Store is the transactional persistence contract the service is constructed with.
// Implementations should all be tested with adaptertest.RunStoreTest.
type Store interface {
	RunStore
	SendStore
	AttributionStore
	OutboxStore
}
