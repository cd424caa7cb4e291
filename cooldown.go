package workflowrun

import (
	"context"
	"time"
)

// CooldownIndex answers which recipients were contacted recently for a
// (project, action) pair. The default implementation reads the send log, which is
// the source of truth; faster lookups (adapters/rediscooldown) can be swapped in
// with WithCooldownIndex and are fed by MarkSent on every recorded send.
type CooldownIndex interface {
	// MarkSent records that recipient was contacted for (project, action) at the
	// given time. Recipient is already normalised by the caller.
	MarkSent(ctx context.Context, projectID, action, recipient string, at time.Time) error
	// SentWithin returns the subset of recipients with a recorded send strictly
	// after since, preserving the input order. A send exactly at since does not
	// count; its recipient is eligible again.
	SentWithin(ctx context.Context, projectID, action string, recipients []string, since time.Time) ([]string, error)
}

func newStoreCooldownIndex(sends SendStore) *storeCooldownIndex {
	return &storeCooldownIndex{sends: sends}
}

// storeCooldownIndex derives cooldown answers straight from the send log.
type storeCooldownIndex struct {
	sends SendStore
}

func (i *storeCooldownIndex) MarkSent(ctx context.Context, projectID, action, recipient string, at time.Time) error {
	// The send log already holds the row that UpsertSend wrote.
	return nil
}

func (i *storeCooldownIndex) SentWithin(ctx context.Context, projectID, action string, recipients []string, since time.Time) ([]string, error) {
	return i.sends.RecentRecipients(ctx, projectID, action, since, recipients)
}

var _ CooldownIndex = (*storeCooldownIndex)(nil)
