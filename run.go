package workflowrun

import (
	"time"
)

// TriggerContext is the business data captured at the moment an action fires, such
// as the customer email, cart id, or order total. It is stored on the run and later
// used to match payment outcomes back to the run that produced them.
type TriggerContext map[string]string

// Well-known TriggerContext keys consumed by outcome matching.
const (
	ContextKeyEmail       = "email"
	ContextKeyCartID      = "cart_id"
	ContextKeyAmountMinor = "amount_minor"
)

func (tc TriggerContext) Clone() TriggerContext {
	if tc == nil {
		return nil
	}

	clone := make(TriggerContext, len(tc))
	for k, v := range tc {
		clone[k] = v
	}

	return clone
}

// Run is one attempted execution of a workflow action for a project. The
// (ProjectID, Action, IdempotencyKey) triple is unique so re-invocations with the
// same key resolve to the run created first. Runs are append only and never change
// after insert; everything that happens to a run afterwards is recorded as Send and
// Attribution rows referencing it.
type Run struct {
	ID             string
	ProjectID      string
	Action         string
	IdempotencyKey string
	TriggerContext TriggerContext
	CreatedAt      time.Time
}
