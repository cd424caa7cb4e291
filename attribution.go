package workflowrun

import (
	"fmt"
	"time"
)

// ModelLastTouch48h credits the most recent eligible run preceding a payment within
// a 48 hour lookback. It is the only supported attribution model; the tag is stored
// on every attribution row so a second model can be introduced without rewriting
// history.
const ModelLastTouch48h = "last_touch_48h"

// DefaultAttributionWindow is the lookback of the last touch model: only runs
// created inside this window before the payment event may claim it.
const DefaultAttributionWindow = 48 * time.Hour

// Attribution links one payment event to exactly one run. PaymentEventID is unique
// so a payment can never be claimed twice across workflows. Rows are append only
// and never mutated after insert so the outcome ledger stays tamper evident.
type Attribution struct {
	ID             string
	ProjectID      string
	RunID          string
	PaymentEventID string
	Model          string
	Method         MatchMethod
	Confidence     Confidence
	AmountMinor    int64
	Currency       string
	AttributedAt   time.Time
}

// PaymentEvent is a payment or conversion delivered by the webhook intake. ID is
// the provider's delivery identifier and scopes attribution idempotency.
type PaymentEvent struct {
	ID          string
	ProjectID   string
	AmountMinor int64
	Currency    string
	OccurredAt  time.Time
}

// RunCandidate pairs a run with the evidence that matched it to a payment event.
// Callers supply candidates in the order they were matched; the method's derived
// confidence decides which candidate claims the payment.
type RunCandidate struct {
	RunID  string
	Method MatchMethod
}

// MatchMethod is the kind of evidence linking a payment to a run, in descending
// strength: an explicit link beats an email match beats a cart or amount match.
type MatchMethod int

const (
	MatchMethodUnknown  MatchMethod = 0
	MatchMethodLink     MatchMethod = 1
	MatchMethodEmail    MatchMethod = 2
	MatchMethodCart     MatchMethod = 3
	MatchMethodAmount   MatchMethod = 4
	matchMethodSentinel MatchMethod = 5
)

func (mm MatchMethod) String() string {
	switch mm {
	case MatchMethodUnknown:
		return "Unknown"
	case MatchMethodLink:
		return "Link"
	case MatchMethodEmail:
		return "Email"
	case MatchMethodCart:
		return "Cart"
	case MatchMethodAmount:
		return "Amount"
	default:
		return fmt.Sprintf("MatchMethod(%d)", mm)
	}
}

func (mm MatchMethod) Valid() bool {
	return mm > MatchMethodUnknown && mm < matchMethodSentinel
}

// Confidence derives deterministically from the match method and is stored
// alongside it so ledger readers never need the derivation rules.
func (mm MatchMethod) Confidence() Confidence {
	switch mm {
	case MatchMethodLink:
		return ConfidenceHigh
	case MatchMethodEmail:
		return ConfidenceMedium
	case MatchMethodCart, MatchMethodAmount:
		return ConfidenceLow
	default:
		return ConfidenceUnknown
	}
}

// Confidence is the qualitative strength of the evidence behind an attribution.
type Confidence int

const (
	ConfidenceUnknown  Confidence = 0
	ConfidenceLow      Confidence = 1
	ConfidenceMedium   Confidence = 2
	ConfidenceHigh     Confidence = 3
	confidenceSentinel Confidence = 4
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceUnknown:
		return "Unknown"
	case ConfidenceLow:
		return "Low"
	case ConfidenceMedium:
		return "Medium"
	case ConfidenceHigh:
		return "High"
	default:
		return fmt.Sprintf("Confidence(%d)", c)
	}
}

func (c Confidence) Valid() bool {
	return c > ConfidenceUnknown && c < confidenceSentinel
}
