package webhook

import (
	"context"
	"strconv"

	"github.com/easymodehq/workflowrun"
)

// Evidence is the payment-side identity available for matching a payment back
// to a run: an explicit run link, the payer's email, and the cart the payment
// settled.
type Evidence struct {
	RunID  string
	Email  string
	CartID string
}

// ResolveCandidates assembles the candidate runs for a payment event: an
// explicit run link first, then recent runs of the project whose trigger
// context matches the payer's email, the cart id, or the paid amount. A run
// matching on several signals is offered once with its strongest one. The
// service derives confidence from each method and picks the winner, so slice
// order carries no weight.
func ResolveCandidates(ctx context.Context, service *workflowrun.Service, ev workflowrun.PaymentEvent, evidence Evidence) ([]workflowrun.RunCandidate, error) {
	var candidates []workflowrun.RunCandidate

	if evidence.RunID != "" {
		candidates = append(candidates, workflowrun.RunCandidate{
			RunID:  evidence.RunID,
			Method: workflowrun.MatchMethodLink,
		})
	}

	// Runs older than the attribution window can never claim the payment, so
	// the scan starts at the window's lower edge.
	since := ev.OccurredAt.Add(-service.AttributionWindow())
	runs, err := service.RecentRuns(ctx, ev.ProjectID, since)
	if err != nil {
		return nil, err
	}

	email := workflowrun.NormaliseRecipient(evidence.Email)
	amount := strconv.FormatInt(ev.AmountMinor, 10)

	for _, run := range runs {
		if run.ID == evidence.RunID {
			continue
		}

		tc := run.TriggerContext

		if email != "" && workflowrun.NormaliseRecipient(tc[workflowrun.ContextKeyEmail]) == email {
			candidates = append(candidates, workflowrun.RunCandidate{
				RunID:  run.ID,
				Method: workflowrun.MatchMethodEmail,
			})
			continue
		}

		if evidence.CartID != "" && tc[workflowrun.ContextKeyCartID] == evidence.CartID {
			candidates = append(candidates, workflowrun.RunCandidate{
				RunID:  run.ID,
				Method: workflowrun.MatchMethodCart,
			})
			continue
		}

		if ev.AmountMinor > 0 && tc[workflowrun.ContextKeyAmountMinor] == amount {
			candidates = append(candidates, workflowrun.RunCandidate{
				RunID:  run.ID,
				Method: workflowrun.MatchMethodAmount,
			})
		}
	}

	return candidates, nil
}
