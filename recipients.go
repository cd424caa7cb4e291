package workflowrun

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/easymodehq/workflowrun/internal/metrics"
)

// BuildRecipients filters candidates down to those eligible for a new send of
// (project, action): anyone with a send for the same pair strictly inside the
// cooldown window is dropped, whichever run produced that send and whatever its
// status was. The result preserves the caller's order and original spelling;
// matching happens on the normalised form. A zero cooldown disables filtering so
// every send attempt is allowed. A send exactly cooldown old no longer blocks.
func (s *Service) BuildRecipients(ctx context.Context, projectID, action string, candidates []string, cooldown time.Duration) ([]string, error) {
	if projectID == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "project id is required")
	}

	if action == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "action is required")
	}

	if cooldown < 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "cooldown cannot be negative", j.MKV{
			"cooldown": cooldown.String(),
		})
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	eligible := make([]string, 0, len(candidates))
	if cooldown == 0 {
		eligible = append(eligible, candidates...)
		return eligible, nil
	}

	normalised := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		normalised = append(normalised, NormaliseRecipient(candidate))
	}

	since := s.clock.Now().Add(-cooldown)
	recent, err := s.cooldown.SentWithin(ctx, projectID, action, normalised, since)
	if err != nil {
		return nil, errors.Wrap(err, "cooldown lookup", j.MKV{
			"project_id": projectID,
			"action":     action,
		})
	}

	cooling := make(map[string]bool, len(recent))
	for _, recipient := range recent {
		cooling[recipient] = true
	}

	for i, candidate := range candidates {
		if cooling[normalised[i]] {
			metrics.RecipientsExcluded.WithLabelValues(action).Inc()
			s.logger.Debug(ctx, "recipient excluded by cooldown", MKV{
				"project_id": projectID,
				"action":     action,
				"recipient":  normalised[i],
			})

			continue
		}

		eligible = append(eligible, candidate)
	}

	return eligible, nil
}
