package workflowrun

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/easymodehq/workflowrun/internal/metrics"
)

// AttributeOutcome claims a payment event for the best matching run under the last
// touch model: of the candidate runs created inside the attribution window before
// the event, the highest derived confidence wins and run recency breaks ties.
// Exactly one attribution ever exists per payment event. A payment that was
// already claimed, including by a concurrent duplicate webhook delivery, returns
// the existing attribution unchanged. ErrNoEligibleRuns is returned when no
// candidate survives the window.
func (s *Service) AttributeOutcome(ctx context.Context, ev PaymentEvent, candidates []RunCandidate) (*Attribution, error) {
	if ev.ID == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "payment event id is required")
	}

	if ev.ProjectID == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "payment event project id is required")
	}

	if ev.OccurredAt.IsZero() {
		return nil, errors.Wrap(ErrInvalidArgument, "payment event occurred at is required")
	}

	// An invalid match method is a programming error on the caller's side and is
	// rejected before any store write takes place.
	for _, candidate := range candidates {
		if !candidate.Method.Valid() {
			return nil, errors.Wrap(ErrInvalidMatchMethod, "", j.MKV{
				"run_id": candidate.RunID,
				"method": candidate.Method.String(),
			})
		}
	}

	existing, err := s.store.LookupAttribution(ctx, ev.ID)
	if err == nil {
		s.duplicateClaim(ctx, ev, existing)
		return existing, nil
	} else if !errors.Is(err, ErrAttributionNotFound) {
		return nil, err
	}

	best, err := s.selectCandidate(ctx, ev, candidates)
	if err != nil {
		return nil, err
	}

	uid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	attribution := &Attribution{
		ID:             uid.String(),
		ProjectID:      ev.ProjectID,
		RunID:          best.run.ID,
		PaymentEventID: ev.ID,
		Model:          ModelLastTouch48h,
		Method:         best.method,
		Confidence:     best.method.Confidence(),
		AmountMinor:    ev.AmountMinor,
		Currency:       ev.Currency,
		AttributedAt:   s.clock.Now(),
	}

	claimed, inserted, err := insertOrGet(ctx,
		func(ctx context.Context) (*Attribution, error) {
			err := s.store.CreateAttribution(ctx, attribution)
			if err != nil {
				return nil, err
			}

			return attribution, nil
		},
		func(ctx context.Context) (*Attribution, error) {
			return s.store.LookupAttribution(ctx, ev.ID)
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "attribute outcome", j.MKV{
			"payment_event_id": ev.ID,
			"project_id":       ev.ProjectID,
		})
	}

	if !inserted {
		s.duplicateClaim(ctx, ev, claimed)
		return claimed, nil
	}

	metrics.AttributionsClaimed.WithLabelValues(best.method.String()).Inc()

	return claimed, nil
}

type scoredCandidate struct {
	run    *Run
	method MatchMethod
}

// selectCandidate resolves the candidate runs and picks the winner: highest
// derived confidence first, most recently created run on ties. Candidates naming
// unknown runs, runs of another project, or runs outside the attribution window
// carry no usable evidence and are skipped.
func (s *Service) selectCandidate(ctx context.Context, ev PaymentEvent, candidates []RunCandidate) (scoredCandidate, error) {
	var best scoredCandidate
	for _, candidate := range candidates {
		run, err := s.store.LookupRun(ctx, candidate.RunID)
		if errors.Is(err, ErrRunNotFound) {
			// NoReturnErr: Skip candidates that no longer resolve to a run.
			continue
		} else if err != nil {
			return scoredCandidate{}, err
		}

		if run.ProjectID != ev.ProjectID {
			continue
		}

		if !s.withinAttributionWindow(run, ev) {
			continue
		}

		if best.run == nil {
			best = scoredCandidate{run: run, method: candidate.Method}
			continue
		}

		if candidate.Method.Confidence() != best.method.Confidence() {
			if candidate.Method.Confidence() > best.method.Confidence() {
				best = scoredCandidate{run: run, method: candidate.Method}
			}

			continue
		}

		if run.CreatedAt.After(best.run.CreatedAt) {
			best = scoredCandidate{run: run, method: candidate.Method}
		}
	}

	if best.run == nil {
		return scoredCandidate{}, errors.Wrap(ErrNoEligibleRuns, "", j.MKV{
			"payment_event_id": ev.ID,
			"project_id":       ev.ProjectID,
			"candidates":       strconv.Itoa(len(candidates)),
		})
	}

	return best, nil
}

// withinAttributionWindow reports whether the run can be credited for the event:
// created no later than the event and strictly less than the window before it. A
// run exactly window old has aged out.
func (s *Service) withinAttributionWindow(run *Run, ev PaymentEvent) bool {
	if run.CreatedAt.After(ev.OccurredAt) {
		return false
	}

	return ev.OccurredAt.Sub(run.CreatedAt) < s.attributionWindow
}

func (s *Service) duplicateClaim(ctx context.Context, ev PaymentEvent, existing *Attribution) {
	metrics.DuplicateClaims.Inc()
	s.logger.Debug(ctx, "payment event already claimed", MKV{
		"payment_event_id": ev.ID,
		"project_id":       ev.ProjectID,
		"run_id":           existing.RunID,
		"attribution_id":   existing.ID,
	})
}
