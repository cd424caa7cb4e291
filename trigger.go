package workflowrun

import (
	"context"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/easymodehq/workflowrun/internal/metrics"
)

// StartRun creates the run for (project, action, idempotency key) or returns the
// run a previous invocation already created. Callers retry freely: replaying the
// same key never produces a second run or duplicate side effects. Two concurrent
// callers racing on the same key are serialised by the store's uniqueness
// constraint; the loser re-reads and returns the winner's run.
func (s *Service) StartRun(ctx context.Context, projectID, action, idempotencyKey string, tctx TriggerContext) (*Run, error) {
	if projectID == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "project id is required")
	}

	if action == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "action is required")
	}

	if idempotencyKey == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "idempotency key is required")
	}

	run, inserted, err := insertOrGet(ctx,
		func(ctx context.Context) (*Run, error) {
			uid, err := uuid.NewUUID()
			if err != nil {
				return nil, err
			}

			r := &Run{
				ID:             uid.String(),
				ProjectID:      projectID,
				Action:         action,
				IdempotencyKey: idempotencyKey,
				TriggerContext: tctx.Clone(),
				CreatedAt:      s.clock.Now(),
			}

			err = s.store.CreateRun(ctx, r)
			if err != nil {
				return nil, err
			}

			return r, nil
		},
		func(ctx context.Context) (*Run, error) {
			return s.store.LookupRunByKey(ctx, projectID, action, idempotencyKey)
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "start run", j.MKV{
			"project_id": projectID,
			"action":     action,
		})
	}

	if !inserted {
		metrics.RunsDeduplicated.WithLabelValues(action).Inc()
		s.logger.Debug(ctx, "workflow run replayed", MKV{
			"project_id":      projectID,
			"action":          action,
			"idempotency_key": idempotencyKey,
			"run_id":          run.ID,
		})

		return run, nil
	}

	metrics.RunsStarted.WithLabelValues(action).Inc()

	return run, nil
}
