package workflowrun

import (
	"context"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/easymodehq/workflowrun/internal/metrics"
)

// RecordSend records the delivery outcome for one recipient of a run. The first
// call inserts the audit row; replays of a retried run update the stored status
// and sent timestamp in place (last writer wins) so exactly one row per
// (run, recipient) ever exists. The stored row is returned, which on a replay
// keeps the original row identity.
func (s *Service) RecordSend(ctx context.Context, run *Run, recipient string, status SendStatus) (*Send, error) {
	if run == nil || run.ID == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "run is required")
	}

	normalised := NormaliseRecipient(recipient)
	if normalised == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "recipient is required")
	}

	if !status.Valid() {
		return nil, errors.Wrap(ErrInvalidSendStatus, "", j.MKV{
			"status": status.String(),
		})
	}

	uid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	send := &Send{
		ID:        uid.String(),
		RunID:     run.ID,
		ProjectID: run.ProjectID,
		Action:    run.Action,
		Recipient: normalised,
		Status:    status,
		SentAt:    now,
		CreatedAt: now,
	}

	err = s.store.UpsertSend(ctx, send)
	if err != nil {
		return nil, errors.Wrap(err, "record send", j.MKV{
			"run_id":    run.ID,
			"recipient": normalised,
		})
	}

	err = s.cooldown.MarkSent(ctx, run.ProjectID, run.Action, normalised, now)
	if err != nil {
		return nil, errors.Wrap(err, "mark cooldown", j.MKV{
			"run_id":    run.ID,
			"recipient": normalised,
		})
	}

	metrics.SendsRecorded.WithLabelValues(run.Action, status.String()).Inc()

	stored, err := s.store.LookupSend(ctx, run.ID, normalised)
	if err != nil {
		return nil, err
	}

	return stored, nil
}
