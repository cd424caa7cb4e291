package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/easymodehq/workflowrun"
)

// SQLStore is the MySQL implementation of the store contract. Uniqueness is
// enforced by the unique indexes on (project_id, action, idempotency_key),
// (run_id, recipient), and (payment_event_id); a duplicate key error surfaces as
// ErrAlreadyExists which is what serialises racing writers.
type SQLStore struct {
	writer *sql.DB
	reader *sql.DB

	runTableName         string
	runCols              string
	runSelectPrefix      string
	sendTableName        string
	sendCols             string
	sendSelectPrefix     string
	attributionTableName string
	attributionCols      string
	attributionSelect    string
	outboxTableName      string
	outboxCols           string
	outboxSelectPrefix   string
}

func New(writer *sql.DB, reader *sql.DB) *SQLStore {
	s := &SQLStore{
		writer:               writer,
		reader:               reader,
		runTableName:         "workflow_runs",
		sendTableName:        "workflow_sends",
		attributionTableName: "workflow_attributions",
		outboxTableName:      "workflow_outbox",
	}

	s.runCols = " `id`, `project_id`, `action`, `idempotency_key`, `trigger_context`, `created_at` "
	s.runSelectPrefix = " select " + s.runCols + " from " + s.runTableName + " where "

	s.sendCols = " `id`, `run_id`, `project_id`, `action`, `recipient`, `status`, `sent_at`, `created_at` "
	s.sendSelectPrefix = " select " + s.sendCols + " from " + s.sendTableName + " where "

	s.attributionCols = " `id`, `project_id`, `run_id`, `payment_event_id`, `model`, `method`, `confidence`, `amount_minor`, `currency`, `attributed_at` "
	s.attributionSelect = " select " + s.attributionCols + " from " + s.attributionTableName + " where "

	s.outboxCols = " `id`, `project_id`, `data`, `created_at` "
	s.outboxSelectPrefix = " select " + s.outboxCols + " from " + s.outboxTableName + " where "

	return s
}

var _ workflowrun.Store = (*SQLStore)(nil)

func (s *SQLStore) CreateRun(ctx context.Context, run *workflowrun.Run) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = s.insertRun(ctx, tx, run)
	if err != nil {
		return err
	}

	eventData, err := workflowrun.MakeRunOutboxEventData(*run)
	if err != nil {
		return err
	}

	err = s.insertOutboxEvent(ctx, tx, eventData)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLStore) LookupRun(ctx context.Context, runID string) (*workflowrun.Run, error) {
	return runScan(s.reader.QueryRowContext(ctx, s.runSelectPrefix+"id=?", runID))
}

func (s *SQLStore) LookupRunByKey(ctx context.Context, projectID, action, idempotencyKey string) (*workflowrun.Run, error) {
	return runScan(s.reader.QueryRowContext(ctx,
		s.runSelectPrefix+"project_id=? and action=? and idempotency_key=?",
		projectID,
		action,
		idempotencyKey,
	))
}

func (s *SQLStore) ListRecentRuns(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error) {
	rows, err := s.reader.QueryContext(ctx,
		s.runSelectPrefix+"project_id=? and created_at>=? order by created_at desc",
		projectID,
		since,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list recent runs")
	}
	defer rows.Close()

	var runs []workflowrun.Run
	for rows.Next() {
		run, err := runScan(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, *run)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return runs, nil
}

func (s *SQLStore) UpsertSend(ctx context.Context, send *workflowrun.Send) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	recipient := workflowrun.NormaliseRecipient(send.Recipient)

	_, err = tx.ExecContext(ctx, "insert into "+s.sendTableName+" set "+
		" id=?, run_id=?, project_id=?, action=?, recipient=?, status=?, sent_at=?, created_at=? "+
		" on duplicate key update status=values(status), sent_at=values(sent_at) ",
		send.ID,
		send.RunID,
		send.ProjectID,
		send.Action,
		recipient,
		int(send.Status),
		send.SentAt,
		send.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "upsert send", j.MKV{
			"run_id":    send.RunID,
			"recipient": recipient,
		})
	}

	// Re-read the surviving row so the outbox event names the stored row, which
	// on a replay is the original insert.
	stored, err := sendScan(tx.QueryRowContext(ctx, s.sendSelectPrefix+"run_id=? and recipient=?", send.RunID, recipient))
	if err != nil {
		return err
	}

	eventData, err := workflowrun.MakeSendOutboxEventData(*stored)
	if err != nil {
		return err
	}

	err = s.insertOutboxEvent(ctx, tx, eventData)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLStore) LookupSend(ctx context.Context, runID, recipient string) (*workflowrun.Send, error) {
	return sendScan(s.reader.QueryRowContext(ctx,
		s.sendSelectPrefix+"run_id=? and recipient=?",
		runID,
		workflowrun.NormaliseRecipient(recipient),
	))
}

func (s *SQLStore) ListSendsByRun(ctx context.Context, runID string) ([]workflowrun.Send, error) {
	rows, err := s.reader.QueryContext(ctx,
		s.sendSelectPrefix+"run_id=? order by created_at asc, id asc",
		runID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list sends by run")
	}
	defer rows.Close()

	var sends []workflowrun.Send
	for rows.Next() {
		send, err := sendScan(rows)
		if err != nil {
			return nil, err
		}

		sends = append(sends, *send)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return sends, nil
}

func (s *SQLStore) RecentRecipients(ctx context.Context, projectID, action string, since time.Time, recipients []string) ([]string, error) {
	if len(recipients) == 0 {
		return nil, nil
	}

	normalised := make([]string, 0, len(recipients))
	placeholders := make([]string, 0, len(recipients))
	args := []any{projectID, action, since}
	for _, recipient := range recipients {
		n := workflowrun.NormaliseRecipient(recipient)
		normalised = append(normalised, n)
		placeholders = append(placeholders, "?")
		args = append(args, n)
	}

	rows, err := s.reader.QueryContext(ctx,
		"select distinct `recipient` from "+s.sendTableName+
			" where project_id=? and action=? and sent_at>? and recipient in ("+strings.Join(placeholders, ",")+")",
		args...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "recent recipients")
	}
	defer rows.Close()

	recentSet := make(map[string]bool)
	for rows.Next() {
		var recipient string
		err := rows.Scan(&recipient)
		if err != nil {
			return nil, errors.Wrap(err, "recipient scan")
		}

		recentSet[recipient] = true
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	var recent []string
	for i, recipient := range recipients {
		if recentSet[normalised[i]] {
			recent = append(recent, recipient)
		}
	}

	return recent, nil
}

func (s *SQLStore) CreateAttribution(ctx context.Context, attribution *workflowrun.Attribution) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = s.insertAttribution(ctx, tx, attribution)
	if err != nil {
		return err
	}

	eventData, err := workflowrun.MakeAttributionOutboxEventData(*attribution)
	if err != nil {
		return err
	}

	err = s.insertOutboxEvent(ctx, tx, eventData)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLStore) LookupAttribution(ctx context.Context, paymentEventID string) (*workflowrun.Attribution, error) {
	return attributionScan(s.reader.QueryRowContext(ctx,
		s.attributionSelect+"payment_event_id=?",
		paymentEventID,
	))
}

func (s *SQLStore) ListAttributionsByRun(ctx context.Context, runID string) ([]workflowrun.Attribution, error) {
	rows, err := s.reader.QueryContext(ctx,
		s.attributionSelect+"run_id=? order by attributed_at asc, id asc",
		runID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list attributions by run")
	}
	defer rows.Close()

	var attributions []workflowrun.Attribution
	for rows.Next() {
		attribution, err := attributionScan(rows)
		if err != nil {
			return nil, err
		}

		attributions = append(attributions, *attribution)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return attributions, nil
}

func (s *SQLStore) ListOutboxEvents(ctx context.Context, limit int64) ([]workflowrun.OutboxEvent, error) {
	rows, err := s.reader.QueryContext(ctx,
		s.outboxSelectPrefix+"1=1 order by created_at asc, id asc limit ?",
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list outbox events")
	}
	defer rows.Close()

	var events []workflowrun.OutboxEvent
	for rows.Next() {
		event, err := outboxScan(rows)
		if err != nil {
			return nil, err
		}

		events = append(events, *event)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return events, nil
}

func (s *SQLStore) DeleteOutboxEvent(ctx context.Context, id string) error {
	resp, err := s.writer.ExecContext(ctx, "delete from "+s.outboxTableName+" where id=?", id)
	if err != nil {
		return errors.Wrap(err, "delete outbox event", j.KV("id", id))
	}

	affected, err := resp.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return errors.Wrap(workflowrun.ErrOutboxEventNotFound, "", j.KV("id", id))
	}

	return nil
}
