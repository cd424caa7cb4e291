package sqlstore

import (
	"context"
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/easymodehq/workflowrun"
)

// mysqlDupEntryNumber is the server error for a unique index violation.
const mysqlDupEntryNumber = 1062

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}

	return me.Number == mysqlDupEntryNumber
}

func (s *SQLStore) insertRun(ctx context.Context, tx *sql.Tx, run *workflowrun.Run) error {
	triggerContext, err := workflowrun.Marshal(&run.TriggerContext)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "insert into "+s.runTableName+" set "+
		" id=?, project_id=?, action=?, idempotency_key=?, trigger_context=?, created_at=? ",
		run.ID,
		run.ProjectID,
		run.Action,
		run.IdempotencyKey,
		triggerContext,
		run.CreatedAt,
	)
	if isDuplicateEntry(err) {
		return errors.Wrap(workflowrun.ErrAlreadyExists, "run exists", j.MKV{
			"project_id":      run.ProjectID,
			"action":          run.Action,
			"idempotency_key": run.IdempotencyKey,
		})
	} else if err != nil {
		return errors.Wrap(err, "insert run")
	}

	return nil
}

func (s *SQLStore) insertAttribution(ctx context.Context, tx *sql.Tx, attribution *workflowrun.Attribution) error {
	_, err := tx.ExecContext(ctx, "insert into "+s.attributionTableName+" set "+
		" id=?, project_id=?, run_id=?, payment_event_id=?, model=?, method=?, confidence=?, amount_minor=?, currency=?, attributed_at=? ",
		attribution.ID,
		attribution.ProjectID,
		attribution.RunID,
		attribution.PaymentEventID,
		attribution.Model,
		int(attribution.Method),
		int(attribution.Confidence),
		attribution.AmountMinor,
		attribution.Currency,
		attribution.AttributedAt,
	)
	if isDuplicateEntry(err) {
		return errors.Wrap(workflowrun.ErrAlreadyExists, "attribution exists", j.KV("payment_event_id", attribution.PaymentEventID))
	} else if err != nil {
		return errors.Wrap(err, "insert attribution")
	}

	return nil
}

func (s *SQLStore) insertOutboxEvent(ctx context.Context, tx *sql.Tx, eventData workflowrun.OutboxEventData) error {
	_, err := tx.ExecContext(ctx, "insert into "+s.outboxTableName+" set "+
		" id=?, project_id=?, data=?, created_at=? ",
		uuid.New().String(),
		eventData.ProjectID,
		eventData.Data,
		eventData.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert outbox event", j.KV("project_id", eventData.ProjectID))
	}

	return nil
}

func runScan(r row) (*workflowrun.Run, error) {
	var (
		run            workflowrun.Run
		triggerContext []byte
	)
	err := r.Scan(
		&run.ID,
		&run.ProjectID,
		&run.Action,
		&run.IdempotencyKey,
		&triggerContext,
		&run.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(workflowrun.ErrRunNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "runScan")
	}

	err = workflowrun.Unmarshal(triggerContext, &run.TriggerContext)
	if err != nil {
		return nil, err
	}

	return &run, nil
}

func sendScan(r row) (*workflowrun.Send, error) {
	var send workflowrun.Send
	err := r.Scan(
		&send.ID,
		&send.RunID,
		&send.ProjectID,
		&send.Action,
		&send.Recipient,
		&send.Status,
		&send.SentAt,
		&send.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(workflowrun.ErrSendNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "sendScan")
	}

	return &send, nil
}

func attributionScan(r row) (*workflowrun.Attribution, error) {
	var attribution workflowrun.Attribution
	err := r.Scan(
		&attribution.ID,
		&attribution.ProjectID,
		&attribution.RunID,
		&attribution.PaymentEventID,
		&attribution.Model,
		&attribution.Method,
		&attribution.Confidence,
		&attribution.AmountMinor,
		&attribution.Currency,
		&attribution.AttributedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(workflowrun.ErrAttributionNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "attributionScan")
	}

	return &attribution, nil
}

func outboxScan(r row) (*workflowrun.OutboxEvent, error) {
	var event workflowrun.OutboxEvent
	err := r.Scan(
		&event.ID,
		&event.ProjectID,
		&event.Data,
		&event.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(workflowrun.ErrOutboxEventNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "outboxScan")
	}

	return &event, nil
}

// row is a common interface for *sql.Rows and *sql.Row.
type row interface {
	Scan(dest ...any) error
}
