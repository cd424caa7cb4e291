package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/easymodehq/workflowrun"
)

// Store is the SQLite implementation of the store contract. Conflicting writes
// are resolved with ON CONFLICT clauses instead of error sniffing: creates use
// DO NOTHING and report workflowrun.ErrAlreadyExists when no row was inserted,
// and the send upsert uses DO UPDATE on the (run_id, recipient) key.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ workflowrun.Store = (*Store)(nil)

func (s *Store) CreateRun(ctx context.Context, run *workflowrun.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	triggerContext, err := workflowrun.Marshal(&run.TriggerContext)
	if err != nil {
		return err
	}

	resp, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_runs
		(id, project_id, action, idempotency_key, trigger_context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		run.ID, run.ProjectID, run.Action, run.IdempotencyKey, triggerContext, run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	inserted, err := resp.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return workflowrun.ErrAlreadyExists
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

func (s *Store) LookupRun(ctx context.Context, runID string) (*workflowrun.Run, error) {
	return runScan(s.db.QueryRowContext(ctx, runSelect+"WHERE id = ?", runID))
}

func (s *Store) LookupRunByKey(ctx context.Context, projectID, action, idempotencyKey string) (*workflowrun.Run, error) {
	return runScan(s.db.QueryRowContext(ctx,
		runSelect+"WHERE project_id = ? AND action = ? AND idempotency_key = ?",
		projectID, action, idempotencyKey,
	))
}

func (s *Store) ListRecentRuns(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		runSelect+"WHERE project_id = ? AND created_at >= ? ORDER BY created_at DESC",
		projectID, since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
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
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return runs, nil
}

func (s *Store) UpsertSend(ctx context.Context, send *workflowrun.Send) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	recipient := workflowrun.NormaliseRecipient(send.Recipient)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_sends
		(id, run_id, project_id, action, recipient, status, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, recipient) DO UPDATE SET
			status = excluded.status,
			sent_at = excluded.sent_at`,
		send.ID, send.RunID, send.ProjectID, send.Action, recipient,
		int(send.Status), send.SentAt.UnixMilli(), send.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert send: %w", err)
	}

	// The stored row keeps its original id on a replay, so re-read it before
	// building the outbox event.
	stored, err := sendScan(tx.QueryRowContext(ctx,
		sendSelect+"WHERE run_id = ? AND recipient = ?",
		send.RunID, recipient,
	))
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

func (s *Store) LookupSend(ctx context.Context, runID, recipient string) (*workflowrun.Send, error) {
	return sendScan(s.db.QueryRowContext(ctx,
		sendSelect+"WHERE run_id = ? AND recipient = ?",
		runID, workflowrun.NormaliseRecipient(recipient),
	))
}

func (s *Store) ListSendsByRun(ctx context.Context, runID string) ([]workflowrun.Send, error) {
	rows, err := s.db.QueryContext(ctx,
		sendSelect+"WHERE run_id = ? ORDER BY created_at ASC, id ASC",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sends: %w", err)
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
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return sends, nil
}

func (s *Store) RecentRecipients(ctx context.Context, projectID, action string, since time.Time, recipients []string) ([]string, error) {
	if len(recipients) == 0 {
		return nil, nil
	}

	normalised := make([]string, 0, len(recipients))
	placeholders := ""
	args := []any{projectID, action, since.UnixMilli()}
	for i, recipient := range recipients {
		n := workflowrun.NormaliseRecipient(recipient)
		normalised = append(normalised, n)
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, n)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT recipient FROM workflow_sends
		WHERE project_id = ? AND action = ? AND sent_at > ? AND recipient IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent recipients: %w", err)
	}
	defer rows.Close()

	recentSet := make(map[string]bool)
	for rows.Next() {
		var recipient string
		if err := rows.Scan(&recipient); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recentSet[recipient] = true
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	var recent []string
	for i, recipient := range recipients {
		if recentSet[normalised[i]] {
			recent = append(recent, recipient)
		}
	}

	return recent, nil
}

func (s *Store) CreateAttribution(ctx context.Context, attribution *workflowrun.Attribution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	resp, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_attributions
		(id, project_id, run_id, payment_event_id, model, method, confidence, amount_minor, currency, attributed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		attribution.ID, attribution.ProjectID, attribution.RunID, attribution.PaymentEventID,
		attribution.Model, int(attribution.Method), int(attribution.Confidence),
		attribution.AmountMinor, attribution.Currency, attribution.AttributedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert attribution: %w", err)
	}

	inserted, err := resp.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return workflowrun.ErrAlreadyExists
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

func (s *Store) LookupAttribution(ctx context.Context, paymentEventID string) (*workflowrun.Attribution, error) {
	return attributionScan(s.db.QueryRowContext(ctx,
		attributionSelect+"WHERE payment_event_id = ?",
		paymentEventID,
	))
}

func (s *Store) ListAttributionsByRun(ctx context.Context, runID string) ([]workflowrun.Attribution, error) {
	rows, err := s.db.QueryContext(ctx,
		attributionSelect+"WHERE run_id = ? ORDER BY attributed_at ASC, id ASC",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attributions: %w", err)
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
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return attributions, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, limit int64) ([]workflowrun.OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, data, created_at FROM workflow_outbox
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []workflowrun.OutboxEvent
	for rows.Next() {
		var (
			event workflowrun.OutboxEvent
			ms    int64
		)
		err := rows.Scan(&event.ID, &event.ProjectID, &event.Data, &ms)
		if err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		event.CreatedAt = time.UnixMilli(ms)
		events = append(events, event)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return events, nil
}

func (s *Store) DeleteOutboxEvent(ctx context.Context, id string) error {
	resp, err := s.db.ExecContext(ctx, "DELETE FROM workflow_outbox WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete outbox event: %w", err)
	}

	affected, err := resp.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return workflowrun.ErrOutboxEventNotFound
	}

	return nil
}

func (s *Store) insertOutboxEvent(ctx context.Context, tx *sql.Tx, eventData workflowrun.OutboxEventData) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_outbox (id, project_id, data, created_at)
		VALUES (?, ?, ?, ?)`,
		uuid.New().String(), eventData.ProjectID, eventData.Data, eventData.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

const (
	runSelect         = "SELECT id, project_id, action, idempotency_key, trigger_context, created_at FROM workflow_runs "
	sendSelect        = "SELECT id, run_id, project_id, action, recipient, status, sent_at, created_at FROM workflow_sends "
	attributionSelect = "SELECT id, project_id, run_id, payment_event_id, model, method, confidence, amount_minor, currency, attributed_at FROM workflow_attributions "
)

func runScan(row scannable) (*workflowrun.Run, error) {
	var (
		run            workflowrun.Run
		triggerContext []byte
		createdAt      int64
	)
	err := row.Scan(
		&run.ID,
		&run.ProjectID,
		&run.Action,
		&run.IdempotencyKey,
		&triggerContext,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, workflowrun.ErrRunNotFound
	} else if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	err = workflowrun.Unmarshal(triggerContext, &run.TriggerContext)
	if err != nil {
		return nil, err
	}

	run.CreatedAt = time.UnixMilli(createdAt)

	return &run, nil
}

func sendScan(row scannable) (*workflowrun.Send, error) {
	var (
		send      workflowrun.Send
		sentAt    int64
		createdAt int64
	)
	err := row.Scan(
		&send.ID,
		&send.RunID,
		&send.ProjectID,
		&send.Action,
		&send.Recipient,
		&send.Status,
		&sentAt,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, workflowrun.ErrSendNotFound
	} else if err != nil {
		return nil, fmt.Errorf("scan send: %w", err)
	}

	send.SentAt = time.UnixMilli(sentAt)
	send.CreatedAt = time.UnixMilli(createdAt)

	return &send, nil
}

func attributionScan(row scannable) (*workflowrun.Attribution, error) {
	var (
		attribution  workflowrun.Attribution
		attributedAt int64
	)
	err := row.Scan(
		&attribution.ID,
		&attribution.ProjectID,
		&attribution.RunID,
		&attribution.PaymentEventID,
		&attribution.Model,
		&attribution.Method,
		&attribution.Confidence,
		&attribution.AmountMinor,
		&attribution.Currency,
		&attributedAt,
	)
	if err == sql.ErrNoRows {
		return nil, workflowrun.ErrAttributionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("scan attribution: %w", err)
	}

	attribution.AttributedAt = time.UnixMilli(attributedAt)

	return &attribution, nil
}

type scannable interface {
	Scan(dest ...any) error
}
