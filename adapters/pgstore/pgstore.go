package pgstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/easymodehq/workflowrun"
)

// Store is the PostgreSQL implementation of the store contract, backed by a
// pgxpool. Uniqueness is enforced by the constraints on (project_id, action,
// idempotency_key), (run_id, recipient), and (payment_event_id); a 23505
// unique violation surfaces as ErrAlreadyExists which is what serialises
// racing writers.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ workflowrun.Store = (*Store)(nil)

// InitSchema creates the tables and indexes the store needs. It is safe to call
// on every startup.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflow_runs (
		id               text PRIMARY KEY,
		project_id       text NOT NULL,
		action           text NOT NULL,
		idempotency_key  text NOT NULL,
		trigger_context  jsonb,
		created_at       timestamptz NOT NULL,
		UNIQUE (project_id, action, idempotency_key)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_project_created_at
		ON workflow_runs (project_id, created_at);

	CREATE TABLE IF NOT EXISTS workflow_sends (
		id           text PRIMARY KEY,
		run_id       text NOT NULL,
		project_id   text NOT NULL,
		action       text NOT NULL,
		recipient    text NOT NULL,
		status       int NOT NULL,
		sent_at      timestamptz NOT NULL,
		created_at   timestamptz NOT NULL,
		UNIQUE (run_id, recipient)
	);
	CREATE INDEX IF NOT EXISTS idx_sends_project_action_sent_at
		ON workflow_sends (project_id, action, sent_at);

	CREATE TABLE IF NOT EXISTS workflow_attributions (
		id                text PRIMARY KEY,
		project_id        text NOT NULL,
		run_id            text NOT NULL,
		payment_event_id  text NOT NULL UNIQUE,
		model             text NOT NULL,
		method            int NOT NULL,
		confidence        int NOT NULL,
		amount_minor      bigint NOT NULL,
		currency          text NOT NULL,
		attributed_at     timestamptz NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attributions_run_id
		ON workflow_attributions (run_id);

	CREATE TABLE IF NOT EXISTS workflow_outbox (
		id          text PRIMARY KEY,
		project_id  text NOT NULL,
		data        bytea,
		created_at  timestamptz NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_created_at
		ON workflow_outbox (created_at);`

	_, err := pool.Exec(ctx, schema)
	if err != nil {
		return errors.Wrap(err, "init schema")
	}

	return nil
}

func (s *Store) CreateRun(ctx context.Context, run *workflowrun.Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	triggerContext, err := workflowrun.Marshal(&run.TriggerContext)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_runs (id, project_id, action, idempotency_key, trigger_context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.ProjectID, run.Action, run.IdempotencyKey, triggerContext, run.CreatedAt,
	)
	if isUniqueViolation(err) {
		return errors.Wrap(workflowrun.ErrAlreadyExists, "run exists", j.MKV{
			"project_id":      run.ProjectID,
			"action":          run.Action,
			"idempotency_key": run.IdempotencyKey,
		})
	} else if err != nil {
		return errors.Wrap(err, "insert run")
	}

	eventData, err := workflowrun.MakeRunOutboxEventData(*run)
	if err != nil {
		return err
	}

	err = insertOutboxEvent(ctx, tx, eventData)
	if err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(ctx), "commit")
}

func (s *Store) LookupRun(ctx context.Context, runID string) (*workflowrun.Run, error) {
	return runScan(s.pool.QueryRow(ctx, runSelect+"WHERE id = $1", runID))
}

func (s *Store) LookupRunByKey(ctx context.Context, projectID, action, idempotencyKey string) (*workflowrun.Run, error) {
	return runScan(s.pool.QueryRow(ctx,
		runSelect+"WHERE project_id = $1 AND action = $2 AND idempotency_key = $3",
		projectID, action, idempotencyKey,
	))
}

func (s *Store) ListRecentRuns(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error) {
	rows, err := s.pool.Query(ctx,
		runSelect+"WHERE project_id = $1 AND created_at >= $2 ORDER BY created_at DESC",
		projectID, since,
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

func (s *Store) UpsertSend(ctx context.Context, send *workflowrun.Send) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	recipient := workflowrun.NormaliseRecipient(send.Recipient)

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_sends (id, run_id, project_id, action, recipient, status, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, recipient) DO UPDATE SET
			status = EXCLUDED.status,
			sent_at = EXCLUDED.sent_at`,
		send.ID, send.RunID, send.ProjectID, send.Action, recipient,
		int(send.Status), send.SentAt, send.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "upsert send", j.MKV{
			"run_id":    send.RunID,
			"recipient": recipient,
		})
	}

	// Re-read the surviving row so the outbox event names the stored row, which
	// on a replay is the original insert.
	stored, err := sendScan(tx.QueryRow(ctx, sendSelect+"WHERE run_id = $1 AND recipient = $2", send.RunID, recipient))
	if err != nil {
		return err
	}

	eventData, err := workflowrun.MakeSendOutboxEventData(*stored)
	if err != nil {
		return err
	}

	err = insertOutboxEvent(ctx, tx, eventData)
	if err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(ctx), "commit")
}

func (s *Store) LookupSend(ctx context.Context, runID, recipient string) (*workflowrun.Send, error) {
	return sendScan(s.pool.QueryRow(ctx,
		sendSelect+"WHERE run_id = $1 AND recipient = $2",
		runID, workflowrun.NormaliseRecipient(recipient),
	))
}

func (s *Store) ListSendsByRun(ctx context.Context, runID string) ([]workflowrun.Send, error) {
	rows, err := s.pool.Query(ctx,
		sendSelect+"WHERE run_id = $1 ORDER BY created_at ASC, id ASC",
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

func (s *Store) RecentRecipients(ctx context.Context, projectID, action string, since time.Time, recipients []string) ([]string, error) {
	if len(recipients) == 0 {
		return nil, nil
	}

	normalised := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		normalised = append(normalised, workflowrun.NormaliseRecipient(recipient))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT recipient FROM workflow_sends
		WHERE project_id = $1 AND action = $2 AND sent_at > $3 AND recipient = ANY($4)`,
		projectID, action, since, normalised,
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

func (s *Store) CreateAttribution(ctx context.Context, attribution *workflowrun.Attribution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_attributions
		(id, project_id, run_id, payment_event_id, model, method, confidence, amount_minor, currency, attributed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attribution.ID, attribution.ProjectID, attribution.RunID, attribution.PaymentEventID,
		attribution.Model, int(attribution.Method), int(attribution.Confidence),
		attribution.AmountMinor, attribution.Currency, attribution.AttributedAt,
	)
	if isUniqueViolation(err) {
		return errors.Wrap(workflowrun.ErrAlreadyExists, "attribution exists", j.KV("payment_event_id", attribution.PaymentEventID))
	} else if err != nil {
		return errors.Wrap(err, "insert attribution")
	}

	eventData, err := workflowrun.MakeAttributionOutboxEventData(*attribution)
	if err != nil {
		return err
	}

	err = insertOutboxEvent(ctx, tx, eventData)
	if err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(ctx), "commit")
}

func (s *Store) LookupAttribution(ctx context.Context, paymentEventID string) (*workflowrun.Attribution, error) {
	return attributionScan(s.pool.QueryRow(ctx,
		attributionSelect+"WHERE payment_event_id = $1",
		paymentEventID,
	))
}

func (s *Store) ListAttributionsByRun(ctx context.Context, runID string) ([]workflowrun.Attribution, error) {
	rows, err := s.pool.Query(ctx,
		attributionSelect+"WHERE run_id = $1 ORDER BY attributed_at ASC, id ASC",
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

func (s *Store) ListOutboxEvents(ctx context.Context, limit int64) ([]workflowrun.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, data, created_at FROM workflow_outbox
		ORDER BY created_at ASC, id ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list outbox events")
	}
	defer rows.Close()

	var events []workflowrun.OutboxEvent
	for rows.Next() {
		var event workflowrun.OutboxEvent
		err := rows.Scan(&event.ID, &event.ProjectID, &event.Data, &event.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "outbox scan")
		}
		events = append(events, event)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return events, nil
}

func (s *Store) DeleteOutboxEvent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM workflow_outbox WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "delete outbox event", j.KV("id", id))
	}

	if tag.RowsAffected() == 0 {
		return errors.Wrap(workflowrun.ErrOutboxEventNotFound, "", j.KV("id", id))
	}

	return nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventData workflowrun.OutboxEventData) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO workflow_outbox (id, project_id, data, created_at)
		VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), eventData.ProjectID, eventData.Data, eventData.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert outbox event", j.KV("project_id", eventData.ProjectID))
	}

	return nil
}

const (
	runSelect         = "SELECT id, project_id, action, idempotency_key, trigger_context, created_at FROM workflow_runs "
	sendSelect        = "SELECT id, run_id, project_id, action, recipient, status, sent_at, created_at FROM workflow_sends "
	attributionSelect = "SELECT id, project_id, run_id, payment_event_id, model, method, confidence, amount_minor, currency, attributed_at FROM workflow_attributions "
)

func runScan(row pgx.Row) (*workflowrun.Run, error) {
	var (
		run            workflowrun.Run
		triggerContext []byte
	)
	err := row.Scan(
		&run.ID,
		&run.ProjectID,
		&run.Action,
		&run.IdempotencyKey,
		&triggerContext,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(workflowrun.ErrRunNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "run scan")
	}

	err = workflowrun.Unmarshal(triggerContext, &run.TriggerContext)
	if err != nil {
		return nil, err
	}

	return &run, nil
}

func sendScan(row pgx.Row) (*workflowrun.Send, error) {
	var send workflowrun.Send
	err := row.Scan(
		&send.ID,
		&send.RunID,
		&send.ProjectID,
		&send.Action,
		&send.Recipient,
		&send.Status,
		&send.SentAt,
		&send.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(workflowrun.ErrSendNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "send scan")
	}

	return &send, nil
}

func attributionScan(row pgx.Row) (*workflowrun.Attribution, error) {
	var attribution workflowrun.Attribution
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
		&attribution.AttributedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(workflowrun.ErrAttributionNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "attribution scan")
	}

	return &attribution, nil
}

// isUniqueViolation checks for a PostgreSQL unique violation (23505).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}

	return false
}
