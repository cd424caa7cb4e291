package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easymodehq/workflowrun"
)

var _ workflowrun.Store = (*Store)(nil)

// New returns an in-memory Store. It is the reference implementation of the
// store contract and what the unit tests run against; every row write and its
// outbox event happen under one mutex hold which stands in for a transaction.
func New() *Store {
	return &Store{
		runs:         make(map[string]*workflowrun.Run),
		runKeys:      make(map[string]string),
		sends:        make(map[string]*workflowrun.Send),
		attributions: make(map[string]*workflowrun.Attribution),
	}
}

type Store struct {
	mu sync.Mutex

	runs     map[string]*workflowrun.Run
	runKeys  map[string]string
	runOrder []string

	sends     map[string]*workflowrun.Send
	sendOrder []string

	attributions     map[string]*workflowrun.Attribution
	attributionOrder []string

	outbox []workflowrun.OutboxEvent
}

func (s *Store) CreateRun(ctx context.Context, run *workflowrun.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uk := uniqueKey(run.ProjectID, run.Action, run.IdempotencyKey)
	if _, ok := s.runKeys[uk]; ok {
		return workflowrun.ErrAlreadyExists
	}

	eventData, err := workflowrun.MakeRunOutboxEventData(*run)
	if err != nil {
		return err
	}

	clone := cloneRun(run)
	s.runs[run.ID] = clone
	s.runKeys[uk] = run.ID
	s.runOrder = append(s.runOrder, run.ID)
	s.appendOutboxEvent(eventData)

	return nil
}

func (s *Store) LookupRun(ctx context.Context, runID string) (*workflowrun.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, workflowrun.ErrRunNotFound
	}

	return cloneRun(run), nil
}

func (s *Store) LookupRunByKey(ctx context.Context, projectID, action, idempotencyKey string) (*workflowrun.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID, ok := s.runKeys[uniqueKey(projectID, action, idempotencyKey)]
	if !ok {
		return nil, workflowrun.ErrRunNotFound
	}

	return cloneRun(s.runs[runID]), nil
}

func (s *Store) ListRecentRuns(ctx context.Context, projectID string, since time.Time) ([]workflowrun.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []workflowrun.Run
	for _, runID := range s.runOrder {
		run := s.runs[runID]
		if run.ProjectID != projectID {
			continue
		}

		if run.CreatedAt.Before(since) {
			continue
		}

		runs = append(runs, *cloneRun(run))
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return runs, nil
}

func (s *Store) UpsertSend(ctx context.Context, send *workflowrun.Send) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := uniqueKey(send.RunID, workflowrun.NormaliseRecipient(send.Recipient))
	existing, ok := s.sends[key]
	if ok {
		existing.Status = send.Status
		existing.SentAt = send.SentAt
	} else {
		existing = cloneSend(send)
		s.sends[key] = existing
		s.sendOrder = append(s.sendOrder, key)
	}

	eventData, err := workflowrun.MakeSendOutboxEventData(*existing)
	if err != nil {
		return err
	}
	s.appendOutboxEvent(eventData)

	return nil
}

func (s *Store) LookupSend(ctx context.Context, runID, recipient string) (*workflowrun.Send, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.sends[uniqueKey(runID, workflowrun.NormaliseRecipient(recipient))]
	if !ok {
		return nil, workflowrun.ErrSendNotFound
	}

	return cloneSend(send), nil
}

func (s *Store) ListSendsByRun(ctx context.Context, runID string) ([]workflowrun.Send, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sends []workflowrun.Send
	for _, key := range s.sendOrder {
		send := s.sends[key]
		if send.RunID != runID {
			continue
		}

		sends = append(sends, *cloneSend(send))
	}

	return sends, nil
}

func (s *Store) RecentRecipients(ctx context.Context, projectID, action string, since time.Time, recipients []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]time.Time)
	for _, key := range s.sendOrder {
		send := s.sends[key]
		if send.ProjectID != projectID || send.Action != action {
			continue
		}

		if send.SentAt.After(latest[send.Recipient]) {
			latest[send.Recipient] = send.SentAt
		}
	}

	var recent []string
	for _, recipient := range recipients {
		sentAt, ok := latest[workflowrun.NormaliseRecipient(recipient)]
		if !ok {
			continue
		}

		// A send exactly at since has aged out of the window.
		if sentAt.After(since) {
			recent = append(recent, recipient)
		}
	}

	return recent, nil
}

func (s *Store) CreateAttribution(ctx context.Context, attribution *workflowrun.Attribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attributions[attribution.PaymentEventID]; ok {
		return workflowrun.ErrAlreadyExists
	}

	eventData, err := workflowrun.MakeAttributionOutboxEventData(*attribution)
	if err != nil {
		return err
	}

	clone := cloneAttribution(attribution)
	s.attributions[attribution.PaymentEventID] = clone
	s.attributionOrder = append(s.attributionOrder, attribution.PaymentEventID)
	s.appendOutboxEvent(eventData)

	return nil
}

func (s *Store) LookupAttribution(ctx context.Context, paymentEventID string) (*workflowrun.Attribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attribution, ok := s.attributions[paymentEventID]
	if !ok {
		return nil, workflowrun.ErrAttributionNotFound
	}

	return cloneAttribution(attribution), nil
}

func (s *Store) ListAttributionsByRun(ctx context.Context, runID string) ([]workflowrun.Attribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var attributions []workflowrun.Attribution
	for _, paymentEventID := range s.attributionOrder {
		attribution := s.attributions[paymentEventID]
		if attribution.RunID != runID {
			continue
		}

		attributions = append(attributions, *cloneAttribution(attribution))
	}

	return attributions, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, limit int64) ([]workflowrun.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []workflowrun.OutboxEvent
	for _, event := range s.outbox {
		events = append(events, event)
		if len(events) >= int(limit) {
			break
		}
	}

	return events, nil
}

func (s *Store) DeleteOutboxEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, event := range s.outbox {
		if event.ID == id {
			s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
			return nil
		}
	}

	return workflowrun.ErrOutboxEventNotFound
}

// appendOutboxEvent must be called with the mutex held.
func (s *Store) appendOutboxEvent(eventData workflowrun.OutboxEventData) {
	s.outbox = append(s.outbox, workflowrun.OutboxEvent{
		ID:        uuid.New().String(),
		ProjectID: eventData.ProjectID,
		Data:      eventData.Data,
		CreatedAt: eventData.CreatedAt,
	})
}

func uniqueKey(parts ...string) string {
	key := parts[0]
	for _, part := range parts[1:] {
		key += "-" + part
	}

	return key
}

func cloneRun(run *workflowrun.Run) *workflowrun.Run {
	clone := *run
	clone.TriggerContext = run.TriggerContext.Clone()
	return &clone
}

func cloneSend(send *workflowrun.Send) *workflowrun.Send {
	clone := *send
	return &clone
}

func cloneAttribution(attribution *workflowrun.Attribution) *workflowrun.Attribution {
	clone := *attribution
	return &clone
}
