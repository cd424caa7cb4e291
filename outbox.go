package workflowrun

import (
	"context"
	"fmt"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/easymodehq/workflowrun/internal/metrics"
)

const (
	defaultOutboxPollingFrequency = 250 * time.Millisecond
	defaultOutboxErrBackOff       = 500 * time.Millisecond
	defaultOutboxLagAlert         = time.Minute
	defaultOutboxLookupLimit      = 1000
)

// EventType distinguishes the domain events published on a project's topic.
type EventType int

const (
	EventTypeUnknown           EventType = 0
	EventTypeRunStarted        EventType = 1
	EventTypeSendRecorded      EventType = 2
	EventTypeOutcomeAttributed EventType = 3
	eventTypeSentinel          EventType = 4
)

func (et EventType) String() string {
	switch et {
	case EventTypeUnknown:
		return "Unknown"
	case EventTypeRunStarted:
		return "RunStarted"
	case EventTypeSendRecorded:
		return "SendRecorded"
	case EventTypeOutcomeAttributed:
		return "OutcomeAttributed"
	default:
		return fmt.Sprintf("EventType(%d)", et)
	}
}

func (et EventType) Valid() bool {
	return et > EventTypeUnknown && et < eventTypeSentinel
}

// OutboxEvent is one undelivered domain event. Stores append an OutboxEvent in
// the same transaction as the row write it announces, and ForwardOutboxForever
// publishes them to the event streamer before deleting them.
type OutboxEvent struct {
	// ID is a unique identifier of the outbox event, assigned by the store.
	ID string

	// ProjectID scopes the event to a project.
	ProjectID string

	// Data is the serialised payload produced by one of the Make*OutboxEventData
	// helpers.
	Data []byte

	// CreatedAt is when the originating row was written.
	CreatedAt time.Time
}

// OutboxEventData carries the serialised outbox payload that stores must write
// when creating or updating a row. Stores treat Data as opaque bytes.
type OutboxEventData struct {
	ProjectID string
	CreatedAt time.Time
	Data      []byte
}

// outboxData is the wire form stored in OutboxEvent.Data.
type outboxData struct {
	ForeignID string            `json:"foreign_id"`
	Type      int               `json:"type"`
	Headers   map[string]string `json:"headers"`
}

// MakeRunOutboxEventData returns the outbox payload announcing a newly inserted
// run. Stores call it inside the CreateRun transaction.
func MakeRunOutboxEventData(run Run) (OutboxEventData, error) {
	data, err := Marshal(&outboxData{
		ForeignID: run.ID,
		Type:      int(EventTypeRunStarted),
		Headers: map[string]string{
			string(HeaderProjectID): run.ProjectID,
			string(HeaderAction):    run.Action,
			string(HeaderRunID):     run.ID,
			string(HeaderTopic):     Topic(run.ProjectID),
		},
	})
	if err != nil {
		return OutboxEventData{}, errors.Wrap(err, "marshal run outbox data")
	}

	return OutboxEventData{
		ProjectID: run.ProjectID,
		CreatedAt: run.CreatedAt,
		Data:      data,
	}, nil
}

// MakeSendOutboxEventData returns the outbox payload announcing a recorded send.
// Stores call it inside the UpsertSend transaction.
func MakeSendOutboxEventData(send Send) (OutboxEventData, error) {
	data, err := Marshal(&outboxData{
		ForeignID: send.ID,
		Type:      int(EventTypeSendRecorded),
		Headers: map[string]string{
			string(HeaderProjectID): send.ProjectID,
			string(HeaderAction):    send.Action,
			string(HeaderRunID):     send.RunID,
			string(HeaderRecipient): send.Recipient,
			string(HeaderTopic):     Topic(send.ProjectID),
		},
	})
	if err != nil {
		return OutboxEventData{}, errors.Wrap(err, "marshal send outbox data")
	}

	return OutboxEventData{
		ProjectID: send.ProjectID,
		CreatedAt: send.SentAt,
		Data:      data,
	}, nil
}

// MakeAttributionOutboxEventData returns the outbox payload announcing a claimed
// attribution. Stores call it inside the CreateAttribution transaction.
func MakeAttributionOutboxEventData(attribution Attribution) (OutboxEventData, error) {
	data, err := Marshal(&outboxData{
		ForeignID: attribution.ID,
		Type:      int(EventTypeOutcomeAttributed),
		Headers: map[string]string{
			string(HeaderProjectID):      attribution.ProjectID,
			string(HeaderRunID):          attribution.RunID,
			string(HeaderPaymentEventID): attribution.PaymentEventID,
			string(HeaderTopic):          Topic(attribution.ProjectID),
		},
	})
	if err != nil {
		return OutboxEventData{}, errors.Wrap(err, "marshal attribution outbox data")
	}

	return OutboxEventData{
		ProjectID: attribution.ProjectID,
		CreatedAt: attribution.AttributedAt,
		Data:      data,
	}, nil
}

// ForwardOutboxForever drains the store's outbox into the event streamer until
// ctx is cancelled. Events are published oldest first and deleted once the
// streamer has accepted them. A crash between publish and delete republishes the
// event on restart, so delivery is at least once and consumers must deduplicate
// on the event's foreign ID.
func (s *Service) ForwardOutboxForever(ctx context.Context, streamer EventStreamer, opts ...ForwardOption) error {
	options := forwardOptions{
		pollingFrequency: defaultOutboxPollingFrequency,
		errBackOff:       defaultOutboxErrBackOff,
		lagAlert:         defaultOutboxLagAlert,
		limit:            defaultOutboxLookupLimit,
	}
	for _, opt := range opts {
		opt(&options)
	}

	for ctx.Err() == nil {
		err := s.forwardOutbox(ctx, streamer, options)
		if errors.IsAny(err, context.Canceled, context.DeadlineExceeded) {
			// NoReturnErr: Shutting down.
			break
		} else if err != nil {
			// NoReturnErr: Log and back off before resuming from the oldest
			// undelivered event.
			s.logger.Error(ctx, errors.Wrap(err, "forward outbox"))

			err = waitUntil(ctx, s.clock, s.clock.Now().Add(options.errBackOff))
			if err != nil {
				break
			}
		}
	}

	return ctx.Err()
}

func (s *Service) forwardOutbox(ctx context.Context, streamer EventStreamer, options forwardOptions) error {
	events, err := s.store.ListOutboxEvents(ctx, options.limit)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return waitUntil(ctx, s.clock, s.clock.Now().Add(options.pollingFrequency))
	}

	for _, e := range events {
		var data outboxData
		err := Unmarshal(e.Data, &data)
		if err != nil {
			return errors.Wrap(err, "unmarshal outbox data", j.KV("outbox_event_id", e.ID))
		}

		headers := make(map[Header]string)
		for k, v := range data.Headers {
			headers[Header(k)] = v
		}

		pushOutboxLagMetric(e.CreatedAt, options.lagAlert, s.clock)

		t0 := s.clock.Now()
		topic := headers[HeaderTopic]
		sender, err := streamer.NewSender(ctx, topic)
		if err != nil {
			return errors.Wrap(err, "new outbox sender", j.KV("topic", topic))
		}

		err = sender.Send(ctx, data.ForeignID, data.Type, headers)
		if err != nil {
			return errors.Wrap(err, "send outbox event", j.MKV{
				"outbox_event_id": e.ID,
				"topic":           topic,
			})
		}

		err = s.store.DeleteOutboxEvent(ctx, e.ID)
		if errors.Is(err, ErrOutboxEventNotFound) {
			// NoReturnErr: Another forwarder instance already published and deleted
			// this event.
			continue
		} else if err != nil {
			return err
		}

		metrics.ForwardLatency.Observe(s.clock.Since(t0).Seconds())
	}

	return nil
}

type forwardOptions struct {
	pollingFrequency time.Duration
	errBackOff       time.Duration
	lagAlert         time.Duration
	limit            int64
}

type ForwardOption func(*forwardOptions)

func WithForwardPollingFrequency(d time.Duration) ForwardOption {
	return func(o *forwardOptions) {
		o.pollingFrequency = d
	}
}

func WithForwardErrBackOff(d time.Duration) ForwardOption {
	return func(o *forwardOptions) {
		o.errBackOff = d
	}
}

// WithForwardLagAlert sets the age an undelivered outbox event may reach before
// the lag alert gauge is raised.
func WithForwardLagAlert(d time.Duration) ForwardOption {
	return func(o *forwardOptions) {
		o.lagAlert = d
	}
}

func WithForwardLookupLimit(limit int64) ForwardOption {
	return func(o *forwardOptions) {
		o.limit = limit
	}
}
