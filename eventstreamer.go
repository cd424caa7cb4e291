package workflowrun

import (
	"context"
	"time"
)

// EventStreamer defines the event streaming adapter interface and all
// implementations should be tested with adaptertest.RunEventStreamerTest to
// ensure the behaviour is compatible.
type EventStreamer interface {
	NewSender(ctx context.Context, topic string) (EventSender, error)
	NewReceiver(ctx context.Context, topic string, name string, opts ...ReceiverOption) (EventReceiver, error)
}

// EventSender defines the common interface that the EventStreamer adapter must
// implement to allow the outbox forwarder to publish events.
type EventSender interface {
	Send(ctx context.Context, foreignID string, eventType int, headers map[Header]string) error
	Close() error
}

// EventReceiver defines the common interface that the EventStreamer adapter must
// implement to allow downstream consumers to receive events.
type EventReceiver interface {
	Recv(ctx context.Context) (*Event, Ack, error)
	Close() error
}

// Ack is used for the event streamer to update its cursor of what messages have
// been consumed. If Ack is not called then the event streamer, depending on
// implementation, will likely not keep track of which events have been consumed.
type Ack func() error

// Event is a notification that a run row, send row, or attribution row was
// written. The ID is assigned by the streaming backend and is unique and
// ascending per topic. The ForeignID is the written row's ID and the Type is one
// of the EventType values. Events carry no row data; consumers look the row up
// via the service to get a consistent read.
type Event struct {
	ID        int64
	ForeignID string
	Type      int
	Headers   map[Header]string
	CreatedAt time.Time
}

type Header string

const (
	HeaderProjectID      Header = "project_id"
	HeaderAction         Header = "action"
	HeaderRunID          Header = "run_id"
	HeaderRecipient      Header = "recipient"
	HeaderPaymentEventID Header = "payment_event_id"
	HeaderTopic          Header = "topic"
)

type ReceiverOptions struct {
	PollFrequency    time.Duration
	StreamFromLatest bool
}

type ReceiverOption func(*ReceiverOptions)

func WithReceiverPollFrequency(d time.Duration) ReceiverOption {
	return func(opt *ReceiverOptions) {
		opt.PollFrequency = d
	}
}

// StreamFromLatest tells the event streamer to start streaming events from the
// most recent event if there is no committed/stored offset (cursor for some event
// streaming platforms). If a consumer has received events before then this should
// have no effect and consumption should resume from where it left off previously.
func StreamFromLatest() ReceiverOption {
	return func(opt *ReceiverOptions) {
		opt.StreamFromLatest = true
	}
}
