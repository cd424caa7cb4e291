package reflexstreamer

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/reflex"
	"github.com/luno/reflex/rsql"

	"github.com/easymodehq/workflowrun"
)

const defaultPollFrequency = time.Millisecond * 50

// New returns an EventStreamer backed by a reflex events table. A single events
// table carries every topic; the topic travels in the event metadata alongside
// the headers and receivers filter on it.
func New(writer, reader *sql.DB, table *rsql.EventsTable, cursorStore reflex.CursorStore) workflowrun.EventStreamer {
	return &constructor{
		writer:      writer,
		reader:      reader,
		eventsTable: table,
		cursorStore: cursorStore,
	}
}

type constructor struct {
	writer      *sql.DB
	reader      *sql.DB
	eventsTable *rsql.EventsTable
	cursorStore reflex.CursorStore
}

func (c constructor) NewSender(ctx context.Context, topic string) (workflowrun.EventSender, error) {
	return &Sender{
		topic:       topic,
		writer:      c.writer,
		eventsTable: c.eventsTable,
	}, nil
}

type Sender struct {
	topic       string
	writer      *sql.DB
	eventsTable *rsql.EventsTable
}

func (s Sender) Send(ctx context.Context, foreignID string, eventType int, headers map[workflowrun.Header]string) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	b, err := json.Marshal(headers)
	if err != nil {
		return err
	}

	notify, err := s.eventsTable.InsertWithMetadata(ctx, tx, foreignID, EventType(eventType), b)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return err
	}

	notify()

	return nil
}

func (s Sender) Close() error {
	return nil
}

func (c constructor) NewReceiver(ctx context.Context, topic string, name string, opts ...workflowrun.ReceiverOption) (workflowrun.EventReceiver, error) {
	var options workflowrun.ReceiverOptions
	for _, opt := range opts {
		opt(&options)
	}

	pollFrequency := defaultPollFrequency
	if options.PollFrequency.Nanoseconds() != 0 {
		pollFrequency = options.PollFrequency
	}

	table := c.eventsTable.Clone(rsql.WithEventsBackoff(pollFrequency))

	cursor, err := c.cursorStore.GetCursor(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "get cursor", j.KV("consumer", name))
	}

	var streamOpts []reflex.StreamOption
	if options.StreamFromLatest && cursor == "" {
		streamOpts = append(streamOpts, reflex.WithStreamFromHead())
	}

	streamClient, err := table.ToStream(c.reader)(ctx, cursor, streamOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "stream events", j.KV("consumer", name))
	}

	return &Receiver{
		topic:        topic,
		name:         name,
		cursor:       c.cursorStore,
		streamClient: streamClient,
	}, nil
}

type Receiver struct {
	topic        string
	name         string
	cursor       reflex.CursorStore
	streamClient reflex.StreamClient
}

func (r Receiver) Recv(ctx context.Context) (*workflowrun.Event, workflowrun.Ack, error) {
	for ctx.Err() == nil {
		reflexEvent, err := r.streamClient.Recv()
		if err != nil {
			return nil, nil, err
		}

		headers := make(map[workflowrun.Header]string)
		err = json.Unmarshal(reflexEvent.MetaData, &headers)
		if err != nil {
			return nil, nil, errors.Wrap(err, "unmarshal event metadata", j.KV("event_id", reflexEvent.ID))
		}

		// The events table is shared across topics. The cursor only advances
		// when a delivered event is acked, so skipped events are re-read and
		// re-skipped after a restart.
		if headers[workflowrun.HeaderTopic] != r.topic {
			continue
		}

		event := &workflowrun.Event{
			ID:        reflexEvent.IDInt(),
			ForeignID: reflexEvent.ForeignID,
			Type:      reflexEvent.Type.ReflexType(),
			Headers:   headers,
			CreatedAt: reflexEvent.Timestamp,
		}

		return event, func() error {
			// Increment cursor for consumer only if ack function is called.
			eventID := strconv.FormatInt(event.ID, 10)
			if err := r.cursor.SetCursor(ctx, r.name, eventID); err != nil {
				return errors.Wrap(err, "set cursor", j.MKV{
					"consumer":  r.name,
					"event_id":  reflexEvent.ID,
					"event_fid": reflexEvent.ForeignID,
				})
			}

			return nil
		}, nil
	}

	// If the loop breaks then ctx.Err is non-nil
	return nil, nil, ctx.Err()
}

func (r Receiver) Close() error {
	if closer, ok := r.streamClient.(io.Closer); ok {
		err := closer.Close()
		if err != nil {
			return err
		}
	}

	// Provide new context for flushing of cursor values to the underlying store
	// since the receiver's context is usually cancelled by the time Close is
	// called.
	return r.cursor.Flush(context.Background())
}

var _ workflowrun.EventStreamer = (*constructor)(nil)
