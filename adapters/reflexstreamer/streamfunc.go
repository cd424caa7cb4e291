package reflexstreamer

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/luno/reflex"
	"github.com/luno/reflex/rsql"

	"github.com/easymodehq/workflowrun"
)

// StreamFunc can take the single event source (rsql.EventsTable) for multiple
// topics and stream the events of one topic as a native reflex stream. This is
// possible because the topic is written into the events table's metadata column
// alongside the headers.
func StreamFunc(dbc *sql.DB, table *rsql.EventsTable, topic string) reflex.StreamFunc {
	return filteredStreamFunc(dbc, table, topic, nil)
}

// OnOutcomeAttributed streams only the attribution events of the provided
// topic. It is intended for downstream consumers, such as revenue reporting,
// that have no interest in run or send events.
func OnOutcomeAttributed(dbc *sql.DB, table *rsql.EventsTable, topic string) reflex.StreamFunc {
	attributedOnly := func(e *reflex.Event, headers map[workflowrun.Header]string) bool {
		return e.Type.ReflexType() != int(workflowrun.EventTypeOutcomeAttributed)
	}
	return filteredStreamFunc(dbc, table, topic, attributedOnly)
}

// eventFilter allows for custom specification of filtering events. Returning
// true will result in the event being filtered out.
type eventFilter func(e *reflex.Event, headers map[workflowrun.Header]string) bool

func filteredStreamFunc(dbc *sql.DB, table *rsql.EventsTable, topic string, filter eventFilter) reflex.StreamFunc {
	return func(ctx context.Context, after string, opts ...reflex.StreamOption) (reflex.StreamClient, error) {
		cl, err := table.ToStream(dbc)(ctx, after, opts...)
		if err != nil {
			return nil, err
		}

		return &streamClient{
			ctx:    ctx,
			topic:  topic,
			client: cl,
			filter: filter,
		}, nil
	}
}

type streamClient struct {
	ctx    context.Context
	topic  string
	client reflex.StreamClient
	filter eventFilter
}

func (s *streamClient) Recv() (*reflex.Event, error) {
	for s.ctx.Err() == nil {
		reflexEvent, err := s.client.Recv()
		if err != nil {
			return nil, err
		}

		headers := make(map[workflowrun.Header]string)
		err = json.Unmarshal(reflexEvent.MetaData, &headers)
		if err != nil {
			return nil, err
		}

		if headers[workflowrun.HeaderTopic] != s.topic {
			continue
		}

		if s.filter != nil && s.filter(reflexEvent, headers) {
			continue
		}

		return reflexEvent, nil
	}

	return nil, s.ctx.Err()
}
