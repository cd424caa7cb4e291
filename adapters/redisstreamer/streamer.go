package redisstreamer

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/redis/go-redis/v9"

	"github.com/easymodehq/workflowrun"
)

const (
	streamKeyPrefix     = "workflowrun:stream:"
	consumerGroupPrefix = "workflowrun:consumer:"

	defaultBlockDuration = 250 * time.Millisecond
	ackTimeout           = 5 * time.Second
)

// Streamer streams events through redis streams. Each topic maps to one stream
// key and each receiver name to one consumer group, so differently named
// receivers each see every event while same named receivers share a cursor.
type Streamer struct {
	client redis.UniversalClient
}

func NewStreamer(client redis.UniversalClient) *Streamer {
	return &Streamer{
		client: client,
	}
}

var _ workflowrun.EventStreamer = (*Streamer)(nil)

func (s *Streamer) NewSender(ctx context.Context, topic string) (workflowrun.EventSender, error) {
	return &Sender{
		client: s.client,
		topic:  topic,
	}, nil
}

func (s *Streamer) NewReceiver(ctx context.Context, topic string, name string, opts ...workflowrun.ReceiverOption) (workflowrun.EventReceiver, error) {
	var options workflowrun.ReceiverOptions
	for _, opt := range opts {
		opt(&options)
	}

	streamKey := streamKeyPrefix + topic
	consumerGroup := consumerGroupPrefix + name

	// A new consumer group starts at the beginning of the stream, or at its end
	// with StreamFromLatest. An existing group keeps its cursor either way.
	startID := "0"
	if options.StreamFromLatest {
		startID = "$"
	}

	err := s.client.XGroupCreateMkStream(ctx, streamKey, consumerGroup, startID).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, errors.Wrap(err, "create consumer group", j.MKV{
			"stream": streamKey,
			"group":  consumerGroup,
		})
	}

	return &Receiver{
		client:        s.client,
		streamKey:     streamKey,
		consumerGroup: consumerGroup,
		consumer:      name,
		options:       options,
	}, nil
}

type Sender struct {
	client redis.UniversalClient
	topic  string
}

var _ workflowrun.EventSender = (*Sender)(nil)

func (s *Sender) Send(ctx context.Context, foreignID string, eventType int, headers map[workflowrun.Header]string) error {
	event := &workflowrun.Event{
		ForeignID: foreignID,
		Type:      eventType,
		Headers:   headers,
		CreatedAt: time.Now(),
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKeyPrefix + s.topic,
		Values: map[string]interface{}{
			"event": string(eventData),
		},
	}).Err()
	if err != nil {
		return errors.Wrap(err, "xadd", j.KV("topic", s.topic))
	}

	return nil
}

func (s *Sender) Close() error {
	return nil
}

type Receiver struct {
	client        redis.UniversalClient
	streamKey     string
	consumerGroup string
	consumer      string
	options       workflowrun.ReceiverOptions
}

var _ workflowrun.EventReceiver = (*Receiver)(nil)

func (r *Receiver) Recv(ctx context.Context) (*workflowrun.Event, workflowrun.Ack, error) {
	for ctx.Err() == nil {
		// Deliveries that were received but never acknowledged, such as when a
		// consumer crashed mid handling, are replayed before any new event. The
		// negative block leaves the BLOCK argument off the pending read.
		event, ack, ok, err := r.read(ctx, "0", -1)
		if err != nil {
			return nil, nil, err
		}

		if ok {
			return event, ack, nil
		}

		event, ack, ok, err = r.read(ctx, ">", r.blockDuration())
		if err != nil {
			return nil, nil, err
		}

		if ok {
			return event, ack, nil
		}
	}

	return nil, nil, ctx.Err()
}

func (r *Receiver) read(ctx context.Context, cursor string, block time.Duration) (*workflowrun.Event, workflowrun.Ack, bool, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.consumerGroup,
		Consumer: r.consumer,
		Streams:  []string{r.streamKey, cursor},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil, false, nil
	} else if errors.IsAny(err, context.Canceled, context.DeadlineExceeded) {
		return nil, nil, false, err
	} else if err != nil {
		return nil, nil, false, errors.Wrap(err, "xreadgroup", j.MKV{
			"stream": r.streamKey,
			"group":  r.consumerGroup,
		})
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil, false, nil
	}

	msg := streams[0].Messages[0]
	event, err := parseEvent(msg)
	if err != nil {
		return nil, nil, false, errors.Wrap(err, "parse stream message", j.KV("message_id", msg.ID))
	}

	ack := func() error {
		// Acknowledge on a fresh context so a cancelled Recv context cannot
		// strand a handled event in the pending list.
		ackCtx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()

		return r.client.XAck(ackCtx, r.streamKey, r.consumerGroup, msg.ID).Err()
	}

	return event, ack, true, nil
}

func (r *Receiver) blockDuration() time.Duration {
	if r.options.PollFrequency > 0 {
		return r.options.PollFrequency
	}

	return defaultBlockDuration
}

func (r *Receiver) Close() error {
	return nil
}

func parseEvent(msg redis.XMessage) (*workflowrun.Event, error) {
	eventData, ok := msg.Values["event"].(string)
	if !ok {
		return nil, errors.New("stream message missing event field")
	}

	var event workflowrun.Event
	err := json.Unmarshal([]byte(eventData), &event)
	if err != nil {
		return nil, err
	}

	id, err := parseStreamID(msg.ID)
	if err != nil {
		return nil, err
	}
	event.ID = id

	return &event, nil
}

// maxStreamTimestamp is the largest millisecond timestamp that still leaves room
// for the sequence digits when the two are combined into one int64.
const maxStreamTimestamp = 9223372036854

// parseStreamID converts a redis stream entry ID of the form
// "timestamp-sequence" into a single ascending int64.
func parseStreamID(streamID string) (int64, error) {
	timestampStr, sequenceStr, ok := strings.Cut(streamID, "-")
	if !ok || timestampStr == "" || sequenceStr == "" {
		return 0, errors.New("malformed stream id", j.KV("stream_id", streamID))
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse stream id timestamp", j.KV("stream_id", streamID))
	}

	sequence, err := strconv.ParseInt(sequenceStr, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse stream id sequence", j.KV("stream_id", streamID))
	}

	if timestamp < 0 || timestamp > maxStreamTimestamp {
		return 0, errors.New("stream id timestamp out of range", j.KV("stream_id", streamID))
	}

	if sequence < 0 || sequence >= 1_000_000 {
		return 0, errors.New("stream id sequence out of range", j.KV("stream_id", streamID))
	}

	return timestamp*1_000_000 + sequence, nil
}
