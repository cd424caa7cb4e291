package memstreamer

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/easymodehq/workflowrun"
)

const defaultPollFrequency = time.Millisecond * 10

func New(opts ...Option) *StreamConstructor {
	var (
		log []*workflowrun.Event
		opt options
	)

	// Set a default clock
	opt.clock = clock.RealClock{}

	for _, option := range opts {
		option(&opt)
	}

	return &StreamConstructor{
		opts: &opt,
		stream: &Stream{
			mu:  &sync.Mutex{},
			log: &log,
		},
	}
}

type options struct {
	clock   clock.Clock
	ackFunc func() error
}

type Option func(o *options)

func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithAck overrides every receiver's ack func, which tests use to inject ack
// failures.
func WithAck(ackFunc func() error) Option {
	return func(o *options) {
		o.ackFunc = ackFunc
	}
}

type StreamConstructor struct {
	opts   *options
	stream *Stream
}

func (s StreamConstructor) NewSender(ctx context.Context, topic string) (workflowrun.EventSender, error) {
	s.stream.mu.Lock()
	defer s.stream.mu.Unlock()

	return &Stream{
		mu:    s.stream.mu,
		log:   s.stream.log,
		topic: topic,
		clock: s.opts.clock,
	}, nil
}

func (s StreamConstructor) NewReceiver(ctx context.Context, topic string, name string, opts ...workflowrun.ReceiverOption) (workflowrun.EventReceiver, error) {
	var options workflowrun.ReceiverOptions
	for _, opt := range opts {
		opt(&options)
	}

	pollFrequency := defaultPollFrequency
	if options.PollFrequency > 0 {
		pollFrequency = options.PollFrequency
	}

	s.stream.mu.Lock()
	defer s.stream.mu.Unlock()

	var offset int
	if options.StreamFromLatest {
		offset = len(*s.stream.log)
	}

	return &Stream{
		mu:            s.stream.mu,
		log:           s.stream.log,
		offset:        offset,
		topic:         topic,
		name:          name,
		clock:         s.opts.clock,
		pollFrequency: pollFrequency,
		ack:           s.opts.ackFunc,
	}, nil
}

var _ workflowrun.EventStreamer = (*StreamConstructor)(nil)

type Stream struct {
	mu            *sync.Mutex
	log           *[]*workflowrun.Event
	offset        int
	topic         string
	name          string
	clock         clock.Clock
	pollFrequency time.Duration
	ack           func() error
}

func (s *Stream) Send(ctx context.Context, foreignID string, eventType int, headers map[workflowrun.Header]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	length := len(*s.log)
	*s.log = append(*s.log, &workflowrun.Event{
		ID:        int64(length) + 1,
		ForeignID: foreignID,
		Type:      eventType,
		Headers:   headers,
		CreatedAt: s.clock.Now(),
	})

	return nil
}

func (s *Stream) Recv(ctx context.Context) (*workflowrun.Event, workflowrun.Ack, error) {
	for ctx.Err() == nil {
		s.mu.Lock()
		log := *s.log
		s.mu.Unlock()

		if len(log)-1 < s.offset {
			time.Sleep(s.pollFrequency)
			continue
		}

		e := log[s.offset]

		if s.topic != e.Headers[workflowrun.HeaderTopic] {
			s.offset += 1
			continue
		}

		ackFunc := func() error {
			s.offset += 1
			return nil
		}

		if s.ack != nil {
			ackFunc = s.ack
		}

		return e, ackFunc, nil
	}

	return nil, nil, ctx.Err()
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log = nil
	s.offset = 0
	return nil
}

var (
	_ workflowrun.EventSender   = (*Stream)(nil)
	_ workflowrun.EventReceiver = (*Stream)(nil)
)
