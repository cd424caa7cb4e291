package kafkastreamer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/easymodehq/workflowrun"
)

// iteratorBufferSize bounds how many consumed messages can wait for a Recv call
// before ConsumeClaim applies backpressure to the claim.
const iteratorBufferSize = 100

func New(brokers []string, opts ...Option) *StreamConstructor {
	s := &StreamConstructor{
		sharedConfig: newConfig(),
		brokers:      brokers,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type Option func(*StreamConstructor)

// WithConfig replaces the default sarama config entirely. The caller owns the
// whole config; defaults are not merged in.
func WithConfig(config *sarama.Config) Option {
	return func(s *StreamConstructor) {
		if config == nil {
			panic("sarama config cannot be nil")
		}

		s.sharedConfig = config
	}
}

func newConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	return config
}

var _ workflowrun.EventStreamer = (*StreamConstructor)(nil)

type StreamConstructor struct {
	sharedConfig *sarama.Config
	brokers      []string
}

func (s StreamConstructor) NewSender(ctx context.Context, topic string) (workflowrun.EventSender, error) {
	producer, err := sarama.NewSyncProducer(s.brokers, s.sharedConfig)
	if err != nil {
		return nil, err
	}

	return &Sender{
		Topic:         topic,
		Writer:        producer,
		WriterTimeout: time.Second * 10,
	}, nil
}

type Sender struct {
	Topic         string
	Writer        sarama.SyncProducer
	WriterTimeout time.Duration
}

var _ workflowrun.EventSender = (*Sender)(nil)

func (p *Sender) Send(ctx context.Context, foreignID string, eventType int, headers map[workflowrun.Header]string) error {
	for ctx.Err() == nil {
		var kHeaders []sarama.RecordHeader
		for key, value := range headers {
			kHeaders = append(kHeaders, sarama.RecordHeader{
				Key:   []byte(key),
				Value: []byte(value),
			})
		}

		_, _, err := p.Writer.SendMessage(
			&sarama.ProducerMessage{
				Topic:     p.Topic,
				Key:       sarama.StringEncoder(foreignID),
				Value:     sarama.StringEncoder(strconv.FormatInt(int64(eventType), 10)),
				Headers:   kHeaders,
				Timestamp: time.Time{},
			},
		)
		if err != nil && (errors.Is(err, sarama.ErrLeaderNotAvailable) || errors.Is(err, context.DeadlineExceeded)) {
			time.Sleep(time.Millisecond * 100)
			continue
		} else if err != nil {
			return err
		}

		break
	}

	return ctx.Err()
}

func (p *Sender) Close() error {
	return p.Writer.Close()
}

func (s StreamConstructor) NewReceiver(
	ctx context.Context,
	topic string,
	name string,
	opts ...workflowrun.ReceiverOption,
) (workflowrun.EventReceiver, error) {
	var copts workflowrun.ReceiverOptions
	for _, opt := range opts {
		opt(&copts)
	}

	consumerConfig := *s.sharedConfig
	if copts.PollFrequency != 0 {
		consumerConfig.Consumer.MaxWaitTime = copts.PollFrequency
		consumerConfig.Consumer.Retry.Backoff = copts.PollFrequency
	}
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	if copts.StreamFromLatest {
		consumerConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	cg, err := sarama.NewConsumerGroup(s.brokers, name, &consumerConfig)
	if err != nil {
		return nil, err
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	processor := newMessageProcessor(consumeCtx)
	go func() {
		for ctx.Err() == nil {
			err := cg.Consume(consumeCtx, []string{topic}, processor)
			if err != nil && errors.Is(err, context.Canceled) {
				// Exit on context cancellation
				return
			} else if err != nil {
				slog.Error("kafka consumer exited unexpectedly", "error", err.Error())

				err = wait(ctx, time.Second)
				if err != nil {
					return
				}

				continue
			}

			err = wait(ctx, time.Millisecond*250)
			if err != nil {
				return
			}
		}
	}()

	// Wait for the processor to be ready
	<-processor.ready

	return &Receiver{
		cancel:       cancel,
		topic:        topic,
		name:         name,
		msgProcessor: processor,
		options:      copts,
	}, nil
}

type Receiver struct {
	cancel       context.CancelFunc
	topic        string
	name         string
	msgProcessor *msgProcessor
	options      workflowrun.ReceiverOptions
}

func (r *Receiver) Recv(ctx context.Context) (*workflowrun.Event, workflowrun.Ack, error) {
	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case next := <-r.msgProcessor.iterator:
			return next()
		}
	}

	return nil, nil, ctx.Err()
}

func (r *Receiver) Close() error {
	r.cancel()
	return nil
}

var _ workflowrun.EventReceiver = (*Receiver)(nil)

func newMessageProcessor(ctx context.Context) *msgProcessor {
	return &msgProcessor{
		ctx:      ctx,
		ready:    make(chan bool, 1),
		iterator: make(chan func() (*workflowrun.Event, workflowrun.Ack, error), iteratorBufferSize),
	}
}

// msgProcessor implements the sarama.ConsumerGroupHandler interface
type msgProcessor struct {
	ctx       context.Context
	ready     chan bool
	readyOnce sync.Once
	iterator  chan func() (*workflowrun.Event, workflowrun.Ack, error)
}

func (mp *msgProcessor) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (mp *msgProcessor) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes messages from Kafka. Rebalances call it again with a
// new claim, so the ready signal must fire exactly once per processor.
func (mp *msgProcessor) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	mp.readyOnce.Do(func() {
		mp.ready <- true
	})

	for {
		select {
		case m, ok := <-claim.Messages():
			if !ok {
				// The claim was closed, usually by a rebalance.
				return nil
			}

			select {
			case mp.iterator <- consume(session, m):
			case <-mp.ctx.Done():
				return mp.ctx.Err()
			}
		case <-mp.ctx.Done():
			return nil
		case <-session.Context().Done():
			return nil
		}
	}
}

func consume(
	session sarama.ConsumerGroupSession,
	m *sarama.ConsumerMessage,
) func() (*workflowrun.Event, workflowrun.Ack, error) {
	return func() (*workflowrun.Event, workflowrun.Ack, error) {
		eventType, err := strconv.ParseInt(string(m.Value), 10, 64)
		if err != nil {
			return nil, nil, err
		}

		headers := make(map[workflowrun.Header]string)
		for _, header := range m.Headers {
			headers[workflowrun.Header(header.Key)] = string(header.Value)
		}

		event := &workflowrun.Event{
			ID:        m.Offset,
			ForeignID: string(m.Key),
			Type:      int(eventType),
			Headers:   headers,
			CreatedAt: m.Timestamp,
		}

		return event, func() error {
			session.MarkMessage(m, "")
			return nil
		}, nil
	}
}

// wait blocks until the provided duration elapses or the context is cancelled.
// If d is zero it returns nil immediately. If the context is cancelled before
// the timer fires the function returns ctx.Err(); otherwise it returns nil.
func wait(ctx context.Context, d time.Duration) error {
	if d == 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
