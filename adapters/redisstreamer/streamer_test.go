package redisstreamer_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/luno/jettison/jtest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/easymodehq/workflowrun"
	"github.com/easymodehq/workflowrun/adapters/adaptertest"
	"github.com/easymodehq/workflowrun/adapters/redisstreamer"
)

func newStreamerForTesting(t *testing.T) *redisstreamer.Streamer {
	mr := miniredis.RunT(t)
	return redisstreamer.NewStreamer(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestStreamer(t *testing.T) {
	adaptertest.RunEventStreamerTest(t, newStreamerForTesting(t))
}

func TestReceiverRedelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	streamer := newStreamerForTesting(t)
	topic := workflowrun.Topic("proj_1")

	sender, err := streamer.NewSender(ctx, topic)
	jtest.RequireNil(t, err)

	err = sender.Send(ctx, "run-1", int(workflowrun.EventTypeRunStarted), map[workflowrun.Header]string{
		workflowrun.HeaderProjectID: "proj_1",
		workflowrun.HeaderTopic:     topic,
	})
	jtest.RequireNil(t, err)

	// The first receiver gets the event but never acknowledges it.
	receiver, err := streamer.NewReceiver(ctx, topic, "consumer_1",
		workflowrun.WithReceiverPollFrequency(time.Millisecond*10),
	)
	jtest.RequireNil(t, err)

	event, _, err := receiver.Recv(ctx)
	jtest.RequireNil(t, err)
	require.Equal(t, "run-1", event.ForeignID)
	jtest.RequireNil(t, receiver.Close())

	// A receiver of the same group picks the unacknowledged delivery back up.
	receiver, err = streamer.NewReceiver(ctx, topic, "consumer_1",
		workflowrun.WithReceiverPollFrequency(time.Millisecond*10),
	)
	jtest.RequireNil(t, err)
	t.Cleanup(func() {
		jtest.RequireNil(t, receiver.Close())
	})

	event, ack, err := receiver.Recv(ctx)
	jtest.RequireNil(t, err)
	require.Equal(t, "run-1", event.ForeignID)
	require.Equal(t, int(workflowrun.EventTypeRunStarted), event.Type)
	jtest.RequireNil(t, ack())

	// Once acknowledged the event is not delivered to the group again.
	recvCtx, recvCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer recvCancel()

	_, _, err = receiver.Recv(recvCtx)
	jtest.Require(t, context.DeadlineExceeded, err)
}

func TestIndependentConsumerGroups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	streamer := newStreamerForTesting(t)
	topic := workflowrun.Topic("proj_1")

	sender, err := streamer.NewSender(ctx, topic)
	jtest.RequireNil(t, err)

	err = sender.Send(ctx, "run-1", int(workflowrun.EventTypeRunStarted), map[workflowrun.Header]string{
		workflowrun.HeaderTopic: topic,
	})
	jtest.RequireNil(t, err)

	// Differently named receivers hold independent cursors and each see the
	// event.
	for _, name := range []string{"emailer", "analytics"} {
		receiver, err := streamer.NewReceiver(ctx, topic, name,
			workflowrun.WithReceiverPollFrequency(time.Millisecond*10),
		)
		jtest.RequireNil(t, err)

		event, ack, err := receiver.Recv(ctx)
		jtest.RequireNil(t, err)
		require.Equal(t, "run-1", event.ForeignID)
		jtest.RequireNil(t, ack())
		jtest.RequireNil(t, receiver.Close())
	}
}

func TestStreamFromLatest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	streamer := newStreamerForTesting(t)
	topic := workflowrun.Topic("proj_1")

	sender, err := streamer.NewSender(ctx, topic)
	jtest.RequireNil(t, err)

	err = sender.Send(ctx, "run-old", int(workflowrun.EventTypeRunStarted), map[workflowrun.Header]string{
		workflowrun.HeaderTopic: topic,
	})
	jtest.RequireNil(t, err)

	// A fresh group starting from latest skips history.
	receiver, err := streamer.NewReceiver(ctx, topic, "latest_consumer",
		workflowrun.WithReceiverPollFrequency(time.Millisecond*10),
		workflowrun.StreamFromLatest(),
	)
	jtest.RequireNil(t, err)
	t.Cleanup(func() {
		jtest.RequireNil(t, receiver.Close())
	})

	err = sender.Send(ctx, "run-new", int(workflowrun.EventTypeRunStarted), map[workflowrun.Header]string{
		workflowrun.HeaderTopic: topic,
	})
	jtest.RequireNil(t, err)

	event, ack, err := receiver.Recv(ctx)
	jtest.RequireNil(t, err)
	require.Equal(t, "run-new", event.ForeignID)
	jtest.RequireNil(t, ack())
}
