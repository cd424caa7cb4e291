package workflowrun

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"
)

// AwaitOutboxDrained blocks until the service's store has no undelivered outbox
// events left, which means a running ForwardOutboxForever has published
// everything written so far.
func AwaitOutboxDrained(t testing.TB, s *Service) {
	if t == nil {
		panic("AwaitOutboxDrained can only be used for testing")
	}

	for {
		events, err := s.store.ListOutboxEvents(context.Background(), 1)
		require.NoError(t, err)

		if len(events) == 0 {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}
}

// AwaitRunPhase blocks until the run exists and has reached the given phase, and
// returns its summary. Use it to wait out an asynchronous path, such as a webhook
// delivery racing the test's assertions.
func AwaitRunPhase(t testing.TB, s *Service, runID string, phase RunPhase) *RunSummary {
	if t == nil {
		panic("AwaitRunPhase can only be used for testing")
	}

	for {
		summary, err := s.DescribeRun(context.Background(), runID)
		if errors.Is(err, ErrRunNotFound) {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		require.NoError(t, err)

		if summary.Phase() == phase {
			return summary
		}

		time.Sleep(10 * time.Millisecond)
	}
}

// AwaitRunByKey blocks until a run exists for the (project, action, idempotency
// key) triple and returns it. Use it when the trigger fires on another
// goroutine, such as a schedule.
func AwaitRunByKey(t testing.TB, s *Service, projectID, action, idempotencyKey string) *Run {
	if t == nil {
		panic("AwaitRunByKey can only be used for testing")
	}

	for {
		run, err := s.store.LookupRunByKey(context.Background(), projectID, action, idempotencyKey)
		if errors.Is(err, ErrRunNotFound) {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		require.NoError(t, err)

		return run
	}
}
