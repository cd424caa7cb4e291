package workflowrun_test

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"
	clock_testing "k8s.io/utils/clock/testing"

	"github.com/easymodehq/workflowrun"
	"github.com/easymodehq/workflowrun/adapters/memstore"
)

func TestSlotKey(t *testing.T) {
	slot := time.Date(2025, time.March, 10, 13, 0, 0, 0, time.UTC)
	require.Equal(t, "winback@2025-03-10T13:00:00Z", workflowrun.SlotKey("winback", slot))

	// The slot is normalised to UTC so every scheduler derives the same key.
	johannesburg := time.FixedZone("SAST", 2*60*60)
	require.Equal(t,
		workflowrun.SlotKey("winback", slot),
		workflowrun.SlotKey("winback", slot.In(johannesburg)),
	)
}

func TestScheduleTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	service, clock := newTestService()

	go func() {
		err := service.ScheduleTrigger(ctx, "proj_1", "winback", "@hourly")
		jtest.Require(t, context.Canceled, err)
	}()

	// Wait for the scheduler to block on the first slot.
	require.Eventually(t, clock.HasWaiters, time.Second, time.Millisecond)

	runs, err := service.RecentRuns(ctx, "proj_1", testBase)
	jtest.RequireNil(t, err)
	require.Empty(t, runs)

	clock.Step(time.Hour)

	require.Eventually(t, func() bool {
		runs, err = service.RecentRuns(ctx, "proj_1", testBase)
		jtest.RequireNil(t, err)
		return len(runs) == 1
	}, time.Second, time.Millisecond)

	require.Equal(t, "winback", runs[0].Action)
	require.Equal(t, workflowrun.SlotKey("winback", testBase.Add(time.Hour)), runs[0].IdempotencyKey)

	// The next slot produces its own run.
	require.Eventually(t, clock.HasWaiters, time.Second, time.Millisecond)
	clock.Step(time.Hour)

	require.Eventually(t, func() bool {
		runs, err = service.RecentRuns(ctx, "proj_1", testBase)
		jtest.RequireNil(t, err)
		return len(runs) == 2
	}, time.Second, time.Millisecond)

	require.NotEqual(t, runs[0].ID, runs[1].ID)
}

func TestScheduleTriggerSingleRunPerSlot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Two instances run the same schedule against a shared store, as happens
	// when the service is deployed with more than one replica.
	store := memstore.New()
	clock := clock_testing.NewFakeClock(testBase)
	for i := 0; i < 2; i++ {
		service := workflowrun.New(store, workflowrun.WithClock(clock))
		go func() {
			err := service.ScheduleTrigger(ctx, "proj_1", "winback", "@hourly")
			jtest.Require(t, context.Canceled, err)
		}()
	}

	require.Eventually(t, clock.HasWaiters, time.Second, time.Millisecond)

	// Give the second scheduler time to block on the slot as well before it
	// fires.
	time.Sleep(20 * time.Millisecond)
	clock.Step(time.Hour)
	time.Sleep(20 * time.Millisecond)

	observer := workflowrun.New(store, workflowrun.WithClock(clock))

	var runs []workflowrun.Run
	require.Eventually(t, func() bool {
		var err error
		runs, err = observer.RecentRuns(ctx, "proj_1", testBase)
		jtest.RequireNil(t, err)
		return len(runs) >= 1
	}, time.Second, time.Millisecond)

	// The slot key collapsed both schedulers onto one run.
	require.Len(t, runs, 1)
	require.Equal(t, workflowrun.SlotKey("winback", testBase.Add(time.Hour)), runs[0].IdempotencyKey)
}

func TestScheduleTriggerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	service, clock := newTestService()

	go func() {
		err := service.ScheduleTrigger(ctx, "proj_1", "winback", "@hourly",
			workflowrun.WithScheduleContext(workflowrun.TriggerContext{
				"segment": "lapsed",
			}),
		)
		jtest.Require(t, context.Canceled, err)
	}()

	require.Eventually(t, clock.HasWaiters, time.Second, time.Millisecond)
	clock.Step(time.Hour)

	var runs []workflowrun.Run
	require.Eventually(t, func() bool {
		var err error
		runs, err = service.RecentRuns(ctx, "proj_1", testBase)
		jtest.RequireNil(t, err)
		return len(runs) == 1
	}, time.Second, time.Millisecond)

	require.Equal(t, "lapsed", runs[0].TriggerContext["segment"])
}

func TestScheduleTriggerFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	service, clock := newTestService()

	filtered := make(chan time.Time, 1)
	go func() {
		var calls int
		err := service.ScheduleTrigger(ctx, "proj_1", "winback", "@hourly",
			workflowrun.WithScheduleFilter(func(ctx context.Context) (bool, error) {
				calls++
				if calls == 1 {
					filtered <- clock.Now()
					return false, nil
				}

				return true, nil
			}),
		)
		jtest.Require(t, context.Canceled, err)
	}()

	require.Eventually(t, clock.HasWaiters, time.Second, time.Millisecond)
	clock.Step(time.Hour)

	// The first slot is filtered out and starts no run.
	<-filtered
	runs, err := service.RecentRuns(ctx, "proj_1", testBase)
	jtest.RequireNil(t, err)
	require.Empty(t, runs)

	require.Eventually(t, clock.HasWaiters, time.Second, time.Millisecond)
	clock.Step(time.Hour)

	require.Eventually(t, func() bool {
		runs, err = service.RecentRuns(ctx, "proj_1", testBase)
		jtest.RequireNil(t, err)
		return len(runs) == 1
	}, time.Second, time.Millisecond)

	require.Equal(t, workflowrun.SlotKey("winback", testBase.Add(2*time.Hour)), runs[0].IdempotencyKey)
}

func TestScheduleTriggerValidation(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()

	err := service.ScheduleTrigger(ctx, "", "winback", "@hourly")
	jtest.Require(t, workflowrun.ErrInvalidArgument, err)

	err = service.ScheduleTrigger(ctx, "proj_1", "", "@hourly")
	jtest.Require(t, workflowrun.ErrInvalidArgument, err)

	err = service.ScheduleTrigger(ctx, "proj_1", "winback", "not a cron spec")
	require.Error(t, err)
}
