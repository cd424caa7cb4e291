package workflowrun

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"
)

// SlotKey returns the idempotency key for the run of a scheduled slot. The key is
// derived from the action and the slot time only, so any number of schedulers
// across processes collapse onto a single run per slot.
func SlotKey(action string, slot time.Time) string {
	return action + "@" + slot.UTC().Format(time.RFC3339)
}

// ScheduleTrigger blocks and starts a run for every slot of the cron spec until
// ctx is cancelled. Each slot is triggered with its SlotKey as the idempotency
// key which makes it safe to run the same schedule on multiple instances; one of
// them inserts the slot's run and the rest read it back. Slots that pass while no
// scheduler is running are skipped, not backfilled.
//
// The spec accepts the standard five field crontab format as well as descriptors
// such as "@hourly" and "@every 1h".
func (s *Service) ScheduleTrigger(ctx context.Context, projectID, action, spec string, opts ...ScheduleOption) error {
	if projectID == "" || action == "" {
		return errors.Wrap(ErrInvalidArgument, "project id and action are required", j.MKV{
			"project_id": projectID,
			"action":     action,
		})
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return errors.Wrap(err, "parse cron spec", j.KV("spec", spec))
	}

	var options scheduleOpts
	for _, opt := range opts {
		opt(&options)
	}

	lastSlot := s.clock.Now()
	for ctx.Err() == nil {
		slot := schedule.Next(lastSlot)

		err := waitUntil(ctx, s.clock, slot)
		if err != nil {
			return err
		}

		// If a filter has been provided then a false return along with a nil error
		// skips the slot entirely.
		if options.scheduleFilter != nil {
			ok, err := options.scheduleFilter(ctx)
			if err != nil {
				return err
			}

			if !ok {
				lastSlot = slot
				continue
			}
		}

		_, err = s.StartRun(ctx, projectID, action, SlotKey(action, slot), options.triggerContext.Clone())
		if err != nil {
			// NoReturnErr: Log and back off before retrying the slot. The slot key
			// keeps the retry idempotent.
			s.logger.Error(ctx, errors.Wrap(err, "schedule trigger", j.MKV{
				"project_id": projectID,
				"action":     action,
				"slot":       slot.UTC().Format(time.RFC3339),
			}))

			err = waitUntil(ctx, s.clock, s.clock.Now().Add(s.errBackOff))
			if err != nil {
				return err
			}

			continue
		}

		lastSlot = slot
	}

	return ctx.Err()
}

func waitUntil(ctx context.Context, clock clock.Clock, until time.Time) error {
	timeDiffAsDuration := until.Sub(clock.Now())
	if timeDiffAsDuration <= 0 {
		return nil
	}

	t := clock.NewTimer(timeDiffAsDuration)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

type scheduleOpts struct {
	triggerContext TriggerContext
	scheduleFilter func(ctx context.Context) (bool, error)
}

type ScheduleOption func(o *scheduleOpts)

// WithScheduleContext attaches a trigger context to every run the schedule
// starts.
func WithScheduleContext(tctx TriggerContext) ScheduleOption {
	return func(o *scheduleOpts) {
		o.triggerContext = tctx
	}
}

// WithScheduleFilter adds the ability to evaluate, at the time of the slot,
// whether the trigger should go ahead. Returning false with a nil error skips
// the slot.
func WithScheduleFilter(fn func(ctx context.Context) (bool, error)) ScheduleOption {
	return func(o *scheduleOpts) {
		o.scheduleFilter = fn
	}
}
