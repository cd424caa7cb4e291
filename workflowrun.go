package workflowrun

import (
	"os"
	"time"

	"k8s.io/utils/clock"

	internal_logger "github.com/easymodehq/workflowrun/internal/logger"
)

const defaultErrBackOff = time.Second

// Service owns the workflow run lifecycle for every project: starting runs exactly
// once per idempotency key, selecting recipients outside their cooldown window,
// recording send outcomes, and attributing payments to runs. All operations are
// synchronous single-transaction calls against the configured Store; coordination
// between concurrent callers happens through the store's uniqueness constraints.
type Service struct {
	store    Store
	cooldown CooldownIndex
	clock    clock.Clock
	logger   *logger

	attributionWindow time.Duration
	errBackOff        time.Duration
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:             store,
		clock:             clock.RealClock{},
		attributionWindow: DefaultAttributionWindow,
		errBackOff:        defaultErrBackOff,
	}

	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.clock != nil {
		s.clock = o.clock
	}

	if o.attributionWindow > 0 {
		s.attributionWindow = o.attributionWindow
	}

	if o.errBackOff > 0 {
		s.errBackOff = o.errBackOff
	}

	s.cooldown = o.cooldownIndex
	if s.cooldown == nil {
		s.cooldown = newStoreCooldownIndex(store)
	}

	inner := o.logger
	if inner == nil {
		inner = internal_logger.New(os.Stdout)
	}

	s.logger = &logger{
		inner:     inner,
		debugMode: o.debugMode,
	}

	return s
}

// AttributionWindow reports the configured last touch lookback. The webhook
// intake uses it to bound the recent run scan when assembling candidates.
func (s *Service) AttributionWindow() time.Duration {
	return s.attributionWindow
}

type serviceOptions struct {
	clock             clock.Clock
	logger            Logger
	debugMode         bool
	attributionWindow time.Duration
	errBackOff        time.Duration
	cooldownIndex     CooldownIndex
}

type Option func(o *serviceOptions)

func WithClock(c clock.Clock) Option {
	return func(o *serviceOptions) {
		o.clock = c
	}
}

func WithLogger(l Logger) Option {
	return func(o *serviceOptions) {
		o.logger = l
	}
}

// WithDebugMode enables debug level logging such as run replays and duplicate
// attribution claims.
func WithDebugMode() Option {
	return func(o *serviceOptions) {
		o.debugMode = true
	}
}

// WithAttributionWindow overrides the last touch lookback. The attribution model
// tag stays ModelLastTouch48h regardless; the window is a tuning knob, not a
// second model.
func WithAttributionWindow(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.attributionWindow = d
	}
}

// WithCooldownIndex swaps the send-log-derived cooldown lookup for a faster
// implementation such as adapters/rediscooldown. The send log remains the source
// of truth; the index is a read optimisation.
func WithCooldownIndex(idx CooldownIndex) Option {
	return func(o *serviceOptions) {
		o.cooldownIndex = idx
	}
}

// WithErrBackOff sets how long ScheduleTrigger sleeps after a failed trigger
// before retrying.
func WithErrBackOff(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.errBackOff = d
	}
}
