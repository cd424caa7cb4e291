package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	action      = "action"
	sendStatus  = "send_status"
	matchMethod = "match_method"
)

var (
	// RunsStarted counts runs inserted by triggers, per action.
	RunsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowrun_runs_started_count",
		Help: "Number of workflow runs started",
	}, []string{action})

	// RunsDeduplicated counts triggers that collapsed onto an existing run
	// because the idempotency key was already claimed.
	RunsDeduplicated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowrun_runs_deduplicated_count",
		Help: "Number of triggers deduplicated onto an existing run",
	}, []string{action})

	// RecipientsExcluded counts candidates dropped from a send batch by the
	// cooldown window.
	RecipientsExcluded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowrun_recipients_excluded_count",
		Help: "Number of recipients excluded by the cooldown window",
	}, []string{action})

	// SendsRecorded counts send outcomes written to the audit log.
	SendsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowrun_sends_recorded_count",
		Help: "Number of sends recorded",
	}, []string{action, sendStatus})

	// AttributionsClaimed counts payment events claimed by a run, per match
	// method.
	AttributionsClaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowrun_attributions_claimed_count",
		Help: "Number of payment events attributed to a run",
	}, []string{matchMethod})

	// DuplicateClaims counts payment events that arrived again after they had
	// already been claimed.
	DuplicateClaims = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workflowrun_duplicate_claims_count",
		Help: "Number of duplicate attribution claims observed",
	})

	// OutboxLag is how far behind the outbox forwarder is based on the oldest
	// undelivered event.
	OutboxLag = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workflowrun_outbox_lag_seconds",
		Help: "Lag between now and the current outbox event timestamp in seconds",
	})

	// OutboxLagAlert is whether the outbox forwarder is too far behind or not.
	OutboxLagAlert = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workflowrun_outbox_lag_alert",
		Help: "Whether or not the outbox lag crosses its alert threshold",
	})

	// ForwardLatency is how long the forwarder takes to publish and delete one
	// outbox event.
	ForwardLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "workflowrun_outbox_forward_latency_seconds",
		Help:    "Outbox forward latency in seconds",
		Buckets: []float64{0.01, 0.1, 1, 5, 10, 60, 300},
	})
)

func init() {
	prometheus.MustRegister(
		RunsStarted,
		RunsDeduplicated,
		RecipientsExcluded,
		SendsRecorded,
		AttributionsClaimed,
		DuplicateClaims,
		OutboxLag,
		OutboxLagAlert,
		ForwardLatency,
	)
}

func Reset() {
	RunsStarted.Reset()
	RunsDeduplicated.Reset()
	RecipientsExcluded.Reset()
	SendsRecorded.Reset()
	AttributionsClaimed.Reset()
	OutboxLag.Set(0)
	OutboxLagAlert.Set(0)
}
