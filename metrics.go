package workflowrun

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/easymodehq/workflowrun/internal/metrics"
)

// pushOutboxLagMetric pushes metrics around the age of the outbox event being
// forwarded. If the age is greater than the threshold then the lag alert gauge
// is set to 1 which signals that the forwarder is in an alerting state.
//
// See internal/metrics/metrics.go for the prometheus metrics configured.
func pushOutboxLagMetric(timestamp time.Time, lagThreshold time.Duration, clock clock.Clock) {
	lag := clock.Now().Sub(timestamp)
	metrics.OutboxLag.Set(lag.Seconds())

	// If a lag alert threshold is set then check if the forwarder is lagging and
	// push a value of 1 to the lag alert gauge if it is. If it is not lagging
	// then push 0.
	if lagThreshold > 0 {
		alert := 0.0
		if lag > lagThreshold {
			alert = 1
		}

		metrics.OutboxLagAlert.Set(alert)
	}
}
