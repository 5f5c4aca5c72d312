package metrics

import (
	"time"

	"github.com/tathienbao/brokerhub/internal/supervisor"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order placement outcome.
func (r *Recorder) RecordOrder(provider, side, status string) {
	OrdersTotal.WithLabelValues(provider, side, status).Inc()
}

// RecordCancel records a cancel request.
func (r *Recorder) RecordCancel(provider string) {
	CancelsTotal.WithLabelValues(provider).Inc()
}

// RecordUncertainSubmission records an uncertain placement and whether the
// recovery probe matched.
func (r *Recorder) RecordUncertainSubmission(provider string, recovered bool) {
	result := "unmatched"
	if recovered {
		result = "recovered"
	}
	UncertainSubmissionsTotal.WithLabelValues(provider, result).Inc()
}

// RecordReconciliation records a reconciliation pass outcome.
func (r *Recorder) RecordReconciliation(outcome string) {
	ReconciliationRuns.WithLabelValues(outcome).Inc()
}

// RecordSessionState records the supervisor state for a provider.
func (r *Recorder) RecordSessionState(provider string, state supervisor.State) {
	SessionState.WithLabelValues(provider).Set(float64(state))
}

// RecordResolve records an account resolution.
func (r *Recorder) RecordResolve(provider, source string) {
	RoutingResolves.WithLabelValues(provider, source).Inc()
}

// RecordOrderLatency records order placement latency.
func (r *Recorder) RecordOrderLatency(duration time.Duration) {
	OrderLatency.Observe(duration.Seconds())
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveOrder observes the elapsed time as order latency.
func (t *Timer) ObserveOrder() {
	OrderLatency.Observe(t.Elapsed().Seconds())
}
