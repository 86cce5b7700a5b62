// Package telemetry exposes the counters and latency histograms spec.md §2
// names per state/intent-type/error class, backed by
// github.com/prometheus/client_golang the way
// ep-eaglepoint-ai-bd_datasets_002/m5pt43-event-sourcing-go pairs a
// Postgres-backed store with Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry holds every metric the dispatcher and flow handlers touch.
type Telemetry struct {
	JobStateTransitions  *prometheus.CounterVec
	TargetProofBuildMS    *prometheus.HistogramVec
	EmulationMismatches   prometheus.Counter
	BreakerTrips          *prometheus.CounterVec
	RateLimitRejections   *prometheus.CounterVec
	ErrorsByClass         *prometheus.CounterVec
	DelegateReservationConflicts prometheus.Counter
	TickDurationMS        prometheus.Histogram
}

// New registers every metric against reg (pass prometheus.NewRegistry() in
// tests to avoid cross-test collisions, or prometheus.DefaultRegisterer in
// production).
func New(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		JobStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "untron_solver",
			Name:      "job_state_transitions_total",
			Help:      "Job state transitions, labeled by intent type, from-state, to-state.",
		}, []string{"intent_type", "from", "to"}),
		TargetProofBuildMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "untron_solver",
			Name:      "target_proof_build_duration_ms",
			Help:      "Target-chain inclusion proof build latency, labeled by success.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 14),
		}, []string{"success"}),
		EmulationMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "untron_solver",
			Name:      "emulation_mismatches_total",
			Help:      "Count of on-chain failures after a prior emulation said ok.",
		}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "untron_solver",
			Name:      "circuit_breaker_trips_total",
			Help:      "Circuit breaker activations, labeled by contract.",
		}, []string{"contract"}),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "untron_solver",
			Name:      "rate_limit_rejections_total",
			Help:      "Claim attempts rejected by a rate-limit bucket, labeled by bucket key.",
		}, []string{"bucket"}),
		ErrorsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "untron_solver",
			Name:      "errors_total",
			Help:      "Handler errors, labeled by classification bucket.",
		}, []string{"class"}),
		DelegateReservationConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "untron_solver",
			Name:      "delegate_reservation_conflicts_total",
			Help:      "Count of delegate_capacity_insufficient outcomes.",
		}),
		TickDurationMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "untron_solver",
			Name:      "tick_duration_ms",
			Help:      "Dispatcher tick wall-clock duration.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 14),
		}),
	}
	reg.MustRegister(
		t.JobStateTransitions, t.TargetProofBuildMS, t.EmulationMismatches,
		t.BreakerTrips, t.RateLimitRejections, t.ErrorsByClass,
		t.DelegateReservationConflicts, t.TickDurationMS,
	)
	return t
}

func (t *Telemetry) JobStateTransition(intentType, from, to string) {
	t.JobStateTransitions.WithLabelValues(intentType, from, to).Inc()
}

func (t *Telemetry) TargetProofBuildDuration(success bool, d time.Duration) {
	t.TargetProofBuildMS.WithLabelValues(boolLabel(success)).Observe(float64(d.Milliseconds()))
}

func (t *Telemetry) EmulationMismatch() {
	t.EmulationMismatches.Inc()
}

func (t *Telemetry) BreakerTrip(contract string) {
	t.BreakerTrips.WithLabelValues(contract).Inc()
}

func (t *Telemetry) RateLimited(bucket string) {
	t.RateLimitRejections.WithLabelValues(bucket).Inc()
}

func (t *Telemetry) Error(class string) {
	t.ErrorsByClass.WithLabelValues(class).Inc()
}

func (t *Telemetry) DelegateReservationConflict() {
	t.DelegateReservationConflicts.Inc()
}

func (t *Telemetry) TickDuration(d time.Duration) {
	t.TickDurationMS.Observe(float64(d.Milliseconds()))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
