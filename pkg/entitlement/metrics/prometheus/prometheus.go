package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements entitlement.Metrics using Prometheus.
type Metrics struct {
	gateDecisionsTotal *prometheus.CounterVec
	usageCreditsTotal  *prometheus.CounterVec
	storeOpsDuration   *prometheus.HistogramVec
	storeOpsErrors     *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gateDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Total number of entitlement gate decisions.",
		}, []string{"operation", "plan", "outcome"}),

		usageCreditsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_credits_total",
			Help:      "Total credits consumed by gated operations.",
		}, []string{"operation", "success"}),

		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of entitlement store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Total number of entitlement store operation errors.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordGateDecision(operation, plan, outcome string) {
	m.gateDecisionsTotal.WithLabelValues(operation, plan, outcome).Inc()
}

func (m *Metrics) RecordUsage(operation string, cost int, success bool) {
	m.usageCreditsTotal.WithLabelValues(operation, strconv.FormatBool(success)).Add(float64(cost))
}

func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpsErrors.WithLabelValues(operation).Inc()
	}
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
