package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "faultgate"

// PrometheusCollector implements Collector backed by Prometheus.
// Metrics are registered lazily on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	messages             *prometheus.CounterVec
	messageErrors        *prometheus.CounterVec
	consuming            prometheus.Gauge
	credentialRenewals   *prometheus.CounterVec
	subscriptionRenewals *prometheus.CounterVec
	sinkRecords          *prometheus.CounterVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed collector. A nil reg uses
// prometheus.DefaultRegisterer; an empty namespace uses DefaultNamespace.
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.messages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Total messages pulled from the broker by topic.",
		}, []string{"topic"})

		p.messageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "stream",
			Name:      "message_errors_total",
			Help:      "Total messages that failed to decode or dispatch, by topic and stage.",
		}, []string{"topic", "stage"})

		p.consuming = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "stream",
			Name:      "consuming",
			Help:      "Consumption loop state (1=running,0=stopped).",
		})

		p.credentialRenewals = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "credential",
			Name:      "renewals_total",
			Help:      "Credential renewal outcomes (success|failure).",
		}, []string{"outcome"})

		p.subscriptionRenewals = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "subscription",
			Name:      "renewals_total",
			Help:      "Subscription renewal outcomes (success|failure|skipped).",
		}, []string{"outcome"})

		p.sinkRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "sink",
			Name:      "records_total",
			Help:      "Sink write outcomes by sink.",
		}, []string{"sink", "outcome"})

		p.reg.MustRegister(p.messages)
		p.reg.MustRegister(p.messageErrors)
		p.reg.MustRegister(p.consuming)
		p.reg.MustRegister(p.credentialRenewals)
		p.reg.MustRegister(p.subscriptionRenewals)
		p.reg.MustRegister(p.sinkRecords)
	})
}

// IncMessages increments the per-topic message counter.
func (p *PrometheusCollector) IncMessages(topic string) {
	p.ensureRegistered()
	p.messages.WithLabelValues(topic).Inc()
}

// IncMessageErrors increments the per-topic error counter for stage.
func (p *PrometheusCollector) IncMessageErrors(topic, stage string) {
	p.ensureRegistered()
	p.messageErrors.WithLabelValues(topic, stage).Inc()
}

// SetConsuming sets the consuming gauge.
func (p *PrometheusCollector) SetConsuming(running bool) {
	p.ensureRegistered()
	if running {
		p.consuming.Set(1)
		return
	}
	p.consuming.Set(0)
}

// IncCredentialRenewal increments credential renewal outcomes.
func (p *PrometheusCollector) IncCredentialRenewal(outcome string) {
	p.ensureRegistered()
	p.credentialRenewals.WithLabelValues(outcome).Inc()
}

// IncSubscriptionRenewal increments subscription renewal outcomes.
func (p *PrometheusCollector) IncSubscriptionRenewal(outcome string) {
	p.ensureRegistered()
	p.subscriptionRenewals.WithLabelValues(outcome).Inc()
}

// IncSinkRecords increments sink write outcomes.
func (p *PrometheusCollector) IncSinkRecords(sink, outcome string) {
	p.ensureRegistered()
	p.sinkRecords.WithLabelValues(sink, outcome).Inc()
}
