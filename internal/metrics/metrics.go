// Package metrics exposes Prometheus collectors for the engine. A nil *Metrics
// is valid and records nothing, so services can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "leadflow"

// Metrics holds every collector the engine records into.
type Metrics struct {
	eventsTracked        *prometheus.CounterVec
	statusTransitions    *prometheus.CounterVec
	sequenceSteps        *prometheus.CounterVec
	automationExecutions *prometheus.CounterVec
	automationDuration   prometheus.Histogram
	conversions          *prometheus.CounterVec
	conversionValue      prometheus.Counter
	channelSends         *prometheus.CounterVec
	queueDepth           prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsTracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_events_total",
			Help:      "Engagement events appended to lead logs.",
		}, []string{"event_type", "source"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lead_status_transitions_total",
			Help:      "Lead status updates by target status.",
		}, []string{"status"}),
		sequenceSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_steps_total",
			Help:      "Sequence steps processed by outcome.",
		}, []string{"outcome"}),
		automationExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_executions_total",
			Help:      "Automation executions that reached a final state.",
		}, []string{"status"}),
		automationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "automation_execution_duration_seconds",
			Help:      "Wall time from execution start to its final state.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Recorded conversions by type.",
		}, []string{"conversion_type"}),
		conversionValue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_value_total",
			Help:      "Sum of recorded conversion values.",
		}),
		channelSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_sends_total",
			Help:      "Outbound messages by channel and outcome.",
		}, []string{"channel", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "automation_queue_depth",
			Help:      "Pending automation executions in the FIFO queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.eventsTracked,
			m.statusTransitions,
			m.sequenceSteps,
			m.automationExecutions,
			m.automationDuration,
			m.conversions,
			m.conversionValue,
			m.channelSends,
			m.queueDepth,
		)
	}
	return m
}

func (m *Metrics) EventTracked(eventType, source string) {
	if m == nil {
		return
	}
	m.eventsTracked.WithLabelValues(eventType, source).Inc()
}

func (m *Metrics) StatusChanged(status string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(status).Inc()
}

// SequenceStep records one step outcome: sent, skipped, retried, failed or completed.
func (m *Metrics) SequenceStep(outcome string) {
	if m == nil {
		return
	}
	m.sequenceSteps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AutomationFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.automationExecutions.WithLabelValues(status).Inc()
	m.automationDuration.Observe(d.Seconds())
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) ConversionRecorded(conversionType string, value float64) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(conversionType).Inc()
	if value > 0 {
		m.conversionValue.Add(value)
	}
}

func (m *Metrics) ChannelSend(channel, outcome string) {
	if m == nil {
		return
	}
	m.channelSends.WithLabelValues(channel, outcome).Inc()
}
