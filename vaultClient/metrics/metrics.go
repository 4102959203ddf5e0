// Package metrics holds the Prometheus collectors of the vault client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "pvault"

	subsystemRound     = "round"
	subsystemTransport = "transport"
	subsystemDispatch  = "dispatch"
	subsystemCeremony  = "ceremony"

	LabelKind    = "kind"
	LabelOutcome = "outcome"
	LabelChain   = "chain"
	LabelStatus  = "status"

	OutcomeCompleted = "completed"
	OutcomeVerified  = "verified"
	OutcomeFailed    = "failed"
	OutcomeThreshold = "threshold"
)

// Collector groups every metric the ceremony layer reports. All methods are
// safe on a nil *Collector so components can run without metrics.
type Collector struct {
	roundAttempts     *prometheus.CounterVec
	verificationHits  *prometheus.CounterVec
	roundOutcomes     *prometheus.CounterVec
	messagesSent      prometheus.Counter
	messagesApplied   prometheus.Counter
	duplicatesDropped prometheus.Counter
	applyFailures     prometheus.Counter
	broadcasts        *prometheus.CounterVec
	ceremonies        *prometheus.CounterVec
	activeCeremonies  prometheus.Gauge
}

// NewCollector registers all collectors with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		roundAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRound,
			Name:      "attempts_total",
			Help:      "engine executions started per round kind",
		}, []string{LabelKind}),
		verificationHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRound,
			Name:      "verification_hits_total",
			Help:      "rounds whose result was adopted from an earlier completion",
		}, []string{LabelKind}),
		roundOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRound,
			Name:      "outcomes_total",
			Help:      "terminal round outcomes",
		}, []string{LabelKind, LabelOutcome}),
		messagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "messages_sent_total",
			Help:      "protocol messages posted to the relay",
		}),
		messagesApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "messages_applied_total",
			Help:      "inbound protocol messages fed to the engine",
		}),
		duplicatesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "duplicates_dropped_total",
			Help:      "inbound messages dropped by deduplication",
		}),
		applyFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "apply_failures_total",
			Help:      "inbound messages the engine rejected",
		}),
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDispatch,
			Name:      "broadcasts_total",
			Help:      "transactions submitted per chain",
		}, []string{LabelChain, LabelKind, LabelStatus}),
		ceremonies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCeremony,
			Name:      "finished_total",
			Help:      "ceremonies that reached a terminal state",
		}, []string{LabelKind, LabelOutcome}),
		activeCeremonies: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemCeremony,
			Name:      "active",
			Help:      "ceremonies currently running",
		}),
	}
}

func (c *Collector) RoundAttempt(kind string) {
	if c == nil {
		return
	}
	c.roundAttempts.WithLabelValues(kind).Inc()
}

func (c *Collector) VerificationHit(kind string) {
	if c == nil {
		return
	}
	c.verificationHits.WithLabelValues(kind).Inc()
}

func (c *Collector) RoundOutcome(kind, outcome string) {
	if c == nil {
		return
	}
	c.roundOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) MessageSent() {
	if c == nil {
		return
	}
	c.messagesSent.Inc()
}

func (c *Collector) MessageApplied() {
	if c == nil {
		return
	}
	c.messagesApplied.Inc()
}

func (c *Collector) DuplicateDropped() {
	if c == nil {
		return
	}
	c.duplicatesDropped.Inc()
}

func (c *Collector) ApplyFailed() {
	if c == nil {
		return
	}
	c.applyFailures.Inc()
}

func (c *Collector) Broadcast(chain, kind, status string) {
	if c == nil {
		return
	}
	c.broadcasts.WithLabelValues(chain, kind, status).Inc()
}

// CeremonyStarted and CeremonyFinished bracket one ceremony run.
func (c *Collector) CeremonyStarted() {
	if c == nil {
		return
	}
	c.activeCeremonies.Inc()
}

func (c *Collector) CeremonyFinished(kind, outcome string) {
	if c == nil {
		return
	}
	c.activeCeremonies.Dec()
	c.ceremonies.WithLabelValues(kind, outcome).Inc()
}
