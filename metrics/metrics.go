package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of the service node.
type Metrics struct {
	registry *prometheus.Registry

	initiated    *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	clientErrors *prometheus.CounterVec
	polls        *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	taskLatency  *prometheus.HistogramVec
}

var (
	once     sync.Once
	instance *Metrics
)

// Default returns the lazily-initialised process wide metrics.
func Default() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New builds an independent set of collectors on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		initiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicenode",
			Subsystem: "transfers",
			Name:      "initiated_total",
			Help:      "Transfer requests by admission outcome.",
		}, []string{"source_blockchain", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicenode",
			Subsystem: "transfers",
			Name:      "status_transitions_total",
			Help:      "Transfer status changes written by the engine.",
		}, []string{"source_blockchain", "status"}),
		clientErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicenode",
			Subsystem: "blockchain_client",
			Name:      "errors_total",
			Help:      "Blockchain client errors by operation.",
		}, []string{"blockchain", "op"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicenode",
			Subsystem: "blockchain_client",
			Name:      "submission_polls_total",
			Help:      "Transaction submission status polls by outcome.",
		}, []string{"blockchain", "outcome"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicenode",
			Subsystem: "queue",
			Name:      "tasks_total",
			Help:      "Processed tasks by queue, kind and result.",
		}, []string{"queue", "kind", "result"}),
		taskLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "servicenode",
			Subsystem: "queue",
			Name:      "task_duration_seconds",
			Help:      "Task handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.initiated,
		m.transitions,
		m.clientErrors,
		m.polls,
		m.tasks,
		m.taskLatency,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) TransferInitiated(sourceBlockchain, outcome string) {
	if m == nil {
		return
	}
	m.initiated.WithLabelValues(sourceBlockchain, outcome).Inc()
}

func (m *Metrics) StatusTransition(sourceBlockchain, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(sourceBlockchain, status).Inc()
}

func (m *Metrics) ClientError(blockchain, op string) {
	if m == nil {
		return
	}
	m.clientErrors.WithLabelValues(blockchain, op).Inc()
}

// SubmissionPoll records a status poll; outcome is pending, included,
// confirmed, reverted or unresolvable.
func (m *Metrics) SubmissionPoll(blockchain, outcome string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(blockchain, outcome).Inc()
}

func (m *Metrics) TaskProcessed(queue, kind, result string, seconds float64) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(queue, kind, result).Inc()
	m.taskLatency.WithLabelValues(queue, kind).Observe(seconds)
}
