// Package metrics exposes Prometheus collectors for runs, steps, sessions and
// hosted commands.
package metrics

import (
	"net/http"

	"mailpilot/internal/browser"
	"mailpilot/internal/events"
	"mailpilot/internal/workflow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailpilot"

// Metrics implements workflow.Observer and browser.Observer.
type Metrics struct {
	gatherer prometheus.Gatherer

	Runs           *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	Steps          *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	Fallbacks      *prometheus.CounterVec
	SessionsOpened prometheus.Counter
	SessionsClosed prometheus.Counter
	SessionsActive prometheus.Gauge
	Commands       *prometheus.CounterVec
	Generations    *prometheus.CounterVec
	Events         *prometheus.CounterVec
}

// New registers the collectors on a fresh registry that also carries the
// Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWith(reg, reg)
}

// NewWith registers the collectors on reg and serves g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Workflow runs by result.",
		}, []string{"result", "reason"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of workflow runs.",
			Buckets:   []float64{5, 15, 30, 60, 90, 120, 180, 300},
		}),
		Steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_outcomes_total",
			Help:      "Step outcomes by step and status.",
		}, []string{"step", "status"}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"step"}),
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_mechanisms_total",
			Help:      "Successful dispatch mechanisms by step.",
		}, []string{"step", "mechanism"}),
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Browser sessions opened.",
		}),
		SessionsClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Browser sessions closed.",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Browser sessions currently open.",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound commands by kind and disposition.",
		}, []string{"command", "disposition"}),
		Generations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Content generation requests by result.",
		}, []string{"result"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events emitted to the outward channel by kind.",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) StepFinished(runID string, o workflow.Outcome) {
	m.Steps.WithLabelValues(o.Step, string(o.Status)).Inc()
	m.StepDuration.WithLabelValues(o.Step).Observe(o.Duration.Seconds())
	if o.Mechanism != "" {
		m.Fallbacks.WithLabelValues(o.Step, o.Mechanism).Inc()
	}
}

func (m *Metrics) RunFinished(r workflow.Result) {
	result := "failed"
	switch {
	case r.OK && r.Confirmed:
		result = "sent"
	case r.OK:
		result = "sent_unconfirmed"
	}
	m.Runs.WithLabelValues(result, string(r.Reason)).Inc()

	var total float64
	for _, o := range r.Outcomes {
		total += o.Duration.Seconds()
	}
	m.RunDuration.Observe(total)
}

func (m *Metrics) SessionOpened() {
	m.SessionsOpened.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	m.SessionsClosed.Inc()
	m.SessionsActive.Dec()
}

// Emit implements events.Sink.
func (m *Metrics) Emit(e events.Event) {
	m.Events.WithLabelValues(string(e.Kind)).Inc()
}

// Command counts one inbound command.
func (m *Metrics) Command(kind, disposition string) {
	m.Commands.WithLabelValues(kind, disposition).Inc()
}

// Generation counts one content generation.
func (m *Metrics) Generation(ok bool) {
	if ok {
		m.Generations.WithLabelValues("ok").Inc()
		return
	}
	m.Generations.WithLabelValues("degraded").Inc()
}

var (
	_ workflow.Observer = (*Metrics)(nil)
	_ browser.Observer  = (*Metrics)(nil)
	_ events.Sink       = (*Metrics)(nil)
)
