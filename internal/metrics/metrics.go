package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	transitions   *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	indexFallback *prometheus.CounterVec
	chunksIndexed prometheus.Counter
	gatherer      prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scholar",
			Name:      "task_transitions_total",
			Help:      "Workflow state transitions by target state.",
		}, []string{"state"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scholar",
			Name:      "step_duration_seconds",
			Help:      "Duration of workflow steps.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"state", "outcome"}),
		indexFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scholar",
			Name:      "index_fallback_total",
			Help:      "Times the managed index was unavailable and the in-process index was used.",
		}, []string{"backend"}),
		chunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scholar",
			Name:      "chunks_indexed_total",
			Help:      "Chunks embedded and inserted into the similarity index.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.transitions, m.stepDuration, m.indexFallback, m.chunksIndexed)
	return m
}

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveStep(state string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stepDuration.WithLabelValues(state, outcome).Observe(d.Seconds())
}

func (m *Metrics) IndexFallback(backend string) {
	if m == nil {
		return
	}
	m.indexFallback.WithLabelValues(backend).Inc()
}

func (m *Metrics) ChunksIndexed(n int) {
	if m == nil {
		return
	}
	m.chunksIndexed.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
