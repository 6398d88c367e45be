package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flash_sale"

// Recorder holds the order pipeline counters. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry           *prometheus.Registry
	submissions        *prometheus.CounterVec
	handled            *prometheus.CounterVec
	stockCompensations *prometheus.CounterVec
	requeues           *prometheus.CounterVec
}

// NewRecorder creates the counters and registers them on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "place_order",
			Name:      "submissions_total",
			Help:      "Place order submissions by outcome.",
		}, []string{"outcome"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "place_order",
			Name:      "tasks_handled_total",
			Help:      "Place order tasks handled by final status and reason.",
		}, []string{"status", "reason"}),
		stockCompensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "compensations_total",
			Help:      "Stock compensations after failed order writes by result.",
		}, []string{"result"}),
		requeues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "place_order",
			Name:      "requeues_total",
			Help:      "Stale pending tasks republished by result.",
		}, []string{"result"}),
	}
	r.registry.MustRegister(r.submissions, r.handled, r.stockCompensations, r.requeues)
	return r
}

func (r *Recorder) Submission(outcome string) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(outcome).Inc()
}

func (r *Recorder) TaskHandled(status, reason string) {
	if r == nil {
		return
	}
	r.handled.WithLabelValues(status, reason).Inc()
}

func (r *Recorder) StockCompensation(result string) {
	if r == nil {
		return
	}
	r.stockCompensations.WithLabelValues(result).Inc()
}

func (r *Recorder) Requeue(result string) {
	if r == nil {
		return
	}
	r.requeues.WithLabelValues(result).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Submissions exposes the submission counter (used by tests).
func (r *Recorder) Submissions() *prometheus.CounterVec { return r.submissions }

// Handled exposes the handled-task counter (used by tests).
func (r *Recorder) Handled() *prometheus.CounterVec { return r.handled }

// StockCompensations exposes the compensation counter (used by tests).
func (r *Recorder) StockCompensations() *prometheus.CounterVec { return r.stockCompensations }

// Requeues exposes the requeue counter (used by tests).
func (r *Recorder) Requeues() *prometheus.CounterVec { return r.requeues }
