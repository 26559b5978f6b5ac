// Package metrics публикует метрики движка рецензирования в Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"rfitracker/internal/workflow"
	"rfitracker/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder реализует workflow.Observer.
//
// Метрики:
//   - rfi_stage_transitions_total{from,to}
//   - rfi_emails_total{template,result}
//   - rfi_updates_reconciled_total{kind}
//   - rfi_reminders_pending{stage}
//   - rfi_http_request_duration_seconds{method,route,status}
type Recorder struct {
	gatherer prometheus.Gatherer

	transitions *prometheus.CounterVec
	emails      *prometheus.CounterVec
	reconciled  *prometheus.CounterVec
	pending     *prometheus.GaugeVec
	httpLatency *prometheus.HistogramVec
}

var _ workflow.Observer = (*Recorder)(nil)

// New регистрирует метрики в reg. При nil создаётся отдельный реестр.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rfi_stage_transitions_total",
			Help: "Total number of workflow stage transitions",
		}, []string{"from", "to"}),
		emails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rfi_emails_total",
			Help: "Total number of outbound emails by template and result",
		}, []string{"template", "result"}),
		reconciled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rfi_updates_reconciled_total",
			Help: "Total number of contractor updates by detected kind",
		}, []string{"kind"}),
		pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rfi_reminders_pending",
			Help: "Reminder entries found by the last scan",
		}, []string{"stage"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rfi_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "route", "status"}),
	}
}

func (r *Recorder) TransitionRecorded(from, to models.Stage) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) EmailSent(kind workflow.TemplateKind, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.emails.WithLabelValues(string(kind), result).Inc()
}

func (r *Recorder) UpdateReconciled(kind models.UpdateKind) {
	r.reconciled.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) RemindersPending(stage models.ReminderStage, count int) {
	r.pending.WithLabelValues(string(stage)).Set(float64(count))
}

// Handler отдаёт /metrics
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Middleware замеряет длительность запросов по шаблону маршрута chi
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.httpLatency.WithLabelValues(req.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
