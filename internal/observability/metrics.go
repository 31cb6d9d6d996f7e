package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pondok-erp/pondok-erp/internal/shared"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	recordOps       *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pondok_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route, action dan status.",
	}, []string{"route", "action", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pondok_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "action"})
	recordOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pondok_record_operations_total",
		Help: "Operasi gateway data per tipe entitas.",
	}, []string{"entity", "op", "result"})
	registry.MustRegister(
		requests, duration, recordOps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		recordOps:       recordOps,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		action := actionLabel(r.URL.Query().Get("action"))
		m.requestsTotal.WithLabelValues(route, action, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route, action).Observe(time.Since(start).Seconds())
	})
}

// ObserveRecordOp menghitung hasil operasi gateway data.
func (m *Metrics) ObserveRecordOp(entity, op string, err error) {
	if m == nil {
		return
	}
	m.recordOps.WithLabelValues(entity, op, result(err)).Inc()
}

// result mengelompokkan error supaya label tetap sedikit.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrInvalidType),
		errors.Is(err, shared.ErrInvalidField),
		errors.Is(err, shared.ErrInvalidID),
		errors.Is(err, shared.ErrMissingID):
		return "invalid"
	default:
		return "error"
	}
}

// actionLabel membatasi nilai label action dari query string.
func actionLabel(action string) string {
	if action == "" {
		return "none"
	}
	if len(action) > 32 {
		return "other"
	}
	for _, c := range action {
		if (c < 'a' || c > 'z') && c != '_' {
			return "other"
		}
	}
	return action
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
