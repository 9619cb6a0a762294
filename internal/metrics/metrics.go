package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FeedFetches counts fetch outcomes per source: network, cache or error.
	FeedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notecal_feed_fetches_total",
		Help: "ICS feed fetch attempts by outcome.",
	}, []string{"source", "result"})

	FeedParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notecal_feed_parse_errors_total",
		Help: "ICS feeds that could not be parsed as calendar data.",
	}, []string{"source"})

	EventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notecal_events_skipped_total",
		Help: "Events or recurring series skipped while parsing or expanding.",
	}, []string{"source", "reason"})

	OccurrencesResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notecal_occurrences_resolved_total",
		Help: "Occurrences placed into notes.",
	})

	// NotesProcessed counts notes by result: updated, unchanged or error.
	NotesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notecal_notes_processed_total",
		Help: "Daily notes visited by a sync run.",
	}, []string{"result"})

	SectionsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notecal_calendar_sections_removed_total",
		Help: "Previously generated calendar sections removed from notes.",
	})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notecal_sync_duration_seconds",
		Help:    "Wall time of complete sync runs.",
		Buckets: prometheus.DefBuckets,
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notecal_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notecal_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Middleware records request metrics.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSync records the duration of a sync run that started at start.
func ObserveSync(start time.Time) {
	SyncDuration.Observe(time.Since(start).Seconds())
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
