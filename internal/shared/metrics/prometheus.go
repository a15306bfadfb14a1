package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	matchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donor_match_runs_total",
			Help: "Total number of donor searches",
		},
		[]string{"blood_group"},
	)

	matchCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "donor_match_candidates",
			Help:    "Candidates returned per donor search",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	matchSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donor_match_skipped_total",
			Help: "Donors dropped from a search, by reason",
		},
		[]string{"reason"},
	)

	donorResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donor_responses_total",
			Help: "Donor responses recorded, by decision",
		},
		[]string{"decision"},
	)

	cooldownRefusals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "donor_cooldown_refusals_total",
			Help: "Acceptances refused because the donor was still in cooldown",
		},
	)

	donorSelections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "donor_selections_total",
			Help: "Donors selected for a request",
		},
	)

	selectionStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donor_selection_step_failures_total",
			Help: "Follow-up steps of a selection that failed after the record was marked selected",
		},
		[]string{"step"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Outbound notifications by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	notificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Time from enqueue to final delivery outcome",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern labels by the matched chi route so IDs in the path don't
// explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// --- Business metric helpers ---

// RecordMatch records one donor search and how many candidates it produced.
func RecordMatch(bloodGroup string, candidates int) {
	matchRuns.WithLabelValues(bloodGroup).Inc()
	matchCandidates.Observe(float64(candidates))
}

// RecordMatchSkip records a donor dropped from a search.
func RecordMatchSkip(reason string) {
	matchSkipped.WithLabelValues(reason).Inc()
}

// RecordResponse records a donor response.
func RecordResponse(decision string) {
	donorResponses.WithLabelValues(decision).Inc()
}

// RecordCooldownRefusal records an acceptance refused during cooldown.
func RecordCooldownRefusal() {
	cooldownRefusals.Inc()
}

// RecordSelection records a donor selection.
func RecordSelection() {
	donorSelections.Inc()
}

// RecordSelectionStepFailure records a failed post-selection step.
func RecordSelectionStepFailure(step string) {
	selectionStepFailures.WithLabelValues(step).Inc()
}

// RecordNotification records the final outcome of an outbound message.
func RecordNotification(channel string, delivered bool, elapsed time.Duration) {
	outcome := "failed"
	if delivered {
		outcome = "sent"
	}
	notificationsTotal.WithLabelValues(channel, outcome).Inc()
	notificationDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
}
