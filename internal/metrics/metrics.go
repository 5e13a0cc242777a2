package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushtalk_sessions_total",
		Help: "Completed dictation sessions by outcome",
	}, []string{"outcome"})

	StaleCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushtalk_stale_callbacks_total",
		Help: "Callbacks dropped because their generation was no longer active",
	}, []string{"source"})

	ProviderResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushtalk_provider_resolutions_total",
		Help: "Provider resolutions by requested/effective backend and health",
	}, []string{"requested", "effective", "health"})

	InjectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushtalk_injections_total",
		Help: "Text injections by method and outcome",
	}, []string{"method", "outcome"})

	ClipboardRestoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushtalk_clipboard_restores_total",
		Help: "Clipboard restore decisions after paste injection",
	}, []string{"outcome"})

	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pushtalk_session_state",
		Help: "1 for the current orchestrator state, 0 otherwise",
	}, []string{"state"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pushtalk_http_request_duration_seconds",
		Help:    "Control API request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

var knownStates = []string{"idle", "recording", "transcribing", "success", "error"}

// IncSession records a resolved session.
func IncSession(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	SessionsTotal.WithLabelValues(outcome).Inc()
}

// IncStaleCallback records a dropped stale callback.
func IncStaleCallback(source string) {
	if source == "" {
		source = "unknown"
	}
	StaleCallbacksTotal.WithLabelValues(source).Inc()
}

// IncResolution records one provider resolution.
func IncResolution(requested, effective, health string) {
	ProviderResolutionsTotal.WithLabelValues(requested, effective, health).Inc()
}

// IncInjection records one injection attempt.
func IncInjection(method, outcome string) {
	InjectionsTotal.WithLabelValues(method, outcome).Inc()
}

// IncClipboardRestore records whether the clipboard snapshot was restored.
func IncClipboardRestore(outcome string) {
	ClipboardRestoresTotal.WithLabelValues(outcome).Inc()
}

// SetSessionState flips the state gauge to the given state.
func SetSessionState(state string) {
	for _, s := range knownStates {
		value := 0.0
		if s == state {
			value = 1
		}
		SessionState.WithLabelValues(s).Set(value)
	}
}

// ObserveHTTPRequest records one control API request. route is the chi
// pattern, not the raw path.
func ObserveHTTPRequest(method, route string, status int, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}
