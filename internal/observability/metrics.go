package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain counters. Label values are small closed sets chosen by the callers.
var (
	// PublishAttempts counts registry calls by trigger source (chat|passive|api)
	// and outcome (success|failure).
	PublishAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_attempts_total",
			Help: "Form publish attempts by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	// IntentClassifications counts classifier results by the path that produced them.
	IntentClassifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intent_classifications_total",
			Help: "Intent classifications by method (llm|parse_fallback|llm_unavailable|error).",
		},
		[]string{"method"},
	)

	// NotificationsCreated counts pending notification rows written.
	NotificationsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Pending notifications created after successful publishes.",
		},
	)

	// InterceptorRequests counts proxied generate/chat requests by endpoint and
	// decision (forwarded|injected).
	InterceptorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interceptor_requests_total",
			Help: "Inference requests seen by the interceptor.",
		},
		[]string{"endpoint", "decision"},
	)
)

func init() {
	prometheus.MustRegister(PublishAttempts, IntentClassifications, NotificationsCreated, InterceptorRequests)
}
