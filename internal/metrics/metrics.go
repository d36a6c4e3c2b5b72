package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CodesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smilecert_otp_codes_issued_total",
		Help: "Verification codes generated and stored.",
	})

	// Verifications is labelled by result: success, invalid, error.
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smilecert_otp_verifications_total",
		Help: "Verification attempts that passed the rate limiter.",
	}, []string{"result"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smilecert_rate_limited_total",
		Help: "Attempts rejected by the rate limiter.",
	}, []string{"kind"})

	CertificateMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smilecert_certificate_mutations_total",
		Help: "Certificate create, update and delete operations by outcome.",
	}, []string{"op", "outcome"})

	StorageCleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smilecert_storage_cleanup_failures_total",
		Help: "Best-effort object deletions that failed.",
	})

	ViewCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smilecert_view_cache_lookups_total",
		Help: "Public view cache lookups by result: hit, miss.",
	}, []string{"result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smilecert_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smilecert_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
