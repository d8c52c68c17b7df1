package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LockAcquired tracks successful lock acquisitions.
	LockAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fence_lock_acquired_total",
		Help: "Total number of successful lock acquisitions",
	})
	// LockContended tracks lock attempts that found the resource held.
	LockContended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fence_lock_contended_total",
		Help: "Total number of contended lock attempts",
	})
	// SemaphoreAcquired tracks successful permit acquisitions.
	SemaphoreAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fence_semaphore_acquired_total",
		Help: "Total number of successful semaphore acquisitions",
	})
	// SemaphoreContended tracks permit attempts that found the set full.
	SemaphoreContended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fence_semaphore_contended_total",
		Help: "Total number of contended semaphore attempts",
	})
	// RateLimitAllowed tracks rate-limit checks that passed.
	RateLimitAllowed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fence_ratelimit_allowed_total",
		Help: "Total number of allowed rate-limit checks",
	})
	// RateLimitDenied tracks rate-limit checks that were denied, including
	// fail-closed denials during store outages.
	RateLimitDenied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fence_ratelimit_denied_total",
		Help: "Total number of denied rate-limit checks",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers fence core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		LockAcquired, LockContended,
		SemaphoreAcquired, SemaphoreContended,
		RateLimitAllowed, RateLimitDenied,
	)
}
