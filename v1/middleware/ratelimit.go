package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mirkobrombin/go-fence/v1/metrics"
	"github.com/mirkobrombin/go-fence/v1/ratelimit"
)

// Policy describes one rate-limit bucket.
type Policy struct {
	// KeyPrefix separates buckets sharing the same limiter, e.g. "auth:".
	KeyPrefix string
	// MaxRequests allowed per window.
	MaxRequests int64
	// Window duration.
	Window time.Duration
}

// General is the default policy for ordinary endpoints.
var General = Policy{KeyPrefix: "general:", MaxRequests: 100, Window: time.Minute}

// Auth is the stricter policy for authentication endpoints, where the
// limiter guards against credential stuffing.
var Auth = Policy{KeyPrefix: "auth:", MaxRequests: 10, Window: time.Minute}

// RateLimit limits requests per client identifier under the given policy.
//
// A store failure denies the request (fail closed): the limiter protects
// security-sensitive paths, so an unreachable store must never become a
// bypass. Both denials answer 429 with a Retry-After hint so clients can
// tell "come back later" from a generic failure.
func RateLimit(limiter *ratelimit.Limiter, p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := p.KeyPrefix + ClientIdentifier(r)

			count, allowed, err := limiter.CheckAndIncrement(r.Context(), id, p.MaxRequests, p.Window)
			if err != nil {
				slog.Error("fence: rate limit check failed, denying request", "identifier", id, "error", err)
				metrics.RateLimitDenied.Inc()
				deny(w, p)
				return
			}
			if !allowed {
				slog.Warn("fence: rate limit exceeded", "identifier", id, "count", count)
				deny(w, p)
				return
			}

			remaining := p.MaxRequests - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(p.MaxRequests, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, p Policy) {
	w.Header().Set("Retry-After", strconv.FormatInt(int64(p.Window/time.Second), 10))
	w.Header().Set("X-RateLimit-Remaining", "0")
	http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
}

// ClientIdentifier extracts the client identity used as the rate-limit key:
// the first hop of X-Forwarded-For when behind a proxy, then X-Real-IP,
// then the connection's remote address.
func ClientIdentifier(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip, _, ok := strings.Cut(fwd, ","); ok || ip != "" {
			return strings.TrimSpace(ip)
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
