package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"once/internal/ratelimit"
	dErrors "once/pkg/domain-errors"
	"once/pkg/platform/httputil"
	"once/pkg/requestcontext"
)

// Middleware rejects requests over the per-network limit with 429.
// Requests are keyed by the anonymized prefix that request.ClientMetadata
// places in the context; requests without one pass through.
type Middleware struct {
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

func New(limiter *ratelimit.Limiter, logger *slog.Logger) *Middleware {
	return &Middleware{limiter: limiter, logger: logger}
}

// PerNetwork wraps next with the limiter.
func (m *Middleware) PerNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := requestcontext.ClientIP(ctx)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		result := m.limiter.Allow(key)
		addRateLimitHeaders(w, result)
		if !result.Allowed {
			retryAfter := retryAfterSeconds(result)
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"client_ip", key,
				"path", r.URL.Path,
				"retry_after", retryAfter,
				"request_id", requestcontext.RequestID(ctx),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, try again later"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func addRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
}

func retryAfterSeconds(result ratelimit.Result) int {
	return max(int(math.Ceil(result.RetryAfter.Seconds())), 1)
}
