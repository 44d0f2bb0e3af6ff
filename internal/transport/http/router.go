// Package httptransport assembles the two HTTP surfaces: the authorize server,
// reached by the user agent over mutual TLS, and the token server, reached by
// relying parties.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"once/internal/auth/handler"
	"once/internal/platform/health"
	ratelimitmw "once/internal/ratelimit/middleware"
	"once/pkg/platform/middleware/request"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultBodyLimit = 64 << 10
)

// Deps carries everything the routers mount.
type Deps struct {
	Logger   *slog.Logger
	Auth     *handler.Handler
	Health   *health.Handler
	Metrics  *request.Metrics
	Gatherer prometheus.Gatherer

	// RateLimit guards POST /token. Nil disables it.
	RateLimit *ratelimitmw.Middleware

	Timeout      time.Duration
	MaxBodyBytes int64
}

func (d Deps) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return defaultTimeout
}

func (d Deps) bodyLimit() int64 {
	if d.MaxBodyBytes > 0 {
		return d.MaxBodyBytes
	}
	return defaultBodyLimit
}

// NewAuthorizeRouter serves /authorize and /authorize/decision.
func NewAuthorizeRouter(d Deps) http.Handler {
	r := base(d)
	r.Group(func(r chi.Router) {
		r.Use(request.NoStore)
		d.Auth.RegisterAuthorize(r)
	})
	return r
}

// NewTokenRouter serves /token, the JWKS document and /metrics.
func NewTokenRouter(d Deps) http.Handler {
	r := base(d)

	var tokenMiddleware []func(http.Handler) http.Handler
	if d.RateLimit != nil {
		tokenMiddleware = append(tokenMiddleware, d.RateLimit.PerNetwork)
	}
	d.Auth.RegisterToken(r, tokenMiddleware...)

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func base(d Deps) chi.Router {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.ClientMetadata)
	r.Use(request.Logger(logger))
	if d.Metrics != nil {
		r.Use(request.LatencyMiddleware(d.Metrics, routePattern))
	}
	r.Use(request.Timeout(d.timeout()))
	r.Use(request.BodyLimit(d.bodyLimit()))

	if d.Health != nil {
		d.Health.Register(r)
	}
	return r
}

// routePattern labels latency by chi route so ids in paths never become labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
