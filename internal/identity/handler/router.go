package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"phone-onboarding/backend/internal/audit"
	"phone-onboarding/backend/internal/health"
	"phone-onboarding/backend/internal/metrics"
)

const requestTimeout = 30 * time.Second

// RouterConfig holds what NewRouter mounts alongside the workflow routes.
type RouterConfig struct {
	Handler *Handler
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Health serves /readyz; nil answers ready unconditionally.
	Health *health.Checker
}

// NewRouter returns the complete HTTP handler: middleware, workflow routes,
// health probes and /metrics, wrapped in OTel HTTP instrumentation.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(clientIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", health.Liveness)
	if cfg.Health != nil {
		r.Get("/readyz", cfg.Health.Readiness)
	} else {
		r.Get("/readyz", health.Liveness)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	cfg.Handler.Register(r)

	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method
		}),
		// The verify path carries the code; its span comes from the service instead.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !strings.HasPrefix(r.URL.Path, "/OTPVerify/")
		}),
	)
}

// clientIP stores the caller's address for audit entries. It runs after
// middleware.RealIP so proxy headers are honoured.
func clientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(audit.WithClientIP(r.Context(), ip)))
	})
}

// requestLogger logs one line per request. Paths are logged without the query.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			logger.InfoContext(r.Context(), "http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"route", route,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
