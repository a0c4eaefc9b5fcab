// Package metrics holds the Prometheus metrics of the identity service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	Signups             prometheus.Counter
	ChallengesIssued    *prometheus.CounterVec
	Verifications       *prometheus.CounterVec
	PasswordsSet        prometheus.Counter
	StageResolutions    *prometheus.CounterVec
	Logins              *prometheus.CounterVec
	NotificationsFailed prometheus.Counter
	HTTPDuration        *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics on reg. Pass prometheus.NewRegistry()
// in tests to keep registrations isolated.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Signups: f.NewCounter(prometheus.CounterOpts{
			Name: "phone_onboarding_signups_total",
			Help: "Identities created by signup.",
		}),
		ChallengesIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phone_onboarding_challenges_issued_total",
			Help: "OTP challenges issued, by reason (signup, refresh, resend).",
		}, []string{"reason"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phone_onboarding_verifications_total",
			Help: "OTP verification attempts, by outcome.",
		}, []string{"outcome"}),
		PasswordsSet: f.NewCounter(prometheus.CounterOpts{
			Name: "phone_onboarding_passwords_set_total",
			Help: "Credentials established or replaced.",
		}),
		StageResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phone_onboarding_stage_resolutions_total",
			Help: "Stage resolutions, by resulting stage.",
		}, []string{"stage"}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phone_onboarding_logins_total",
			Help: "Password logins, by outcome.",
		}, []string{"outcome"}),
		NotificationsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "phone_onboarding_notifications_failed_total",
			Help: "OTP deliveries that failed.",
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phone_onboarding_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware observes request latency labelled by the matched chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
