package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/google/cro3-sub001/internal/health"
	"github.com/google/cro3-sub001/internal/httpmw"
	"github.com/google/cro3-sub001/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// Routes registers the application endpoints on the router.
	Routes func(chi.Router)

	// MetricsMW wraps the handler with prometheus instrumentation.
	MetricsMW func(http.Handler) http.Handler

	// RateLimitMW runs after client IP resolution.
	RateLimitMW func(http.Handler) http.Handler

	ClientIPOpts httpmw.ClientIPOptions

	UseRecoverMW bool
	// OnPanic is invoked per recovered panic (metrics hook).
	OnPanic func()

	// Health/readiness probes served on the app listener too, so the
	// caching proxy can check its backend without the admin port.
	Health    health.Probe
	Readiness health.Probe
}
