package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tvdn/tvdn-web/internal/health"
	"github.com/tvdn/tvdn-web/internal/httpmw"
	"github.com/tvdn/tvdn-web/internal/log"
)

// RouteRegistrar mounts a feature's routes on the public router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// RegistrarFunc adapts a plain function to RouteRegistrar.
type RegistrarFunc func(r chi.Router)

func (f RegistrarFunc) RegisterRoutes(r chi.Router) { f(r) }

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe
	SiteInfo     httpmw.SiteInfo // X-Site-Version and X-Site-Hash
	// MaxBodyBytes caps request bodies; 0 means DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Routes are mounted in order before the site fallback.
	Routes []RouteRegistrar
	// SiteHandler serves every path no route claims.
	SiteHandler http.Handler
}
