package httpapi

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/contractvault/internal/logging"
	"github.com/dmitrijs2005/contractvault/internal/server/metrics"
)

// RouterOptions carries what the router needs beyond the handler.
type RouterOptions struct {
	JWTSecret      []byte
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies may set X-Forwarded-For. Empty means RemoteAddr only.
	TrustedProxies []netip.Prefix
	Gatherer       prometheus.Gatherer
	Metrics        *metrics.Metrics
	Log            logging.Logger
}

// NewRouter mounts the API, health and metrics endpoints.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	limiter := NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RealIP(opts.TrustedProxies))
	r.Use(middleware.Recoverer)
	r.Use(Observe(opts.Log, opts.Metrics))

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(opts.JWTSecret))

		r.Get("/contracts/{id}", h.getContract)
		r.Post("/contracts/{id}/seal", h.seal)
		r.Post("/contracts/{id}/cancel", h.cancel)
		r.Get("/contracts/{id}/retraction", h.retraction)
		r.Get("/contracts/{id}/document", h.document)

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Post("/contracts/{id}/signatures/otp", h.requestCode)
			r.Post("/contracts/{id}/signatures", h.sign)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/contracts", h.createContract)
			r.Get("/contracts/{id}/integrity", h.integrityReport)
			r.Post("/contracts/{id}/verify", h.verify)
			r.Post("/integrity/sweep", h.sweep)
			r.Post("/archival/retry", h.retryPending)
		})
	})

	return r
}
