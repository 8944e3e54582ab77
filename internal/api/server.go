// Package api exposes the discovery engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/placescout/internal/discovery"
	"github.com/sells-group/placescout/internal/placecache"
	"github.com/sells-group/placescout/internal/resilience"
)

// CredentialHeader carries a caller-supplied Places API key.
const CredentialHeader = "X-Places-Key"

// Ranker answers top-N queries.
type Ranker interface {
	Top(ctx context.Context, profile discovery.Profile, center discovery.Point, credential string, limit int) ([]discovery.ScoredCandidate, error)
}

// StatsSource reports discovery cache statistics.
type StatsSource interface {
	Stats() placecache.Stats
}

// BreakerSource reports the upstream circuit state.
type BreakerSource interface {
	State() resilience.CircuitState
}

// Options configures the HTTP surface.
type Options struct {
	DefaultCredential string
	DefaultLimit      int
	CORSOrigins       []string
	RateLimitPerMin   int // 0 disables
	RequestTimeout    time.Duration
}

// Server holds the handlers' dependencies.
type Server struct {
	ranker  Ranker
	stats   StatsSource
	breaker BreakerSource
	opts    Options
}

// NewServer creates a Server. breaker may be nil.
func NewServer(ranker Ranker, stats StatsSource, breaker BreakerSource, opts Options) *Server {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = discovery.DefaultLimit
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{ranker: ranker, stats: stats, breaker: breaker, opts: opts}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", CredentialHeader, RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.opts.RateLimitPerMin > 0 {
			r.Use(httprate.LimitByIP(s.opts.RateLimitPerMin, time.Minute))
		}
		r.Use(recordMetrics)

		r.Get("/attractions", s.handleTop(discovery.ProfileAttraction))
		r.Get("/restaurants", s.handleTop(discovery.ProfileRestaurant))
		r.Get("/cache/stats", s.handleCacheStats)
	})

	return r
}
