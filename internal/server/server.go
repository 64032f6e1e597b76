// Package server implements the HTTP surface of the catalog service.
// Every route answers with a {"data": ...} envelope on success and an
// {"error": {...}} envelope carrying a correlation id on failure.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trinetra-eo/cogcatalog/internal/auth"
	"github.com/trinetra-eo/cogcatalog/internal/event"
	"github.com/trinetra-eo/cogcatalog/internal/ingest"
	"github.com/trinetra-eo/cogcatalog/internal/metrics"
	"github.com/trinetra-eo/cogcatalog/internal/query"
	"github.com/trinetra-eo/cogcatalog/internal/retention"
	"github.com/trinetra-eo/cogcatalog/internal/schema"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
	"github.com/trinetra-eo/cogcatalog/internal/visibility"
)

// DefaultMaxAggregateCogs bounds the cog set an aggregation endpoint may load.
const DefaultMaxAggregateCogs = 200_000

// Options tune the HTTP surface.
type Options struct {
	RequireAuth        bool // gate destructive and admin routes
	SecureCookies      bool
	CORSAllowedOrigins []string
	MaxAggregateCogs   int
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Store     storage.Store
	Validator *schema.Validator
	Ingest    *ingest.Service
	Tokens    *auth.Tokens
	Publisher event.Publisher
}

// Server handles HTTP requests for the catalog.
type Server struct {
	store    storage.Store
	resolver *visibility.Resolver
	composer *query.Composer
	ingest   *ingest.Service
	purger   *retention.Purger
	schema   *schema.Validator
	tokens   *auth.Tokens
	pub      event.Publisher
	validate *validator.Validate
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

// New creates a Server. Missing optional dependencies get working defaults.
func New(deps Deps, opts Options) (*Server, error) {
	if deps.Validator == nil {
		v, err := schema.NewValidator()
		if err != nil {
			return nil, err
		}
		deps.Validator = v
	}
	if deps.Publisher == nil {
		deps.Publisher = event.NewNoop()
	}
	if deps.Ingest == nil {
		deps.Ingest = ingest.NewService(deps.Store, deps.Validator, nil, deps.Publisher)
	}
	if deps.Tokens == nil {
		deps.Tokens = auth.NewTokens("dev-insecure-secret", "cogcatalog", auth.DefaultTTL)
	}
	if opts.MaxAggregateCogs <= 0 {
		opts.MaxAggregateCogs = DefaultMaxAggregateCogs
	}

	resolver := visibility.NewResolver(deps.Store)
	return &Server{
		store:    deps.Store,
		resolver: resolver,
		composer: query.NewComposer(deps.Store, resolver),
		ingest:   deps.Ingest,
		purger:   retention.NewPurger(deps.Store, deps.Publisher),
		schema:   deps.Validator,
		tokens:   deps.Tokens,
		pub:      deps.Publisher,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  metrics.NewMetrics(),
		opts:     opts,
		now:      time.Now,
	}, nil
}

// Handler builds the routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.withCorrelationID)
	r.Use(s.withRequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Correlation-Id"},
		ExposedHeaders:   []string{"X-Correlation-Id"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/metadata", func(r chi.Router) {
		r.Post("/save", s.handleSaveMetadata)
		r.Get("/cog/all", s.handleAllCogs)
		r.Post("/cog/search", s.handleSearchCogs)
		r.Get("/cog/{id}", s.handleGetCog)
		r.Get("/time-series", s.handleTimeSeries)
		r.Get("/analytics/band-distribution", s.handleBandDistribution)
		r.Post("/comparative-analysis", s.handleComparativeAnalysis)
		r.Get("/geographic-coverage", s.handleGeographicCoverage)
		r.With(s.adminGate).Delete("/delete-cogs-before", s.handleDeleteCogsBefore)
		r.With(s.adminGate).Delete("/delete-cogs", s.handleDeleteCogsOlderThan)

		r.Route("/{satId}", func(r chi.Router) {
			r.Get("/cog/all", s.handleAllCogs)
			r.Get("/cog/range", s.handleCogRange)
			r.Get("/cog/last", s.handleLastCogs)
			r.Get("/cog/show", s.handleShowCog)
			r.Get("/cog/available-times", s.handleAvailableTimes)
			r.Get("/cog/available-dates", s.handleAvailableDates)

			r.Get("/{processingLevel}/{productCode}/cog/all", s.handleAllCogs)
			r.Get("/{processingLevel}/types", s.handleTypes)
			r.Get("/{processingLevel}/types-with-latest", s.handleTypesWithLatest)
			r.Get("/{processingLevel}/all-bands", s.handleAllBands)
			r.Get("/{processingLevel}/all-bands-with-latest-data", s.handleBandsWithLatest)
			r.Get("/{processingLevel}/all-bands-with-datetime", s.handleBandsAt)
		})
	})

	r.Route("/product", func(r chi.Router) {
		r.With(s.adminGate).Post("/", s.handleCreateProduct)
		r.Post("/advanced-search", s.handleAdvancedProductSearch)
		r.Post("/compare", s.handleCompareProducts)
		r.Get("/analytics/temporal-distribution", s.handleTemporalDistribution)
		r.With(s.adminGate).Post("/batch/set-visibility", s.handleBatchSetVisibility)

		r.Get("/satellite/{satId}", s.handleSatelliteProducts)
		r.Get("/satellite/{satId}/products", s.handleSatelliteProducts)
		r.Get("/satellite/{satId}/processing-levels", s.handleProcessingLevels)
		r.Get("/satellite/{satId}/{processingLevel}/product-codes", s.handleProductCodes)

		r.Get("/{id}", s.handleGetProduct)
		r.With(s.adminGate).Put("/{id}", s.handleUpdateProduct)
		r.With(s.adminGate).Delete("/{id}", s.handleDeleteProduct)
		r.Get("/{id}/satellite", s.handleProductSatellite)
		r.With(s.adminGate).Patch("/{id}/toggle-visibility", s.handleToggleVisibility)
	})

	r.Route("/satellite", func(r chi.Router) {
		r.With(s.adminGate).Post("/", s.handleCreateSatellite)
		r.Get("/", s.handleListSatellites)
		r.Get("/{satId}", s.handleGetSatellite)
		r.With(s.adminGate).Put("/{satId}", s.handleUpdateSatellite)
		r.With(s.adminGate).Delete("/{satId}", s.handleDeleteSatellite)
		r.Get("/{satId}/products", s.handleSatelliteProducts)
		r.With(s.adminGate).Post("/{satId}/products", s.handleAttachProducts)
		r.Get("/{satId}/stats", s.handleSatelliteStats)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.With(s.requireUser).Get("/validate-token", s.handleValidateToken)
	})
	r.Route("/users", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.With(s.requireUser).Get("/me", s.handleMe)
	})

	return r
}

// handleHealthz handles liveness health check requests
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready when the store answers a ping.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
