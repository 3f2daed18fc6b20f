// Package server exposes the catalog, the query layer, zone lookups and
// choropleth map sessions over HTTP for the browser front-end.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/cobenefit-atlas/internal/archetype"
	"github.com/sells-group/cobenefit-atlas/internal/catalog"
	"github.com/sells-group/cobenefit-atlas/internal/choropleth"
	"github.com/sells-group/cobenefit-atlas/internal/engine"
	"github.com/sells-group/cobenefit-atlas/internal/fetcher"
	"github.com/sells-group/cobenefit-atlas/internal/geo"
	"github.com/sells-group/cobenefit-atlas/internal/query"
)

// Engine runs query specs. *engine.Executor satisfies it.
type Engine interface {
	Run(ctx context.Context, s query.Spec) ([]query.Row, error)
	Compiler() query.Compiler
	CacheStats() engine.CacheStats
	Ready() bool
}

// ArchetypeSource loads the archetype dataset. *archetype.Loader satisfies it.
type ArchetypeSource interface {
	Load(ctx context.Context) (*archetype.Dataset, error)
}

// Deps are the services the handlers read from.
type Deps struct {
	Engine     Engine
	Catalog    *catalog.Catalog
	Atlas      *geo.Atlas
	Archetypes ArchetypeSource // optional
}

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	// StyleURL is the base map style the map documents reference.
	StyleURL string
	Zoom     float64
	Center   []float64
	// BasePath prefixes click-navigation targets.
	BasePath string
	// MaxMaps bounds live map sessions; the oldest is evicted first.
	MaxMaps int
}

// Server holds the handlers' shared state.
type Server struct {
	deps Deps
	opts Options
	maps *sessions

	archetypeGroup singleflight.Group
	archetypeMu    sync.Mutex
	archetypes     *archetype.Dataset
}

// New creates a Server. A nil catalog takes the default.
func New(deps Deps, opts Options) *Server {
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if opts.Zoom == 0 {
		opts.Zoom = choropleth.DefaultZoom
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.MaxMaps <= 0 {
		opts.MaxMaps = 64
	}
	return &Server{deps: deps, opts: opts, maps: newSessions(opts.MaxMaps)}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Cache"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", s.handleCatalog)
		r.Post("/query", s.handleQuery)
		r.Post("/sql/compile", s.handleCompile)
		r.Get("/cache/stats", s.handleCacheStats)

		r.Get("/zones/{granularity}", s.handleZones)
		r.Get("/zones/{granularity}/{code}", s.handleZone)

		r.Get("/archetypes/costs", s.handleArchetypeCosts)

		r.Post("/maps", s.handleCreateMap)
		r.Route("/maps/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetMap)
			r.Put("/", s.handleUpdateMap)
			r.Delete("/", s.handleDeleteMap)
			r.Post("/pointer", s.handlePointer)
			r.Post("/leave", s.handleLeave)
			r.Post("/click", s.handleClick)
		})
	})
	return r
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

// apiError carries an explicit status for request-level failures.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func badRequest(msg string) error { return &apiError{status: http.StatusBadRequest, msg: msg} }

func notFound(msg string) error { return &apiError{status: http.StatusNotFound, msg: msg} }

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var api *apiError
	var unknown *catalog.UnknownIDError
	var upstream *fetcher.StatusError
	switch {
	case errors.As(err, &api):
		return api.status
	case errors.As(err, &unknown),
		errors.Is(err, query.ErrInvalidParams),
		errors.Is(err, choropleth.ErrHighlightGranularity):
		return http.StatusBadRequest
	case errors.Is(err, geo.ErrLayerMissing):
		return http.StatusNotFound
	case errors.Is(err, choropleth.ErrInvalidTransition),
		errors.Is(err, choropleth.ErrLayersNotLoaded):
		return http.StatusConflict
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("server: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

// decodeBody reads a JSON request body into v. Unknown fields are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}
