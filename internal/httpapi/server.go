// Package httpapi exposes the Retrieval/Ingestion HTTP surface named in §6:
// POST /retrieve, /evidence-subgraph, /graphrag-context, /ingest/lecture,
// and /ingest/web, each matching the request/response payload shapes the
// spec defines as canonical JSON regardless of transport. Routing is built
// on `github.com/labstack/echo/v4`, the teacher's dominant convention for
// this concern (its own routes.go/handlers.go and most internal/* HTTP
// surfaces).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/noemagraph/retrieval-core/internal/cache"
	"github.com/noemagraph/retrieval-core/internal/config"
	"github.com/noemagraph/retrieval-core/internal/embedding"
	"github.com/noemagraph/retrieval-core/internal/graph"
	"github.com/noemagraph/retrieval-core/internal/ingestion"
	"github.com/noemagraph/retrieval-core/internal/llm"
	"github.com/noemagraph/retrieval-core/internal/objectstore"
	"github.com/noemagraph/retrieval-core/internal/retrieval"
	"github.com/noemagraph/retrieval-core/internal/scoping"
)

// Server wires the retrieval engine, dispatcher, ingestion pipeline, and
// scoping resolver into the HTTP surface. One Server handles every route;
// handlers acquire their own graph session per request (§5: "a fresh
// session is acquired from a connection pool per request").
type Server struct {
	echo       *echo.Echo
	store      *graph.Store
	resolver   *scoping.Resolver
	dispatcher *retrieval.Dispatcher
	queue      *ingestion.Queue
	embedder   *embedding.Client
	router     *llm.Router
	objects    objectstore.ObjectStore
	log        zerolog.Logger
	timeout    time.Duration

	contextCache *cache.TTLCache[contextCacheKey, contextCacheEntry]
}

// New builds a Server and registers its routes.
func New(store *graph.Store, resolver *scoping.Resolver, dispatcher *retrieval.Dispatcher, queue *ingestion.Queue, embedder *embedding.Client, router *llm.Router, objects objectstore.ObjectStore, httpCfg config.HTTPConfig, cacheCfg config.CacheConfig, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:         e,
		store:        store,
		resolver:     resolver,
		dispatcher:   dispatcher,
		queue:        queue,
		embedder:     embedder,
		router:       router,
		objects:      objects,
		log:          log,
		timeout:      httpCfg.RequestTimeout,
		contextCache: cache.New[contextCacheKey, contextCacheEntry](cacheCfg.ContextCacheTTL, cacheCfg.MaxEntries),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.echo.POST("/retrieve", s.withTimeout(s.handleRetrieve))
	s.echo.POST("/evidence-subgraph", s.withTimeout(s.handleEvidenceSubgraph))
	s.echo.POST("/graphrag-context", s.withTimeout(s.handleGraphRAGContext))
	s.echo.POST("/ingest/lecture", s.withTimeout(s.handleIngestLecture))
	s.echo.POST("/ingest/web", s.withTimeout(s.handleIngestWeb))
	s.echo.GET("/quality/concept/:id", s.withTimeout(s.handleConceptQuality))
	s.echo.GET("/graph/refresh-defaults", s.withTimeout(s.handleGetRefreshDefaults))
	s.echo.PUT("/graph/refresh-defaults", s.withTimeout(s.handleSetRefreshDefaults))
}

// withTimeout enforces the HTTP boundary's wall-clock request timeout
// (§5, default 30s) around every handler.
func (s *Server) withTimeout(h echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		timeout := s.timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()
		c.SetRequest(c.Request().WithContext(ctx))
		return h(c)
	}
}

// resolveScope reads tenant/user identity from request headers and resolves
// the active (graph_id, branch_id) context, honoring an explicit branch_id
// override from the request body per the §9 Open-Question resolution.
func (s *Server) resolveScope(c echo.Context, explicitGraphID, explicitBranchID string) (graph.ActiveContext, error) {
	tenantID := c.Request().Header.Get("X-Tenant-ID")
	userID := c.Request().Header.Get("X-User-ID")
	active, err := s.resolver.ResolveActiveContext(c.Request().Context(), tenantID, userID)
	if err != nil {
		return graph.ActiveContext{}, err
	}
	if explicitGraphID != "" {
		active.GraphID = explicitGraphID
	}
	active.BranchID = scoping.ResolveBranch(s.log, active, explicitBranchID)
	return active, nil
}
