package httpapi

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/noemagraph/retrieval-core/internal/apperr"
	"github.com/noemagraph/retrieval-core/internal/graph"
	"github.com/noemagraph/retrieval-core/internal/ingestion"
	"github.com/noemagraph/retrieval-core/internal/retrieval"
)

// retrieveRequest mirrors POST /retrieve's request shape (§6).
type retrieveRequest struct {
	Message        string           `json:"message"`
	Mode           string           `json:"mode"`
	Intent         retrieval.Intent `json:"intent"`
	GraphID        string           `json:"graph_id"`
	BranchID       string           `json:"branch_id"`
	DetailLevel    string           `json:"detail_level"`
	Limit          int              `json:"limit"`
	LimitClaims    int              `json:"limit_claims"`
	LimitEntities  int              `json:"limit_entities"`
	LimitSources   int              `json:"limit_sources"`
	FocusConceptID string           `json:"focus_concept_id"`
	FocusQuoteID   string           `json:"focus_quote_id"`
	FocusPageURL   string           `json:"focus_page_url"`
	SinceDays      int              `json:"since_days"`
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req retrieveRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	scope, err := s.resolveScope(c, req.GraphID, req.BranchID)
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}

	ctx := c.Request().Context()
	sess := s.store.NewSession(ctx, false)
	defer sess.Close(ctx)

	result, err := s.dispatcher.Dispatch(ctx, sess, retrieval.PlanRequest{
		Scope:          scope,
		Message:        req.Message,
		Intent:         req.Intent,
		DetailLevel:    req.DetailLevel,
		SinceDays:      req.SinceDays,
		FocusConceptID: req.FocusConceptID,
	})
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"intent":  result.Intent,
		"trace":   result.Trace,
		"context": result,
	})
}

// evidenceSubgraphRequest mirrors POST /evidence-subgraph (§6).
type evidenceSubgraphRequest struct {
	GraphID    string   `json:"graph_id"`
	ClaimIDs   []string `json:"claim_ids"`
	LimitNodes int      `json:"limit_nodes"`
	LimitEdges int      `json:"limit_edges"`
}

func (s *Server) handleEvidenceSubgraph(c echo.Context) error {
	var req evidenceSubgraphRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	scope, err := s.resolveScope(c, req.GraphID, "")
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}

	ctx := c.Request().Context()
	sess := s.store.NewSession(ctx, false)
	defer sess.Close(ctx)

	bundle, err := s.dispatcher.Engine.GetEvidenceSubgraph(ctx, sess, retrieval.EvidenceSubgraphRequest{
		Scope:         scope,
		ClaimIDs:      req.ClaimIDs,
		LimitConcepts: req.LimitNodes,
		LimitEdges:    req.LimitEdges,
	})
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}
	return c.JSON(http.StatusOK, bundle)
}

// graphragContextRequest mirrors POST /graphrag-context (§6).
type graphragContextRequest struct {
	Message              string `json:"message"`
	GraphID              string `json:"graph_id"`
	BranchID             string `json:"branch_id"`
	EvidenceStrictness   string `json:"evidence_strictness"`
	RecencyDays          int    `json:"recency_days"`
	IncludeProposedEdges bool   `json:"include_proposed_edges"`
}

type contextCacheKey struct {
	GraphID    string
	BranchID   string
	MessageMD5 string
	Strictness string
}

type contextCacheEntry struct {
	ContextText string   `json:"context_text"`
	Debug       any      `json:"debug"`
	Citations   []string `json:"citations"`
}

func (s *Server) handleGraphRAGContext(c echo.Context) error {
	var req graphragContextRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	scope, err := s.resolveScope(c, req.GraphID, req.BranchID)
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}
	if req.EvidenceStrictness == "" {
		req.EvidenceStrictness = "medium"
	}

	sum := md5.Sum([]byte(req.Message))
	key := contextCacheKey{
		GraphID:    scope.GraphID,
		BranchID:   scope.BranchID,
		MessageMD5: hex.EncodeToString(sum[:])[:8],
		Strictness: req.EvidenceStrictness,
	}
	if cached, ok := s.contextCache.Get(key); ok {
		return c.JSON(http.StatusOK, cached)
	}

	policy := graph.PolicyAuto
	if req.IncludeProposedEdges {
		policy = graph.PolicyAll
	}

	ctx := c.Request().Context()
	sess := s.store.NewSession(ctx, false)
	defer sess.Close(ctx)

	result, err := s.dispatcher.Engine.Retrieve(ctx, sess, retrieval.Request{
		Scope:              scope,
		Question:           req.Message,
		EvidenceStrictness: req.EvidenceStrictness,
		IncludeProposed:    policy,
	})
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}

	entry := contextCacheEntry{
		ContextText: renderContextText(result),
		Debug:       result.Debug,
		Citations:   citationsFromResult(result),
	}
	s.contextCache.Set(key, entry)
	return c.JSON(http.StatusOK, entry)
}

func renderContextText(res *retrieval.Result) string {
	text := ""
	for _, c := range res.Communities {
		text += "## " + c.Name + "\n" + c.Summary + "\n\n"
	}
	for _, c := range res.Claims {
		text += "- " + c.Text + "\n"
	}
	return text
}

func citationsFromResult(res *retrieval.Result) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range res.Claims {
		if c.SourceID == "" || seen[c.SourceID] {
			continue
		}
		seen[c.SourceID] = true
		out = append(out, c.SourceID)
	}
	return out
}

// ingestLectureRequest mirrors POST /ingest/lecture (§6).
type ingestLectureRequest struct {
	LectureTitle string `json:"lecture_title"`
	LectureText  string `json:"lecture_text"`
	Domain       string `json:"domain"`
}

func (s *Server) handleIngestLecture(c echo.Context) error {
	var req ingestLectureRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	if req.LectureText == "" {
		return respondError(c, http.StatusBadRequest, fmt.Errorf("lecture_text is required"))
	}
	scope, err := s.resolveScope(c, "", "")
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}

	ctx := c.Request().Context()
	lectureID := "lecture_" + uuid.New().String()
	job := ingestion.Job{
		RunID:       "run_" + uuid.New().String(),
		GraphID:     scope.GraphID,
		BranchID:    scope.BranchID,
		TenantID:    scope.TenantID,
		SourceID:    lectureID,
		SourceType:  "lecture",
		SourceLabel: req.LectureTitle,
		Domain:      req.Domain,
		Text:        req.LectureText,
	}
	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
		}
		return c.JSON(http.StatusAccepted, map[string]any{
			"lecture_id": lectureID,
			"run_id":     job.RunID,
			"status":     "queued",
		})
	}

	result, err := ingestion.RunIngestion(ctx, ingestion.Deps{
		Store: s.store, Router: s.router, Embedder: s.embedder, Log: s.log,
	}, ingestion.RunInput{
		Scope:       scope,
		SourceID:    lectureID,
		SourceType:  "lecture",
		SourceLabel: req.LectureTitle,
		Domain:      req.Domain,
		Text:        req.LectureText,
	})
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"lecture_id": lectureID,
		"run_id":     result.RunID,
		"counts": map[string]int{
			"nodes_created": result.ConceptsUpserted,
			"links_created": result.RelationshipsUpserted,
			"claims":        result.ClaimsUpserted,
			"chunks":        result.ChunksProcessed,
		},
	})
}

// ingestWebRequest fetches and ingests a web page, honoring the §9
// max_age_hours refresh-check resolution: if an Artifact already exists
// for this URL and is younger than max_age_hours, the existing artifact is
// returned unchanged rather than re-rendering the page.
type ingestWebRequest struct {
	URL         string `json:"url"`
	Domain      string `json:"domain"`
	MaxAgeHours any    `json:"max_age_hours,omitempty"`
}

func (s *Server) handleIngestWeb(c echo.Context) error {
	var req ingestWebRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	if req.URL == "" {
		return respondError(c, http.StatusBadRequest, fmt.Errorf("url is required"))
	}
	maxAgeSeconds, err := parseMaxAgeSeconds(req.MaxAgeHours)
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}
	scope, err := s.resolveScope(c, "", "")
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}

	ctx := c.Request().Context()
	sess := s.store.NewSession(ctx, false)
	if maxAgeSeconds > 0 {
		if existing, err := s.store.GetArtifactByURL(ctx, sess, scope, req.URL); err == nil {
			age := time.Since(existing.CreatedAt)
			if age < time.Duration(maxAgeSeconds)*time.Second {
				sess.Close(ctx)
				return c.JSON(http.StatusOK, map[string]any{
					"artifact_id": existing.ArtifactID,
					"status":      "not_modified",
					"age_seconds": int(age.Seconds()),
				})
			}
		}
	}
	sess.Close(ctx)

	fetched, err := ingestion.FetchWebArtifact(ctx, s.objects, req.URL)
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}
	sourceID := "web_" + graph.ContentHash(req.URL)

	if s.queue != nil {
		job := ingestion.Job{
			RunID:       "run_" + uuid.New().String(),
			GraphID:     scope.GraphID,
			BranchID:    scope.BranchID,
			TenantID:    scope.TenantID,
			SourceID:    sourceID,
			SourceType:  "web",
			SourceLabel: fetched.Title,
			Domain:      req.Domain,
			Text:        fetched.Markdown,
			URLOrSource: req.URL,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
		}
		return c.JSON(http.StatusAccepted, map[string]any{
			"run_id": job.RunID,
			"status": "queued",
		})
	}

	result, err := ingestion.RunIngestion(ctx, ingestion.Deps{
		Store: s.store, Router: s.router, Embedder: s.embedder, Log: s.log,
	}, ingestion.RunInput{
		Scope:       scope,
		SourceID:    sourceID,
		SourceType:  "web",
		SourceLabel: fetched.Title,
		Domain:      req.Domain,
		Text:        fetched.Markdown,
		URLOrSource: req.URL,
	})
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"run_id": result.RunID,
		"status": "ingested",
		"counts": map[string]int{
			"nodes_created": result.ConceptsUpserted,
			"links_created": result.RelationshipsUpserted,
			"claims":        result.ClaimsUpserted,
			"chunks":        result.ChunksProcessed,
		},
	})
}

// handleConceptQuality is a supplemented read-only endpoint (not named in
// §6's canonical operation list) computing the 0-100 coverage score,
// evidence freshness bucket, and degree for one concept, grounded on the
// concept-coverage/evidence-freshness scoring in
// `original_source/backend/services_quality.py`.
func (s *Server) handleConceptQuality(c echo.Context) error {
	conceptID := c.Param("id")
	if conceptID == "" {
		return respondError(c, http.StatusBadRequest, fmt.Errorf("concept id is required"))
	}
	scope, err := s.resolveScope(c, c.QueryParam("graph_id"), "")
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}

	ctx := c.Request().Context()
	sess := s.store.NewSession(ctx, false)
	defer sess.Close(ctx)

	coverage, err := s.store.ComputeConceptCoverage(ctx, sess, scope, conceptID, time.Now())
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}
	return c.JSON(http.StatusOK, coverage)
}

// handleGetRefreshDefaults and handleSetRefreshDefaults expose
// GraphSpace.refresh_defaults (§3) for inspection and configuration,
// grounded on `original_source/backend/services_refresh_bindings.py`'s
// get/set_graph_refresh_defaults.
func (s *Server) handleGetRefreshDefaults(c echo.Context) error {
	scope, err := s.resolveScope(c, c.QueryParam("graph_id"), "")
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}

	ctx := c.Request().Context()
	sess := s.store.NewSession(ctx, false)
	defer sess.Close(ctx)

	cfg, err := s.store.GetGraphRefreshDefaults(ctx, sess, scope)
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleSetRefreshDefaults(c echo.Context) error {
	var req graph.RefreshConfig
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	scope, err := s.resolveScope(c, c.QueryParam("graph_id"), "")
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}

	ctx := c.Request().Context()
	sess := s.store.NewSession(ctx, true)
	defer sess.Close(ctx)

	if err := s.store.SetGraphRefreshDefaults(ctx, sess, scope, req); err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}
	cfg, err := s.store.GetGraphRefreshDefaults(ctx, sess, scope)
	if err != nil {
		return respondError(c, apperr.HTTPStatus(apperr.CategoryOf(err)), err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func respondError(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}
