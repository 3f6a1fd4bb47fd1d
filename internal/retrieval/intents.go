package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noemagraph/retrieval-core/internal/graph"
	"github.com/noemagraph/retrieval-core/internal/llm"
)

// Intent names the nine dispatchable retrieval plans (§4.9).
type Intent string

const (
	DefinitionOverview Intent = "DEFINITION_OVERVIEW"
	Timeline           Intent = "TIMELINE"
	CausalChain        Intent = "CAUSAL_CHAIN"
	Compare            Intent = "COMPARE"
	WhoNetwork         Intent = "WHO_NETWORK"
	EvidenceCheck      Intent = "EVIDENCE_CHECK"
	ExploreNext        Intent = "EXPLORE_NEXT"
	WhatChanged        Intent = "WHAT_CHANGED"
	SelfKnowledge      Intent = "SELF_KNOWLEDGE"
)

const (
	maxTraceEntries = 10

	summaryFocusEntities   = 5
	summaryClaims          = 5
	summaryClaimTextLen    = 200
	summaryTopSources      = 3
	summaryPreviewEdges    = 10
	summaryClaimIDs        = 20
	summaryCommunityIDs    = 10

	fullClaims = 20
	fullEdges  = 50
	fullChunks = 10
)

// PlanRequest is the input to Dispatch, mirroring POST /retrieve (§6).
type PlanRequest struct {
	Scope           graph.ActiveContext
	Message         string
	Intent          Intent
	DetailLevel     string // "summary" | "full", default "summary"
	SinceDays       int    // WHAT_CHANGED
	FocusConceptID  string
}

// FocusEntity is one entry in the response's focus_entities list.
type FocusEntity struct {
	NodeID      string   `json:"node_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ChunkBundle is one source chunk in the full-detail response.
type ChunkBundle struct {
	ChunkID    string `json:"chunk_id"`
	SourceID   string `json:"source_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// SubgraphBundle is the concepts/edges pair returned both as the full
// subgraph and as a capped subgraph_preview.
type SubgraphBundle struct {
	Concepts []ConceptBundle `json:"concepts"`
	Edges    []EdgeBundle    `json:"edges"`
}

// RetrievalMeta is the id-list companion returned alongside every plan
// response regardless of detail level (§6).
type RetrievalMeta struct {
	Communities  int      `json:"communities"`
	Claims       int      `json:"claims"`
	Concepts     int      `json:"concepts"`
	Edges        int      `json:"edges"`
	ClaimIDs     []string `json:"claimIds"`
	CommunityIDs []string `json:"communityIds"`
	TopClaims    []string `json:"topClaims"`
	TopSources   []string `json:"topSources,omitempty"`
}

// Suggestion is one follow-up offered after DEFINITION_OVERVIEW/EXPLORE_NEXT.
type Suggestion struct {
	Label  string `json:"label"`
	Query  string `json:"query"`
	Intent Intent `json:"intent"`
}

// PlanResult is the context{} object of POST /retrieve's response (§6).
type PlanResult struct {
	Intent           Intent          `json:"intent"`
	Trace            []string        `json:"trace"`
	FocusEntities    []FocusEntity   `json:"focus_entities"`
	FocusCommunities []CommunityBundle `json:"focus_communities"`
	Claims           []ClaimBundle   `json:"claims"`
	Chunks           []ChunkBundle   `json:"chunks,omitempty"`
	Subgraph         SubgraphBundle  `json:"subgraph"`
	SubgraphPreview  *SubgraphBundle `json:"subgraph_preview,omitempty"`
	RetrievalMeta    RetrievalMeta   `json:"retrieval_meta"`
	Suggestions      []Suggestion    `json:"suggestions,omitempty"`
	Warnings         []string        `json:"warnings,omitempty"`

	// Extra fields populated only by specific intents; the HTTP layer
	// folds these into the response shape each intent document promises.
	Timeline   []TimelineEntry   `json:"timeline,omitempty"`
	CompareOut *CompareResult    `json:"compare,omitempty"`
	Network    []NetworkEdge     `json:"network,omitempty"`
	Evidence   *EvidenceCheckOut `json:"evidence_check,omitempty"`
	ChangedNew []ClaimBundle     `json:"changed_new,omitempty"`
	ChangedUpd []ClaimBundle     `json:"changed_updated,omitempty"`
}

// TimelineEntry is one TIMELINE row: a claim plus its recovered date.
type TimelineEntry struct {
	ClaimID string `json:"claim_id"`
	Text    string `json:"text"`
	Date    string `json:"date"` // RFC3339 date or "unknown"
}

// NetworkEdge is one WHO_NETWORK edge plus the claims touching its endpoints.
type NetworkEdge struct {
	NodeID     string  `json:"node_id"`
	Name       string  `json:"name"`
	Predicate  string  `json:"predicate"`
	Confidence float64 `json:"confidence"`
	Outbound   bool    `json:"outbound"`
}

// CompareResult is COMPARE's output shape.
type CompareResult struct {
	A               FocusEntity   `json:"a"`
	B               FocusEntity   `json:"b"`
	SharedConcepts  []string      `json:"overlaps_shared_concepts"`
	UniqueToA       []string      `json:"unique_to_a"`
	UniqueToB       []string      `json:"unique_to_b"`
	ClaimsA         []ClaimBundle `json:"claims_a"`
	ClaimsB         []ClaimBundle `json:"claims_b"`
}

// EvidenceCheckOut is EVIDENCE_CHECK's output shape.
type EvidenceCheckOut struct {
	Supporting    []ClaimBundle `json:"supporting"`
	Conflicting   []ClaimBundle `json:"conflicting"`
	SourceCount   int           `json:"source_count"`
}

// Dispatcher runs intent plans on top of the core Engine (§4.9).
type Dispatcher struct {
	Engine *Engine
	Router *llm.Router
	Log    zerolog.Logger
}

type tracer struct {
	entries []string
}

func (t *tracer) add(format string, args ...any) {
	if len(t.entries) >= maxTraceEntries {
		return
	}
	t.entries = append(t.entries, fmt.Sprintf(format, args...))
}

// Dispatch routes req to its intent plan and applies the detail-level caps
// from §4.9 before returning.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *graph.Session, req PlanRequest) (*PlanResult, error) {
	if req.DetailLevel == "" {
		req.DetailLevel = "summary"
	}
	if req.Intent == "" {
		req.Intent = DefinitionOverview
	}

	t := &tracer{}
	t.add("dispatch intent=%s detail=%s", req.Intent, req.DetailLevel)

	var (
		result *PlanResult
		err    error
	)
	switch req.Intent {
	case DefinitionOverview:
		result, err = d.definitionOverview(ctx, sess, req, t)
	case Timeline:
		result, err = d.timeline(ctx, sess, req, t)
	case CausalChain:
		result, err = d.causalChain(ctx, sess, req, t)
	case Compare:
		result, err = d.compare(ctx, sess, req, t)
	case WhoNetwork:
		result, err = d.whoNetwork(ctx, sess, req, t)
	case EvidenceCheck:
		result, err = d.evidenceCheck(ctx, sess, req, t)
	case ExploreNext:
		result, err = d.exploreNext(ctx, sess, req, t)
	case WhatChanged:
		result, err = d.whatChanged(ctx, sess, req, t)
	case SelfKnowledge:
		result, err = d.selfKnowledge(ctx, sess, req, t)
	default:
		result, err = d.definitionOverview(ctx, sess, req, t)
	}
	if err != nil {
		return nil, err
	}
	result.Intent = req.Intent
	result.Trace = t.entries
	applyDetailCaps(result, req.DetailLevel)
	return result, nil
}

func applyDetailCaps(r *PlanResult, detail string) {
	if detail == "full" {
		if len(r.Claims) > fullClaims {
			r.Claims = r.Claims[:fullClaims]
		}
		if len(r.Subgraph.Edges) > fullEdges {
			r.Subgraph.Edges = r.Subgraph.Edges[:fullEdges]
		}
		if len(r.Chunks) > fullChunks {
			r.Chunks = r.Chunks[:fullChunks]
		}
		if len(r.RetrievalMeta.ClaimIDs) > summaryClaimIDs {
			r.RetrievalMeta.ClaimIDs = r.RetrievalMeta.ClaimIDs[:summaryClaimIDs]
		}
		return
	}

	// summary mode
	if len(r.FocusEntities) > summaryFocusEntities {
		r.FocusEntities = r.FocusEntities[:summaryFocusEntities]
	}
	for i := range r.FocusEntities {
		r.FocusEntities[i].Description = ""
	}
	if len(r.Claims) > summaryClaims {
		r.Claims = r.Claims[:summaryClaims]
	}
	for i := range r.Claims {
		r.Claims[i].Text = truncateText(r.Claims[i].Text, summaryClaimTextLen)
	}
	r.Chunks = nil
	for i := range r.FocusCommunities {
		r.FocusCommunities[i].Summary = ""
	}
	preview := r.Subgraph
	if len(preview.Edges) > summaryPreviewEdges {
		preview.Edges = preview.Edges[:summaryPreviewEdges]
	}
	r.SubgraphPreview = &preview
	r.Subgraph = SubgraphBundle{}

	if len(r.RetrievalMeta.ClaimIDs) > summaryClaimIDs {
		r.RetrievalMeta.ClaimIDs = r.RetrievalMeta.ClaimIDs[:summaryClaimIDs]
	}
	if len(r.RetrievalMeta.CommunityIDs) > summaryCommunityIDs {
		r.RetrievalMeta.CommunityIDs = r.RetrievalMeta.CommunityIDs[:summaryCommunityIDs]
	}
	topSources := make(map[string]bool)
	var sources []string
	for _, c := range r.Claims {
		if c.SourceID == "" || topSources[c.SourceID] {
			continue
		}
		topSources[c.SourceID] = true
		sources = append(sources, c.SourceID)
		if len(sources) >= summaryTopSources {
			break
		}
	}
	r.RetrievalMeta.TopSources = sources
}

func (d *Dispatcher) definitionOverview(ctx context.Context, sess *graph.Session, req PlanRequest, t *tracer) (*PlanResult, error) {
	t.add("communities(k=2) -> claims(15/c) -> subgraph")
	res, err := d.Engine.Retrieve(ctx, sess, Request{
		Scope:              req.Scope,
		Question:           req.Message,
		CommunityK:         2,
		ClaimsPerCommunity: 15,
	})
	if err != nil {
		return nil, err
	}
	t.add("selected %d claims, %d concepts", len(res.Claims), len(res.Concepts))
	out := resultFromEngine(res)
	out.Suggestions = []Suggestion{
		{Label: "See how this unfolded over time", Query: req.Message, Intent: Timeline},
		{Label: "Trace the causal chain", Query: req.Message, Intent: CausalChain},
		{Label: "Explore related concepts", Query: req.Message, Intent: ExploreNext},
	}
	return out, nil
}

var yearRE = regexp.MustCompile(`\b(1[5-9]\d{2}|20\d{2})\b`)

func (d *Dispatcher) timeline(ctx context.Context, sess *graph.Session, req PlanRequest, t *tracer) (*PlanResult, error) {
	t.add("communities(k=3) -> claims -> extract timestamps -> sort ascending")
	res, err := d.Engine.Retrieve(ctx, sess, Request{Scope: req.Scope, Question: req.Message, CommunityK: 3})
	if err != nil {
		return nil, err
	}
	entries := make([]TimelineEntry, 0, len(res.Claims))
	for _, c := range res.Claims {
		entries = append(entries, TimelineEntry{ClaimID: c.ClaimID, Text: c.Text, Date: recoverDate(c.Text)})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Date == "unknown" {
			return false
		}
		if entries[j].Date == "unknown" {
			return true
		}
		if entries[i].Date != entries[j].Date {
			return entries[i].Date < entries[j].Date
		}
		return entries[i].ClaimID < entries[j].ClaimID
	})
	out := resultFromEngine(res)
	out.Timeline = entries
	return out, nil
}

func recoverDate(text string) string {
	m := yearRE.FindString(text)
	if m == "" {
		return "unknown"
	}
	return m
}

func (d *Dispatcher) causalChain(ctx context.Context, sess *graph.Session, req PlanRequest, t *tracer) (*PlanResult, error) {
	t.add("communities(k=3) -> claims -> anchors -> pairwise shortest-paths")
	res, err := d.Engine.Retrieve(ctx, sess, Request{Scope: req.Scope, Question: req.Message, CommunityK: 3})
	if err != nil {
		return nil, err
	}
	t.add("anchors=%v path_queries=%d", res.Debug.AnchorIDs, res.Debug.PathQueryCount)
	return resultFromEngine(res), nil
}

var comparePatternRE = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(.+?)\s+vs\.?\s+(.+?)\s*$`),
	regexp.MustCompile(`(?i)compare\s+(.+?)\s+and\s+(.+?)\s*$`),
}

type compareTargetsResponse struct {
	A string `json:"a"`
	B string `json:"b"`
}

func (d *Dispatcher) extractCompareTargets(ctx context.Context, sess *graph.Session, scope graph.ActiveContext, question string) (string, string, error) {
	if d.Router != nil {
		msg, err := d.Router.Completion(ctx, llm.TaskExtract, []llm.Message{
			{Role: "system", Content: "Extract exactly two comparison targets from the user's question. Respond with JSON {\"a\": \"...\", \"b\": \"...\"} and nothing else."},
			{Role: "user", Content: question},
		}, llm.CompletionOptions{})
		if err == nil {
			var parsed compareTargetsResponse
			if jsonErr := json.Unmarshal([]byte(msg.Content), &parsed); jsonErr == nil && parsed.A != "" && parsed.B != "" {
				return parsed.A, parsed.B, nil
			}
		}
	}
	for _, re := range comparePatternRE {
		if m := re.FindStringSubmatch(question); len(m) == 3 {
			return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), nil
		}
	}
	top, err := d.Engine.Store.SemanticSearchConcepts(ctx, sess, scope, nil, 2)
	if err != nil {
		return "", "", err
	}
	if len(top) < 2 {
		return "", "", nil
	}
	return top[0].Concept.Name, top[1].Concept.Name, nil
}

func (d *Dispatcher) compare(ctx context.Context, sess *graph.Session, req PlanRequest, t *tracer) (*PlanResult, error) {
	nameA, nameB, err := d.extractCompareTargets(ctx, sess, req.Scope, req.Message)
	if err != nil {
		return nil, err
	}
	t.add("extracted targets a=%q b=%q", nameA, nameB)

	resA, err := d.Engine.Retrieve(ctx, sess, Request{Scope: req.Scope, Question: nameA, CommunityK: 2})
	if err != nil {
		return nil, err
	}
	resB, err := d.Engine.Retrieve(ctx, sess, Request{Scope: req.Scope, Question: nameB, CommunityK: 2})
	if err != nil {
		return nil, err
	}

	namesA := conceptNameSet(resA.Concepts)
	namesB := conceptNameSet(resB.Concepts)
	var shared, uniqueA, uniqueB []string
	for n := range namesA {
		if namesB[n] {
			shared = append(shared, n)
		} else {
			uniqueA = append(uniqueA, n)
		}
	}
	for n := range namesB {
		if !namesA[n] {
			uniqueB = append(uniqueB, n)
		}
	}
	sort.Strings(shared)
	sort.Strings(uniqueA)
	sort.Strings(uniqueB)

	merged := resultFromEngine(resA)
	merged.CompareOut = &CompareResult{
		A:              FocusEntity{Name: nameA},
		B:              FocusEntity{Name: nameB},
		SharedConcepts: shared,
		UniqueToA:      uniqueA,
		UniqueToB:      uniqueB,
		ClaimsA:        resA.Claims,
		ClaimsB:        resB.Claims,
	}
	merged.Claims = append(append([]ClaimBundle{}, resA.Claims...), resB.Claims...)
	return merged, nil
}

func conceptNameSet(concepts []ConceptBundle) map[string]bool {
	out := make(map[string]bool, len(concepts))
	for _, c := range concepts {
		out[c.Name] = true
	}
	return out
}

func (d *Dispatcher) whoNetwork(ctx context.Context, sess *graph.Session, req PlanRequest, t *tracer) (*PlanResult, error) {
	qVec, _ := d.embed(ctx, req.Message)
	top, err := d.Engine.Store.SemanticSearchConcepts(ctx, sess, req.Scope, qVec, 1)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return &PlanResult{Warnings: []string{"no concept found for who-network"}}, nil
	}
	focus := top[0].Concept
	t.add("focus concept=%s", focus.Name)

	neighbors, err := d.Engine.Store.Neighbors1Hop(ctx, sess, req.Scope, focus.NodeID, graph.PolicyAuto)
	if err != nil {
		return nil, err
	}
	nodeIDs := []string{focus.NodeID}
	network := make([]NetworkEdge, 0, len(neighbors))
	for _, n := range neighbors {
		nodeIDs = append(nodeIDs, n.Concept.NodeID)
		network = append(network, NetworkEdge{
			NodeID: n.Concept.NodeID, Name: n.Concept.Name,
			Predicate: n.Predicate, Confidence: n.Confidence, Outbound: n.Outbound,
		})
	}
	claims, err := d.Engine.Store.ClaimsMentioningConcepts(ctx, sess, req.Scope, nodeIDs, fullClaims)
	if err != nil {
		return nil, err
	}
	t.add("neighbors=%d claims=%d", len(neighbors), len(claims))

	return &PlanResult{
		FocusEntities: []FocusEntity{{NodeID: focus.NodeID, Name: focus.Name, Description: focus.Description, Tags: focus.Tags}},
		Claims:        claimBundlesFrom(claims),
		Network:       network,
		RetrievalMeta: metaFromClaims(claims, nil),
	}, nil
}

var negationRE = regexp.MustCompile(`(?i)\b(not|never|no longer|fails to|cannot|isn't|doesn't|didn't|wasn't)\b`)

func (d *Dispatcher) evidenceCheck(ctx context.Context, sess *graph.Session, req PlanRequest, t *tracer) (*PlanResult, error) {
	qVec, _ := d.embed(ctx, req.Message)
	top, err := d.Engine.Store.SemanticSearchClaims(ctx, sess, req.Scope, qVec, 25)
	if err != nil {
		return nil, err
	}
	t.add("top-25 claims by embedding similarity")

	var supporting, conflicting []ClaimBundle
	sources := make(map[string]bool)
	for _, sc := range top {
		bundle := ClaimBundle{ClaimID: sc.Claim.ClaimID, Text: sc.Claim.Text, Confidence: sc.Claim.Confidence, SourceID: sc.Claim.SourceID, ChunkID: sc.Claim.ChunkID}
		if sc.Claim.SourceID != "" {
			sources[sc.Claim.SourceID] = true
		}
		if negationRE.MatchString(sc.Claim.Text) {
			conflicting = append(conflicting, bundle)
		} else {
			supporting = append(supporting, bundle)
		}
	}
	t.add("supporting=%d conflicting=%d sources=%d", len(supporting), len(conflicting), len(sources))

	return &PlanResult{
		Claims: append(append([]ClaimBundle{}, supporting...), conflicting...),
		Evidence: &EvidenceCheckOut{
			Supporting:  supporting,
			Conflicting: conflicting,
			SourceCount: len(sources),
		},
	}, nil
}

func (d *Dispatcher) exploreNext(ctx context.Context, sess *graph.Session, req PlanRequest, t *tracer) (*PlanResult, error) {
	t.add("run DEFINITION_OVERVIEW -> re-rank by degree*novelty")
	out, err := d.definitionOverview(ctx, sess, req, t)
	if err != nil {
		return nil, err
	}
	degree := make(map[string]int)
	for _, e := range out.Subgraph.Edges {
		degree[e.SourceID]++
		degree[e.TargetID]++
	}
	concepts := append([]ConceptBundle{}, out.Subgraph.Concepts...)
	sort.SliceStable(concepts, func(i, j int) bool {
		di, dj := degree[concepts[i].NodeID], degree[concepts[j].NodeID]
		if di != dj {
			return di > dj
		}
		return concepts[i].NodeID < concepts[j].NodeID
	})
	out.Subgraph.Concepts = concepts
	var suggestions []Suggestion
	for i, c := range concepts {
		if i >= 5 {
			break
		}
		suggestions = append(suggestions, Suggestion{Label: "Explore " + c.Name, Query: c.Name, Intent: DefinitionOverview})
	}
	out.Suggestions = suggestions
	return out, nil
}

func (d *Dispatcher) whatChanged(ctx context.Context, sess *graph.Session, req PlanRequest, t *tracer) (*PlanResult, error) {
	since := req.SinceDays
	if since <= 0 {
		since = 7
	}
	sinceUnix := time.Now().Add(-time.Duration(since) * 24 * time.Hour).Unix()
	claims, err := d.Engine.Store.ClaimsSince(ctx, sess, req.Scope, sinceUnix, 100)
	if err != nil {
		return nil, err
	}
	t.add("claims with updated_at >= now - %dd", since)

	var newClaims, updatedClaims []ClaimBundle
	for _, c := range claims {
		b := ClaimBundle{ClaimID: c.ClaimID, Text: c.Text, Confidence: c.Confidence, SourceID: c.SourceID, ChunkID: c.ChunkID}
		if c.CreatedAt.Equal(c.UpdatedAt) {
			newClaims = append(newClaims, b)
		} else {
			updatedClaims = append(updatedClaims, b)
		}
	}
	nodeIDs := make(map[string]bool)
	for _, c := range claims {
		for _, nid := range c.MentionedNodeIDs {
			nodeIDs[nid] = true
		}
	}
	ids := make([]string, 0, len(nodeIDs))
	for nid := range nodeIDs {
		ids = append(ids, nid)
	}
	sort.Strings(ids)
	concepts, err := d.Engine.Store.GetConceptsByNodeIDs(ctx, sess, req.Scope, ids)
	if err != nil {
		return nil, err
	}
	edges, err := d.Engine.Store.EdgesAmongConcepts(ctx, sess, req.Scope, ids, graph.PolicyAuto)
	if err != nil {
		return nil, err
	}

	return &PlanResult{
		ChangedNew: newClaims,
		ChangedUpd: updatedClaims,
		Claims:     append(append([]ClaimBundle{}, newClaims...), updatedClaims...),
		Subgraph:   SubgraphBundle{Concepts: conceptBundlesFrom(concepts), Edges: edgeBundlesFrom(edges)},
		RetrievalMeta: metaFromClaims(claims, nil),
	}, nil
}

func (d *Dispatcher) selfKnowledge(ctx context.Context, sess *graph.Session, req PlanRequest, t *tracer) (*PlanResult, error) {
	qVec, _ := d.embed(ctx, req.Message)
	top, err := d.Engine.Store.SemanticSearchConcepts(ctx, sess, req.Scope, qVec, 5)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		t.add("no concepts found, falling back to semantic claim search")
		scoredClaims, err := d.Engine.Store.SemanticSearchClaims(ctx, sess, req.Scope, qVec, 10)
		if err != nil {
			return nil, err
		}
		claims := make([]graph.Claim, len(scoredClaims))
		for i, sc := range scoredClaims {
			claims[i] = sc.Claim
		}
		return &PlanResult{Claims: claimBundlesFrom(claims), RetrievalMeta: metaFromClaims(claims, nil)}, nil
	}
	t.add("top concepts -> edges + mentions")

	var focusEntities []FocusEntity
	nodeIDs := make([]string, 0, len(top))
	for _, sc := range top {
		focusEntities = append(focusEntities, FocusEntity{NodeID: sc.Concept.NodeID, Name: sc.Concept.Name, Description: sc.Concept.Description, Tags: sc.Concept.Tags})
		nodeIDs = append(nodeIDs, sc.Concept.NodeID)
	}
	edges, err := d.Engine.Store.EdgesAmongConcepts(ctx, sess, req.Scope, nodeIDs, graph.PolicyAuto)
	if err != nil {
		return nil, err
	}
	claims, err := d.Engine.Store.ClaimsMentioningConcepts(ctx, sess, req.Scope, nodeIDs, fullClaims)
	if err != nil {
		return nil, err
	}

	return &PlanResult{
		FocusEntities: focusEntities,
		Claims:        claimBundlesFrom(claims),
		Subgraph:      SubgraphBundle{Edges: edgeBundlesFrom(edges)},
		RetrievalMeta: metaFromClaims(claims, nil),
	}, nil
}

func (d *Dispatcher) embed(ctx context.Context, text string) ([]float32, error) {
	if d.Engine == nil || d.Engine.Embedder == nil {
		return nil, nil
	}
	v, err := d.Engine.Embedder.Embed(ctx, text)
	if err != nil {
		d.Log.Warn().Err(err).Msg("embedding failed, continuing without a query vector")
		return nil, nil
	}
	return v, nil
}

func resultFromEngine(res *Result) *PlanResult {
	claimIDs := make([]string, len(res.Claims))
	topClaims := make([]string, 0, len(res.Claims))
	for i, c := range res.Claims {
		claimIDs[i] = c.ClaimID
		if i < summaryClaims {
			topClaims = append(topClaims, c.ClaimID)
		}
	}
	communityIDs := make([]string, len(res.Communities))
	for i, c := range res.Communities {
		communityIDs[i] = c.CommunityID
	}
	return &PlanResult{
		FocusCommunities: res.Communities,
		Claims:           res.Claims,
		Subgraph:         SubgraphBundle{Concepts: res.Concepts, Edges: res.Edges},
		Warnings:         noEvidenceWarning(res),
		RetrievalMeta: RetrievalMeta{
			Communities:  len(res.Communities),
			Claims:       len(res.Claims),
			Concepts:     len(res.Concepts),
			Edges:        len(res.Edges),
			ClaimIDs:     claimIDs,
			CommunityIDs: communityIDs,
			TopClaims:    topClaims,
		},
	}
}

func noEvidenceWarning(res *Result) []string {
	if res.HasEvidence {
		return nil
	}
	return []string{"no qualifying evidence found for this question"}
}

func claimBundlesFrom(claims []graph.Claim) []ClaimBundle {
	out := make([]ClaimBundle, 0, len(claims))
	for _, c := range claims {
		out = append(out, ClaimBundle{ClaimID: c.ClaimID, Text: c.Text, Confidence: c.Confidence, SourceID: c.SourceID, ChunkID: c.ChunkID, EvidenceIDs: c.EvidenceIDs})
	}
	return out
}

func conceptBundlesFrom(concepts []graph.Concept) []ConceptBundle {
	out := make([]ConceptBundle, 0, len(concepts))
	for _, c := range concepts {
		out = append(out, ConceptBundle{NodeID: c.NodeID, Name: c.Name, Description: truncateText(c.Description, conceptDescTruncate), Tags: c.Tags})
	}
	return out
}

func edgeBundlesFrom(edges []graph.PathEdge) []EdgeBundle {
	out := make([]EdgeBundle, 0, len(edges))
	for _, e := range edges {
		out = append(out, EdgeBundle{SourceID: e.SourceID, TargetID: e.TargetID, Predicate: e.Predicate})
	}
	return out
}

func metaFromClaims(claims []graph.Claim, communityIDs []string) RetrievalMeta {
	ids := make([]string, len(claims))
	top := make([]string, 0, len(claims))
	for i, c := range claims {
		ids[i] = c.ClaimID
		if i < summaryClaims {
			top = append(top, c.ClaimID)
		}
	}
	return RetrievalMeta{Claims: len(claims), ClaimIDs: ids, CommunityIDs: communityIDs, TopClaims: top}
}
