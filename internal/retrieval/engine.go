package retrieval

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noemagraph/retrieval-core/internal/embedding"
	"github.com/noemagraph/retrieval-core/internal/graph"
	"github.com/noemagraph/retrieval-core/internal/mmr"
)

// TelemetryEmitter receives the retrieval telemetry event named in §4.8's
// final paragraph. Implementations are expected to be non-blocking (e.g.
// enqueue onto a Kafka producer) since Retrieve calls it inline before
// returning its result.
type TelemetryEmitter interface {
	EmitRetrieval(ctx context.Context, event TelemetryEvent)
}

// Engine is the GraphRAG Retrieval Engine (component H, §4.8).
type Engine struct {
	Store     *graph.Store
	Embedder  *embedding.Client
	Telemetry TelemetryEmitter
	Log       zerolog.Logger
}

var quotedRE = regexp.MustCompile(`"([^"]+)"`)

// Retrieve implements §4.8 steps 1–9 end to end.
func (e *Engine) Retrieve(ctx context.Context, sess *graph.Session, req Request) (*Result, error) {
	req = req.normalized()

	// Step 1 — question embedding. Embedding failure degrades to a
	// vector-less path (§7): qVec stays nil and every cosine term below
	// resolves to 0, so scoring falls back to confidence-only.
	var qVec []float32
	if e.Embedder != nil {
		if v, err := e.Embedder.Embed(ctx, req.Question); err != nil {
			e.Log.Warn().Err(err).Msg("question embedding failed, continuing without a query vector")
		} else {
			qVec = v
		}
	}

	// Step 2 — anchor detection.
	topConcepts, err := e.Store.SemanticSearchConcepts(ctx, sess, req.Scope, qVec, 10)
	if err != nil {
		return nil, err
	}
	aboveThreshold := 0
	for _, c := range topConcepts {
		if c.Score > twoEntityScoreThreshold {
			aboveThreshold++
		}
	}
	isTwoEntity := aboveThreshold >= 2

	anchors := anchorsFromQuotes(req.Question, topConcepts)
	if len(anchors) == 0 {
		anchorCount := 3
		if isTwoEntity {
			anchorCount = 2
		}
		if anchorCount > len(topConcepts) {
			anchorCount = len(topConcepts)
		}
		for _, c := range topConcepts[:anchorCount] {
			anchors = append(anchors, c.Concept.NodeID)
		}
	}

	// Step 3 — community retrieval.
	communities, err := e.Store.SemanticSearchCommunities(ctx, sess, req.Scope, qVec, req.CommunityK)
	if err != nil {
		return nil, err
	}
	communityIDs := make([]string, 0, len(communities))
	for _, c := range communities {
		communityIDs = append(communityIDs, c.Community.CommunityID)
	}

	// Step 4 — candidate claim fetch, single batched query.
	candidates, err := e.Store.FetchCandidateClaimsForCommunities(ctx, sess, req.Scope, communityIDs, req.EvidenceStrictness)
	if err != nil {
		return nil, err
	}

	debug := Debug{
		AnchorIDs:      anchors,
		CandidateCount: len(candidates),
		CommunityCount: len(communities),
		IsTwoEntity:    isTwoEntity,
	}

	// Step 5 — no-evidence exit.
	if len(candidates) == 0 {
		debug.NoEvidence = true
		result := &Result{
			Communities: communityBundles(communities),
			HasEvidence: false,
			Debug:       debug,
		}
		e.emitTelemetry(ctx, req, communityIDs, nil, result)
		return result, nil
	}

	// Step 6 — relevance scoring.
	anchorSet := make(map[string]bool, len(anchors))
	for _, a := range anchors {
		anchorSet[a] = true
	}
	scored := make([]mmr.Candidate, len(candidates))
	for i, cand := range candidates {
		simQ := 0.0
		if len(qVec) > 0 && len(cand.Claim.Embedding) > 0 {
			simQ = graph.CosineSimilarity(qVec, cand.Claim.Embedding)
		}
		base := baseSimWeight*simQ + baseConfidenceWeight*cand.Claim.Confidence
		boost := 0.0
		if isTwoEntity {
			matches := 0
			for _, nid := range cand.MentionedNodeIDs {
				if anchorSet[nid] {
					matches++
				}
			}
			boost = anchorBoostPerMatch * float64(matches)
			if boost > anchorBoostCap {
				boost = anchorBoostCap
			}
		}
		scored[i] = mmr.Candidate{Relevance: base + boost, Embedding: cand.Claim.Embedding}
	}

	// Step 7 — MMR selection.
	k := req.CommunityK * req.ClaimsPerCommunity
	if k > maxSelectedClaims {
		k = maxSelectedClaims
	}
	selectedIdx := mmr.Select(scored, qVec, k, mmrLambda)

	selectedClaims := make([]graph.CandidateClaim, len(selectedIdx))
	for i, idx := range selectedIdx {
		selectedClaims[i] = candidates[idx]
	}
	claimIDs := make([]string, len(selectedClaims))
	for i, c := range selectedClaims {
		claimIDs[i] = c.Claim.ClaimID
	}
	debug.SelectedClaimIDs = claimIDs

	// Step 8 — evidence subgraph.
	concepts, edges, pathQueries, err := e.buildEvidenceSubgraph(ctx, sess, req.Scope, anchors, selectedClaims)
	if err != nil {
		return nil, err
	}
	debug.PathQueryCount = pathQueries

	conceptByID := make(map[string]graph.Concept, len(concepts))
	for _, c := range concepts {
		conceptByID[c.NodeID] = c
	}

	// Step 9 — context assembly.
	claimBundles := make([]ClaimBundle, 0, len(selectedClaims))
	hasVerified := false
	for _, c := range selectedClaims {
		if c.Claim.Status == graph.ClaimVerified {
			hasVerified = true
		}
		names := make([]string, 0, len(c.MentionedNodeIDs))
		for _, nid := range c.MentionedNodeIDs {
			if concept, ok := conceptByID[nid]; ok {
				names = append(names, concept.Name)
			}
		}
		claimBundles = append(claimBundles, ClaimBundle{
			ClaimID:           c.Claim.ClaimID,
			Text:              c.Claim.Text,
			Confidence:        c.Claim.Confidence,
			SourceID:          c.Claim.SourceID,
			ChunkID:           c.Claim.ChunkID,
			MentionedConcepts: names,
			EvidenceIDs:       c.Claim.EvidenceIDs,
		})
	}

	conceptBundles := make([]ConceptBundle, 0, len(concepts))
	for _, c := range concepts {
		conceptBundles = append(conceptBundles, ConceptBundle{
			NodeID:      c.NodeID,
			Name:        c.Name,
			Description: truncateText(c.Description, conceptDescTruncate),
			Tags:        c.Tags,
		})
	}

	edgeBundles := make([]EdgeBundle, 0, len(edges))
	for _, ed := range edges {
		edgeBundles = append(edgeBundles, EdgeBundle{SourceID: ed.SourceID, TargetID: ed.TargetID, Predicate: ed.Predicate})
	}

	result := &Result{
		Communities: communityBundles(communities),
		Claims:      claimBundles,
		Concepts:    conceptBundles,
		Edges:       edgeBundles,
		HasEvidence: len(selectedClaims) >= 3 || hasVerified,
		Debug:       debug,
	}
	e.emitTelemetry(ctx, req, communityIDs, claimIDs, result)
	return result, nil
}

func (e *Engine) emitTelemetry(ctx context.Context, req Request, communityIDs, claimIDs []string, result *Result) {
	if e.Telemetry == nil {
		return
	}
	e.Telemetry.EmitRetrieval(ctx, TelemetryEvent{
		GraphID:      req.Scope.GraphID,
		BranchID:     req.Scope.BranchID,
		Question:     req.Question,
		CommunityIDs: communityIDs,
		ClaimIDs:     claimIDs,
		Sizes: Sizes{
			Communities: len(result.Communities),
			Claims:      len(result.Claims),
			Concepts:    len(result.Concepts),
			Edges:       len(result.Edges),
		},
	})
}

// buildEvidenceSubgraph implements §4.8 step 8.
func (e *Engine) buildEvidenceSubgraph(ctx context.Context, sess *graph.Session, scope graph.ActiveContext, anchors []string, selected []graph.CandidateClaim) ([]graph.Concept, []graph.PathEdge, int, error) {
	mentionFreq := make(map[string]int)
	for _, c := range selected {
		for _, nid := range c.MentionedNodeIDs {
			mentionFreq[nid]++
		}
	}

	if len(anchors) == 0 {
		anchors = topByFrequency(mentionFreq, 3)
	}

	candidateConcepts := topByFrequency(mentionFreq, maxCandidateConcepts)
	candidateSet := make(map[string]bool, len(candidateConcepts))
	for _, c := range candidateConcepts {
		candidateSet[c] = true
	}

	pathQueries := 0
	pathNodeSet := make(map[string]bool)
	runPath := func(src, dst string) {
		if pathQueries >= maxPathQueries || src == dst {
			return
		}
		pathQueries++
		edges, err := e.Store.ShortestPathEdges(ctx, sess, scope, src, dst, maxEvidenceHops, graph.PolicyAuto)
		if err != nil {
			e.Log.Warn().Err(err).Str("src", src).Str("dst", dst).Msg("shortest path query failed, skipping")
			return
		}
		for _, edge := range edges {
			pathNodeSet[edge.SourceID] = true
			pathNodeSet[edge.TargetID] = true
		}
	}

	for i := 0; i < len(anchors) && pathQueries < maxPathQueries; i++ {
		for j := i + 1; j < len(anchors) && pathQueries < maxPathQueries; j++ {
			runPath(anchors[i], anchors[j])
		}
	}

	topCandidates := candidateConcepts
	if len(topCandidates) > topMentionedForPaths {
		topCandidates = topCandidates[:topMentionedForPaths]
	}
	for _, a := range anchors {
		if pathQueries >= maxPathQueries {
			break
		}
		for _, cand := range topCandidates {
			if pathQueries >= maxPathQueries {
				break
			}
			if cand == a {
				continue
			}
			runPath(a, cand)
		}
	}

	conceptIDSet := make(map[string]bool, len(pathNodeSet)+len(candidateSet))
	for nid := range pathNodeSet {
		conceptIDSet[nid] = true
	}
	for nid := range candidateSet {
		conceptIDSet[nid] = true
	}
	conceptIDs := make([]string, 0, len(conceptIDSet))
	for nid := range conceptIDSet {
		conceptIDs = append(conceptIDs, nid)
	}
	sort.Strings(conceptIDs)
	if len(conceptIDs) > maxEvidenceConcepts {
		conceptIDs = conceptIDs[:maxEvidenceConcepts]
	}

	concepts, err := e.Store.GetConceptsByNodeIDs(ctx, sess, scope, conceptIDs)
	if err != nil {
		return nil, nil, pathQueries, err
	}

	edges, err := e.Store.EdgesAmongConcepts(ctx, sess, scope, conceptIDs, graph.PolicyAuto)
	if err != nil {
		return nil, nil, pathQueries, err
	}
	if len(edges) > maxEvidenceEdges {
		edges = edges[:maxEvidenceEdges]
	}

	return concepts, edges, pathQueries, nil
}

// anchorsFromQuotes recovers anchor node_ids from quoted substrings in the
// question, matched against topConcepts by substring containment, in quote
// order (§4.8 step 2).
func anchorsFromQuotes(question string, topConcepts []graph.ScoredConcept) []string {
	matches := quotedRE.FindAllStringSubmatch(question, -1)
	if len(matches) == 0 {
		return nil
	}
	var anchors []string
	seen := make(map[string]bool)
	for _, m := range matches {
		quoted := strings.ToLower(strings.TrimSpace(m[1]))
		if quoted == "" {
			continue
		}
		for _, c := range topConcepts {
			if seen[c.Concept.NodeID] {
				continue
			}
			if strings.Contains(strings.ToLower(c.Concept.Name), quoted) || strings.Contains(quoted, strings.ToLower(c.Concept.Name)) {
				anchors = append(anchors, c.Concept.NodeID)
				seen[c.Concept.NodeID] = true
				break
			}
		}
	}
	return anchors
}

// topByFrequency returns the n node_ids with the highest mention count,
// ties broken by node_id ascending for determinism.
func topByFrequency(freq map[string]int, n int) []string {
	ids := make([]string, 0, len(freq))
	for id := range freq {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if freq[ids[i]] != freq[ids[j]] {
			return freq[ids[i]] > freq[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

func communityBundles(scored []graph.ScoredCommunity) []CommunityBundle {
	out := make([]CommunityBundle, 0, len(scored))
	for _, c := range scored {
		out = append(out, CommunityBundle{
			CommunityID: c.Community.CommunityID,
			Name:        c.Community.Name,
			Summary:     truncateText(c.Community.Summary, communitySummaryTruncate),
		})
	}
	return out
}
