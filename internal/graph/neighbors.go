package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

// ScoredClaim pairs a Claim with its cosine similarity to a query vector.
type ScoredClaim struct {
	Claim Claim
	Score float64
}

func sortScoredClaims(scored []ScoredClaim) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Claim.ClaimID < scored[j].Claim.ClaimID
	})
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Neighbor is one 1-hop relationship from a focus concept, with enough
// relationship metadata for WHO_NETWORK (§4.9) to render an edge label.
type Neighbor struct {
	Concept    Concept
	Predicate  string
	Confidence float64
	Outbound   bool // true if focus -> neighbor, false if neighbor -> focus
}

// Neighbors1Hop returns every visible RELATES_TO neighbor of nodeID in
// either direction, ordered by neighbor node_id ascending for determinism.
func (s *Store) Neighbors1Hop(ctx context.Context, sess *Session, scope ActiveContext, nodeID string, policy ProposedEdgePolicy) ([]Neighbor, error) {
	cypher := fmt.Sprintf(`
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (focus:Concept {graph_id: $graph_id, node_id: $node_id})
MATCH (focus)-[r:RELATES_TO]-(other:Concept {graph_id: $graph_id})
WHERE %s AND %s AND %s
RETURN other, r.predicate AS predicate, r.confidence AS confidence,
       startNode(r) = focus AS outbound
ORDER BY other.node_id ASC
`, ReadFilter("other"), rejectedExcludedClause("r"), relationshipVisibilityClause("r", policy))

	records, err := sess.Run(ctx, cypher, map[string]any{
		"graph_id":           scope.GraphID,
		"tenant_id":          scope.TenantID,
		"branch_id":          scope.BranchID,
		"node_id":            nodeID,
		"proposed_threshold": 0.6,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("neighbors 1-hop", err)
	}
	out := make([]Neighbor, 0, len(records))
	for _, rec := range records {
		nodeVal, _ := rec.Get("other")
		predVal, _ := rec.Get("predicate")
		confVal, _ := rec.Get("confidence")
		outVal, _ := rec.Get("outbound")
		concept := conceptFromNode(nodeVal.(neo4j.Node))
		predicate, _ := predVal.(string)
		confidence, _ := confVal.(float64)
		outbound, _ := outVal.(bool)
		out = append(out, Neighbor{Concept: *concept, Predicate: predicate, Confidence: confidence, Outbound: outbound})
	}
	return out, nil
}

// ClaimsMentioningConcepts returns visible claims whose mentioned_node_ids
// intersect nodeIDs, ordered by claim_id ascending, capped at limit.
func (s *Store) ClaimsMentioningConcepts(ctx context.Context, sess *Session, scope ActiveContext, nodeIDs []string, limit int) ([]Claim, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	records, err := sess.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (cl:Claim {graph_id: $graph_id})-[:MENTIONS]->(c:Concept {graph_id: $graph_id})
WHERE $branch_id IN cl.on_branches AND coalesce(cl.is_merged, false) = false
  AND c.node_id IN $node_ids
WITH DISTINCT cl
RETURN cl
ORDER BY cl.claim_id ASC
LIMIT $limit
`, map[string]any{
		"graph_id":  scope.GraphID,
		"tenant_id": scope.TenantID,
		"branch_id": scope.BranchID,
		"node_ids":  nodeIDs,
		"limit":     limit,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("claims mentioning concepts", err)
	}
	return claimsFromRecords(records)
}

// SemanticSearchClaims scores every visible claim with a non-null embedding
// against queryVec and returns the top limit, ordered by score desc then
// claim_id ascending. Used by EVIDENCE_CHECK and SELF_KNOWLEDGE's fallback
// (§4.9) — both need direct claim relevance rather than a community detour.
func (s *Store) SemanticSearchClaims(ctx context.Context, sess *Session, scope ActiveContext, queryVec []float32, limit int) ([]ScoredClaim, error) {
	records, err := sess.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (cl:Claim {graph_id: $graph_id})
WHERE $branch_id IN cl.on_branches AND coalesce(cl.is_merged, false) = false
  AND cl.embedding IS NOT NULL
RETURN cl
`, map[string]any{
		"graph_id":  scope.GraphID,
		"tenant_id": scope.TenantID,
		"branch_id": scope.BranchID,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("semantic search claims", err)
	}
	scored := make([]ScoredClaim, 0, len(records))
	for _, rec := range records {
		nodeVal, _ := rec.Get("cl")
		claim := claimFromNode(nodeVal.(neo4j.Node))
		score := 0.0
		if len(queryVec) > 0 && len(claim.Embedding) > 0 {
			score = CosineSimilarity(queryVec, claim.Embedding)
		}
		scored = append(scored, ScoredClaim{Claim: *claim, Score: score})
	}
	sortScoredClaims(scored)
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// ClaimsSince returns visible claims with updated_at >= sinceUnix (seconds),
// for WHAT_CHANGED (§4.9).
func (s *Store) ClaimsSince(ctx context.Context, sess *Session, scope ActiveContext, sinceUnix int64, limit int) ([]Claim, error) {
	records, err := sess.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (cl:Claim {graph_id: $graph_id})
WHERE $branch_id IN cl.on_branches AND coalesce(cl.is_merged, false) = false
  AND cl.updated_at >= datetime({epochSeconds: $since})
RETURN cl
ORDER BY cl.updated_at ASC, cl.claim_id ASC
LIMIT $limit
`, map[string]any{
		"graph_id":  scope.GraphID,
		"tenant_id": scope.TenantID,
		"branch_id": scope.BranchID,
		"since":     sinceUnix,
		"limit":     limit,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("claims since", err)
	}
	return claimsFromRecords(records)
}

// GetClaimsByIDs batch-fetches claims by id, preserving no particular order
// relative to the input (callers sort as needed) but deterministic for a
// fixed store state (claim_id ascending).
func (s *Store) GetClaimsByIDs(ctx context.Context, sess *Session, scope ActiveContext, claimIDs []string) ([]Claim, error) {
	if len(claimIDs) == 0 {
		return nil, nil
	}
	records, err := sess.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
UNWIND $claim_ids AS cid
MATCH (cl:Claim {graph_id: $graph_id, claim_id: cid})
WHERE $branch_id IN cl.on_branches AND coalesce(cl.is_merged, false) = false
RETURN cl
ORDER BY cl.claim_id ASC
`, map[string]any{
		"graph_id":  scope.GraphID,
		"tenant_id": scope.TenantID,
		"branch_id": scope.BranchID,
		"claim_ids": claimIDs,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("get claims by ids", err)
	}
	return claimsFromRecords(records)
}

// GetChunksForClaims fetches the SourceChunk nodes supporting claims, capped
// at limit, ordered by chunk_id ascending.
func (s *Store) GetChunksForClaims(ctx context.Context, sess *Session, scope ActiveContext, claimIDs []string, limit int) ([]SourceChunk, error) {
	if len(claimIDs) == 0 {
		return nil, nil
	}
	records, err := sess.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
UNWIND $claim_ids AS cid
MATCH (cl:Claim {graph_id: $graph_id, claim_id: cid})-[:SUPPORTED_BY]->(chunk:SourceChunk {graph_id: $graph_id})
WHERE $branch_id IN chunk.on_branches
WITH DISTINCT chunk
RETURN chunk
ORDER BY chunk.chunk_id ASC
LIMIT $limit
`, map[string]any{
		"graph_id":  scope.GraphID,
		"tenant_id": scope.TenantID,
		"branch_id": scope.BranchID,
		"claim_ids": claimIDs,
		"limit":     limit,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("get chunks for claims", err)
	}
	out := make([]SourceChunk, 0, len(records))
	for _, rec := range records {
		nodeVal, _ := rec.Get("chunk")
		out = append(out, *sourceChunkFromNode(nodeVal.(neo4j.Node)))
	}
	return out, nil
}

// ConceptsMentionedByClaims returns the concepts each of claimIDs MENTIONS,
// for the standalone evidence-subgraph endpoint (§4.10).
func (s *Store) ConceptsMentionedByClaims(ctx context.Context, sess *Session, scope ActiveContext, claimIDs []string) ([]Concept, error) {
	if len(claimIDs) == 0 {
		return nil, nil
	}
	records, err := sess.Run(ctx, fmt.Sprintf(`
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
UNWIND $claim_ids AS cid
MATCH (cl:Claim {graph_id: $graph_id, claim_id: cid})-[:MENTIONS]->(c:Concept {graph_id: $graph_id})
WHERE %s
WITH DISTINCT c
RETURN c
ORDER BY c.node_id ASC
`, ReadFilter("c")), map[string]any{
		"graph_id":  scope.GraphID,
		"tenant_id": scope.TenantID,
		"branch_id": scope.BranchID,
		"claim_ids": claimIDs,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("concepts mentioned by claims", err)
	}
	out := make([]Concept, 0, len(records))
	for _, rec := range records {
		nodeVal, _ := rec.Get("c")
		out = append(out, *conceptFromNode(nodeVal.(neo4j.Node)))
	}
	return out, nil
}

func claimsFromRecords(records []*neo4j.Record) ([]Claim, error) {
	out := make([]Claim, 0, len(records))
	for _, rec := range records {
		nodeVal, ok := rec.Get("cl")
		if !ok {
			continue
		}
		out = append(out, *claimFromNode(nodeVal.(neo4j.Node)))
	}
	return out, nil
}

func sourceChunkFromNode(n neo4j.Node) *SourceChunk {
	props := n.Props
	return &SourceChunk{
		ChunkID:    stringProp(props, "chunk_id"),
		SourceID:   stringProp(props, "source_id"),
		ChunkIndex: intProp(props, "chunk_index"),
		Text:       stringProp(props, "text"),
		OnBranches: stringSliceProp(props, "on_branches"),
	}
}
