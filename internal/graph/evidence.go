package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

// GetConceptsByNodeIDs batch-fetches concepts for the retrieval engine's
// evidence subgraph assembly (§4.8 step 8) in one round trip — the same
// "never a per-item round-trip" discipline as FetchCandidateClaimsForCommunities.
func (s *Store) GetConceptsByNodeIDs(ctx context.Context, sess *Session, scope ActiveContext, nodeIDs []string) ([]Concept, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	records, err := sess.Run(ctx, fmt.Sprintf(`
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
UNWIND $node_ids AS nid
MATCH (c:Concept {graph_id: $graph_id, node_id: nid})
WHERE %s
RETURN c
ORDER BY c.node_id ASC
`, ReadFilter("c")), map[string]any{
		"graph_id":  scope.GraphID,
		"tenant_id": scope.TenantID,
		"branch_id": scope.BranchID,
		"node_ids":  nodeIDs,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("get concepts by node ids", err)
	}
	out := make([]Concept, 0, len(records))
	for _, rec := range records {
		nodeVal, _ := rec.Get("c")
		out = append(out, *conceptFromNode(nodeVal.(neo4j.Node)))
	}
	return out, nil
}

// EdgesAmongConcepts returns visible RELATES_TO edges with both endpoints in
// nodeIDs, for the evidence subgraph's final edge set (§4.8 step 8, §4.10).
// Edges are capped by the caller, not here — this returns every qualifying
// edge, and callers keep the leading edges of the returned order.
func (s *Store) EdgesAmongConcepts(ctx context.Context, sess *Session, scope ActiveContext, nodeIDs []string, policy ProposedEdgePolicy) ([]PathEdge, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	cypher := fmt.Sprintf(`
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (src:Concept {graph_id: $graph_id})-[r:RELATES_TO]->(dst:Concept {graph_id: $graph_id})
WHERE src.node_id IN $node_ids AND dst.node_id IN $node_ids
  AND %s AND %s AND %s AND %s
RETURN src.node_id AS src_id, dst.node_id AS dst_id, r.predicate AS predicate
ORDER BY src.node_id ASC, dst.node_id ASC
`, ReadFilter("src"), ReadFilter("dst"), rejectedExcludedClause("r"), relationshipVisibilityClause("r", policy))

	records, err := sess.Run(ctx, cypher, map[string]any{
		"graph_id":           scope.GraphID,
		"tenant_id":          scope.TenantID,
		"branch_id":          scope.BranchID,
		"node_ids":           nodeIDs,
		"proposed_threshold": 0.6,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("edges among concepts", err)
	}
	out := make([]PathEdge, 0, len(records))
	for _, rec := range records {
		srcVal, _ := rec.Get("src_id")
		dstVal, _ := rec.Get("dst_id")
		predVal, _ := rec.Get("predicate")
		srcID, _ := srcVal.(string)
		dstID, _ := dstVal.(string)
		pred, _ := predVal.(string)
		out = append(out, PathEdge{SourceID: srcID, TargetID: dstID, Predicate: pred})
	}
	return out, nil
}
