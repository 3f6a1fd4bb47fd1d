package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

// PathEdge is one directed edge on a discovered shortest path.
type PathEdge struct {
	SourceID  string
	TargetID  string
	Predicate string
}

const defaultMaxHops = 4

// ShortestPathEdges implements shortest_path_edges(src, dst, max_hops=4)
// from §4.7: returns the unique directed edges on a shortest path between
// two concepts within the active branch, skipping merged nodes and
// invisible edges. Returns an empty slice (not an error) if the endpoints
// coincide or no path exists within the hop budget — callers are expected
// to cap total path queries per retrieval (§4.7, enforced by the retrieval
// engine, not here).
func (s *Store) ShortestPathEdges(ctx context.Context, sess *Session, scope ActiveContext, srcNodeID, dstNodeID string, maxHops int, policy ProposedEdgePolicy) ([]PathEdge, error) {
	if srcNodeID == dstNodeID {
		return nil, nil
	}
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}

	cypher := fmt.Sprintf(`
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (src:Concept {graph_id: $graph_id, node_id: $src_id})
MATCH (dst:Concept {graph_id: $graph_id, node_id: $dst_id})
WHERE %s AND %s
MATCH p = shortestPath((src)-[r:RELATES_TO*1..%d]-(dst))
WHERE all(rel IN relationships(p) WHERE %s AND %s)
  AND all(n IN nodes(p) WHERE coalesce(n.is_merged, false) = false)
RETURN nodes(p) AS path_nodes, relationships(p) AS edges
LIMIT 1
`, ReadFilter("src"), ReadFilter("dst"), maxHops, rejectedExcludedClause("rel"), relationshipVisibilityClauseForAll("rel", policy))

	records, err := sess.Run(ctx, cypher, map[string]any{
		"graph_id":           scope.GraphID,
		"tenant_id":          scope.TenantID,
		"branch_id":          scope.BranchID,
		"src_id":             srcNodeID,
		"dst_id":             dstNodeID,
		"proposed_threshold": 0.6,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("shortest path edges", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	nodesVal, _ := records[0].Get("path_nodes")
	rawNodes, _ := nodesVal.([]any)
	nodeIDByElementID := make(map[string]string, len(rawNodes))
	for _, rn := range rawNodes {
		n, ok := rn.(neo4j.Node)
		if !ok {
			continue
		}
		nodeIDByElementID[n.ElementId] = stringProp(n.Props, "node_id")
	}

	edgesVal, ok := records[0].Get("edges")
	if !ok {
		return nil, nil
	}
	rawEdges, _ := edgesVal.([]any)
	out := make([]PathEdge, 0, len(rawEdges))
	seen := make(map[string]bool)
	for _, re := range rawEdges {
		rel, ok := re.(neo4j.Relationship)
		if !ok {
			continue
		}
		srcID := nodeIDByElementID[rel.StartElementId]
		dstID := nodeIDByElementID[rel.EndElementId]
		predicate := stringProp(rel.Props, "predicate")
		key := srcID + "->" + dstID + ":" + predicate
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, PathEdge{
			SourceID:  srcID,
			TargetID:  dstID,
			Predicate: predicate,
		})
	}
	return out, nil
}

// relationshipVisibilityClauseForAll builds the same clause as
// relationshipVisibilityClause: both reference the threshold as the
// $proposed_threshold parameter, which pathfinder queries bind since the
// clause runs inside a variable-length pattern on every hop.
func relationshipVisibilityClauseForAll(relAlias string, policy ProposedEdgePolicy) string {
	switch policy {
	case PolicyAll:
		return fmt.Sprintf("(%s.status = 'ACCEPTED' OR %s.status = 'PROPOSED')", relAlias, relAlias)
	case PolicyNone:
		return fmt.Sprintf("%s.status = 'ACCEPTED'", relAlias)
	default:
		return fmt.Sprintf(
			"(%s.status = 'ACCEPTED' OR (%s.status = 'PROPOSED' AND %s.confidence >= $proposed_threshold))",
			relAlias, relAlias, relAlias,
		)
	}
}
