package graph

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

// ScoredCommunity pairs a Community with its cosine similarity to a query
// vector, for semantic_search_communities (§4.3).
type ScoredCommunity struct {
	Community Community
	Score     float64
}

// ScoredConcept pairs a Concept with its cosine similarity to a query
// vector, for semantic_search_concepts (§4.3).
type ScoredConcept struct {
	Concept Concept
	Score   float64
}

// SemanticSearchCommunities implements semantic_search_communities(query, k)
// from §4.3: loads all communities with a non-null summary_embedding,
// computes cosine similarity against queryVec, and returns the top k ordered
// by score desc, ties broken by community_id ascending. The embedding call
// itself is the caller's responsibility (component B); this takes the
// already-computed vector so it composes with the retrieval engine's single
// upfront embed call.
func (s *Store) SemanticSearchCommunities(ctx context.Context, sess *Session, scope ActiveContext, queryVec []float32, k int) ([]ScoredCommunity, error) {
	records, err := sess.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (c:Community {graph_id: $graph_id})
WHERE $branch_id IN c.on_branches AND c.summary_embedding IS NOT NULL
RETURN c
`, map[string]any{
		"graph_id":  scope.GraphID,
		"tenant_id": scope.TenantID,
		"branch_id": scope.BranchID,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("semantic search communities", err)
	}

	scored := make([]ScoredCommunity, 0, len(records))
	for _, rec := range records {
		nodeVal, _ := rec.Get("c")
		node := nodeVal.(neo4j.Node)
		comm := communityFromNode(node)
		score := 0.0
		if len(queryVec) > 0 && len(comm.SummaryEmbedding) > 0 {
			score = CosineSimilarity(queryVec, comm.SummaryEmbedding)
		}
		scored = append(scored, ScoredCommunity{Community: *comm, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Community.CommunityID < scored[j].Community.CommunityID
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// SemanticSearchConcepts implements semantic_search_concepts(query, limit)
// from §4.3: same pattern against concept embeddings. Callers are expected
// to wrap this with the process-level TTL cache named in §4.3; this
// function itself always hits the store.
func (s *Store) SemanticSearchConcepts(ctx context.Context, sess *Session, scope ActiveContext, queryVec []float32, limit int) ([]ScoredConcept, error) {
	records, err := sess.Run(ctx, fmt.Sprintf(`
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (c:Concept {graph_id: $graph_id})
WHERE %s AND c.embedding IS NOT NULL
RETURN c
`, ReadFilter("c")), map[string]any{
		"graph_id":  scope.GraphID,
		"tenant_id": scope.TenantID,
		"branch_id": scope.BranchID,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("semantic search concepts", err)
	}

	scored := make([]ScoredConcept, 0, len(records))
	for _, rec := range records {
		nodeVal, _ := rec.Get("c")
		node := nodeVal.(neo4j.Node)
		concept := conceptFromNode(node)
		embedding := float32SliceProp(node.Props, "embedding")
		score := 0.0
		if len(queryVec) > 0 && len(embedding) > 0 {
			score = CosineSimilarity(queryVec, embedding)
		}
		scored = append(scored, ScoredConcept{Concept: *concept, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Concept.NodeID < scored[j].Concept.NodeID
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// CosineSimilarity computes the cosine similarity between two equal-length
// vectors. Returns 0 if either vector is empty or lengths mismatch — the
// engine treats that as "no signal", never an error (§4.6, §4.8 step 6).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func communityFromNode(n neo4j.Node) *Community {
	props := n.Props
	return &Community{
		CommunityID:      stringProp(props, "community_id"),
		Name:             stringProp(props, "name"),
		Summary:          stringProp(props, "summary"),
		SummaryEmbedding: float32SliceProp(props, "summary_embedding"),
		OnBranches:       stringSliceProp(props, "on_branches"),
	}
}

func float32SliceProp(props map[string]any, key string) []float32 {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, float32(n))
		case float32:
			out = append(out, n)
		}
	}
	return out
}
