package retrieval

import (
	"context"
	"sort"

	"github.com/noemagraph/retrieval-core/internal/graph"
)

const (
	defaultEvidenceConcepts = 10
	defaultEvidenceEdges    = 15
	hardMaxEvidenceConcepts = 50
	hardMaxEvidenceEdges    = 80
)

// EvidenceSubgraphRequest mirrors POST /evidence-subgraph (§6).
type EvidenceSubgraphRequest struct {
	Scope           graph.ActiveContext
	ClaimIDs        []string
	LimitConcepts   int
	LimitEdges      int
	IncludeProposed graph.ProposedEdgePolicy
}

// GetEvidenceSubgraph implements get_evidence_subgraph(claim_ids,
// max_concepts, include_proposed) from §4.10: MENTIONS-linked concepts for
// the given claims, their 1-hop neighbors subject to visibility, then
// edges between the collected concepts. Caps default to 10/15 and can be
// lowered by the caller but never raised past the hard maximums 50/80.
func (e *Engine) GetEvidenceSubgraph(ctx context.Context, sess *graph.Session, req EvidenceSubgraphRequest) (*SubgraphBundle, error) {
	limitConcepts := req.LimitConcepts
	if limitConcepts <= 0 {
		limitConcepts = defaultEvidenceConcepts
	}
	if limitConcepts > hardMaxEvidenceConcepts {
		limitConcepts = hardMaxEvidenceConcepts
	}
	limitEdges := req.LimitEdges
	if limitEdges <= 0 {
		limitEdges = defaultEvidenceEdges
	}
	if limitEdges > hardMaxEvidenceEdges {
		limitEdges = hardMaxEvidenceEdges
	}
	policy := req.IncludeProposed
	if policy == "" {
		policy = graph.PolicyAuto
	}

	mentioned, err := e.Store.ConceptsMentionedByClaims(ctx, sess, req.Scope, req.ClaimIDs)
	if err != nil {
		return nil, err
	}

	conceptSet := make(map[string]graph.Concept, len(mentioned))
	for _, c := range mentioned {
		conceptSet[c.NodeID] = c
	}

	for _, c := range mentioned {
		if len(conceptSet) >= limitConcepts {
			break
		}
		neighbors, err := e.Store.Neighbors1Hop(ctx, sess, req.Scope, c.NodeID, policy)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if len(conceptSet) >= limitConcepts {
				break
			}
			if _, ok := conceptSet[n.Concept.NodeID]; ok {
				continue
			}
			conceptSet[n.Concept.NodeID] = n.Concept
		}
	}

	nodeIDs := make([]string, 0, len(conceptSet))
	for nid := range conceptSet {
		nodeIDs = append(nodeIDs, nid)
	}
	sort.Strings(nodeIDs)
	if len(nodeIDs) > limitConcepts {
		nodeIDs = nodeIDs[:limitConcepts]
	}

	concepts := make([]graph.Concept, 0, len(nodeIDs))
	for _, nid := range nodeIDs {
		concepts = append(concepts, conceptSet[nid])
	}

	edges, err := e.Store.EdgesAmongConcepts(ctx, sess, req.Scope, nodeIDs, policy)
	if err != nil {
		return nil, err
	}
	if len(edges) > limitEdges {
		edges = edges[:limitEdges]
	}

	return &SubgraphBundle{
		Concepts: conceptBundlesFrom(concepts),
		Edges:    edgeBundlesFrom(edges),
	}, nil
}
