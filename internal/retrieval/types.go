// Package retrieval implements the GraphRAG Retrieval Engine (component H,
// §4.8), the intent-dispatched retrieval plans built on top of it (§4.9),
// and the standalone evidence-subgraph endpoint (§4.10).
package retrieval

import "github.com/noemagraph/retrieval-core/internal/graph"

// Request is the input to Retrieve (§4.8).
type Request struct {
	Scope              graph.ActiveContext
	Question           string
	CommunityK         int    // default 5
	ClaimsPerCommunity int    // default 12
	EvidenceStrictness string // high | medium | low, default medium
	IncludeProposed    graph.ProposedEdgePolicy
}

const (
	defaultCommunityK         = 5
	defaultClaimsPerCommunity = 12
	defaultStrictness         = "medium"
	maxSelectedClaims         = 40
	maxPathQueries            = 10
	maxEvidenceHops           = 4
	maxCandidateConcepts      = 30
	topMentionedForPaths      = 5
	maxEvidenceEdges          = 80
	maxEvidenceConcepts       = 25
	communitySummaryTruncate  = 1200
	conceptDescTruncate       = 280
	captionsPerConcept        = 2
	mmrLambda                 = 0.70
	twoEntityScoreThreshold   = 0.35
	anchorBoostPerMatch       = 0.10
	anchorBoostCap            = 0.20
	baseSimWeight             = 0.75
	baseConfidenceWeight      = 0.25
)

func (r Request) normalized() Request {
	if r.CommunityK <= 0 {
		r.CommunityK = defaultCommunityK
	}
	if r.ClaimsPerCommunity <= 0 {
		r.ClaimsPerCommunity = defaultClaimsPerCommunity
	}
	if r.EvidenceStrictness == "" {
		r.EvidenceStrictness = defaultStrictness
	}
	if r.IncludeProposed == "" {
		r.IncludeProposed = graph.PolicyAuto
	}
	return r
}

// CommunityBundle is one community entry in the context bundle (§4.8 step 9).
type CommunityBundle struct {
	CommunityID string `json:"community_id"`
	Name        string `json:"name"`
	Summary     string `json:"summary"`
}

// ClaimBundle is one selected claim in the context bundle.
type ClaimBundle struct {
	ClaimID           string   `json:"claim_id"`
	Text              string   `json:"text"`
	Confidence        float64  `json:"confidence"`
	SourceID          string   `json:"source_id"`
	ChunkID           string   `json:"chunk_id"`
	MentionedConcepts []string `json:"mentioned_concepts"`
	EvidenceIDs       []string `json:"evidence_ids"`
}

// ConceptBundle is one concept in the context bundle, with resource
// captions truncated to captionsPerConcept (§4.8 step 9).
type ConceptBundle struct {
	NodeID      string   `json:"node_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Captions    []string `json:"captions,omitempty"`
}

// EdgeBundle is one edge in the evidence subgraph.
type EdgeBundle struct {
	SourceID  string `json:"source_id"`
	TargetID  string `json:"target_id"`
	Predicate string `json:"predicate"`
}

// Debug carries the diagnostic counters named in §4.8 step 9.
type Debug struct {
	AnchorIDs        []string `json:"anchor_ids"`
	SelectedClaimIDs []string `json:"selected_claim_ids"`
	PathQueryCount   int      `json:"path_query_count"`
	CandidateCount   int      `json:"candidate_count"`
	CommunityCount   int      `json:"community_count"`
	IsTwoEntity      bool     `json:"is_two_entity"`
	NoEvidence       bool     `json:"no_evidence,omitempty"`
}

// Result is the structured bundle Retrieve produces (§4.8 step 9).
type Result struct {
	Communities []CommunityBundle `json:"communities"`
	Claims      []ClaimBundle     `json:"claims"`
	Concepts    []ConceptBundle   `json:"concepts"`
	Edges       []EdgeBundle      `json:"edges"`
	HasEvidence bool              `json:"has_evidence"`
	Debug       Debug             `json:"debug"`
}

// TelemetryEvent is the event emitted at the end of Retrieve (§4.8, final
// paragraph): "{graph_id, branch_id, question, community_ids, claim_ids,
// sizes}".
type TelemetryEvent struct {
	GraphID      string   `json:"graph_id"`
	BranchID     string   `json:"branch_id"`
	Question     string   `json:"question"`
	CommunityIDs []string `json:"community_ids"`
	ClaimIDs     []string `json:"claim_ids"`
	Sizes        Sizes    `json:"sizes"`
}

// Sizes summarizes bundle cardinalities for telemetry.
type Sizes struct {
	Communities int `json:"communities"`
	Claims      int `json:"claims"`
	Concepts    int `json:"concepts"`
	Edges       int `json:"edges"`
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
