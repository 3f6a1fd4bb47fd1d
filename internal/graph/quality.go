package graph

import (
	"context"
	"time"
)

// EvidenceFreshness buckets a concept's most recent supporting claim by age,
// matching the Fresh/Aging/Stale/None categories the quality-metrics
// original tooling reports.
type EvidenceFreshness string

const (
	FreshnessFresh EvidenceFreshness = "FRESH"
	FreshnessAging EvidenceFreshness = "AGING"
	FreshnessStale EvidenceFreshness = "STALE"
	FreshnessNone  EvidenceFreshness = "NO_EVIDENCE"
)

const (
	freshnessFreshWindow = 30 * 24 * time.Hour
	freshnessAgingWindow = 180 * 24 * time.Hour
)

// ConceptCoverage is the 0-100 coverage score and its freshness/connectivity
// inputs for one Concept (§3 Concept, supplemented from the original
// quality-metrics tooling: description presence, evidence count, and
// neighbor degree each contribute points; no library implements this, it is
// a small deterministic scoring function over data already in the graph).
type ConceptCoverage struct {
	ConceptID string            `json:"concept_id"`
	Score     int               `json:"score"`
	Freshness EvidenceFreshness `json:"evidence_freshness"`
	Evidence  int               `json:"evidence_count"`
	Degree    int               `json:"degree"`
}

func scoreDescription(description string) int {
	if description == "" {
		return 0
	}
	return 30
}

func scoreEvidenceCount(n int) int {
	switch {
	case n == 0:
		return 0
	case n <= 2:
		return 15
	default:
		return 25
	}
}

func scoreDegree(degree int) int {
	switch {
	case degree >= 5:
		return 25
	case degree >= 2:
		return 15
	case degree >= 1:
		return 5
	default:
		return 0
	}
}

func classifyFreshness(claims []Claim, now time.Time) EvidenceFreshness {
	if len(claims) == 0 {
		return FreshnessNone
	}
	newest := claims[0].CreatedAt
	for _, c := range claims[1:] {
		if c.CreatedAt.After(newest) {
			newest = c.CreatedAt
		}
	}
	age := now.Sub(newest)
	switch {
	case age <= freshnessFreshWindow:
		return FreshnessFresh
	case age <= freshnessAgingWindow:
		return FreshnessAging
	default:
		return FreshnessStale
	}
}

// ComputeConceptCoverage fetches a concept's evidence and neighbor degree
// and scores it. now is passed in so callers (and tests) control the
// freshness clock rather than the package reaching for time.Now() itself.
func (s *Store) ComputeConceptCoverage(ctx context.Context, sess *Session, scope ActiveContext, conceptID string, now time.Time) (ConceptCoverage, error) {
	concepts, err := s.GetConceptsByNodeIDs(ctx, sess, scope, []string{conceptID})
	if err != nil {
		return ConceptCoverage{}, err
	}
	if len(concepts) == 0 {
		return ConceptCoverage{ConceptID: conceptID, Freshness: FreshnessNone}, nil
	}
	concept := concepts[0]

	claims, err := s.ClaimsMentioningConcepts(ctx, sess, scope, []string{conceptID}, 1000)
	if err != nil {
		return ConceptCoverage{}, err
	}

	neighbors, err := s.Neighbors1Hop(ctx, sess, scope, conceptID, PolicyAuto)
	if err != nil {
		return ConceptCoverage{}, err
	}

	score := scoreDescription(concept.Description) + scoreEvidenceCount(len(claims)) + scoreDegree(len(neighbors))
	if score > 100 {
		score = 100
	}

	return ConceptCoverage{
		ConceptID: conceptID,
		Score:     score,
		Freshness: classifyFreshness(claims, now),
		Evidence:  len(claims),
		Degree:    len(neighbors),
	}, nil
}

// GraphHealth buckets the average concept coverage score across a sample of
// a workspace's concepts into the three bands the original quality tooling
// used to summarize overall graph health.
type GraphHealth string

const (
	HealthHealthy        GraphHealth = "HEALTHY"
	HealthNeedsAttention GraphHealth = "NEEDS_ATTENTION"
	HealthPoor           GraphHealth = "POOR"
)

// ClassifyGraphHealth maps an average coverage score (0-100, over whatever
// sample of concepts the caller chose) to a health band.
func ClassifyGraphHealth(averageScore float64) GraphHealth {
	switch {
	case averageScore >= 70:
		return HealthHealthy
	case averageScore >= 40:
		return HealthNeedsAttention
	default:
		return HealthPoor
	}
}
