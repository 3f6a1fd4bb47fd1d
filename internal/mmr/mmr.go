// Package mmr implements the MMR Selector (component F): diversity-aware
// item selection from a candidate pool given relevance scores and
// embeddings, following the greedy marginal-relevance pattern used
// throughout the retrieval stack's existing diversify/fusion helpers.
package mmr

import "github.com/noemagraph/retrieval-core/internal/graph"

// Candidate is one item eligible for MMR selection (§4.6).
type Candidate struct {
	Relevance float64
	Embedding []float32 // nil if unavailable
}

const defaultLambda = 0.70

// Select implements the MMR algorithm from §4.6: seed with the
// highest-relevance valid item, then iteratively pick the item maximizing
// λ·relevance(i) − (1−λ)·max_{s∈selected} cos_sim(i, s). Items with nil
// embeddings or non-positive relevance are excluded from eligibility; if
// none qualify, falls back to top-k by relevance. Ties are broken by
// smaller original index. The returned indices are sorted ascending
// (stable output order), matching the "final output is indices sorted
// ascending" rule.
func Select(candidates []Candidate, queryVec []float32, k int, lambda float64) []int {
	if lambda <= 0 && lambda != 0 {
		lambda = defaultLambda
	}
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	eligible := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if c.Relevance > 0 && len(c.Embedding) > 0 {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return topKByRelevance(candidates, k)
	}

	selected := make([]int, 0, k)
	selectedSet := make(map[int]bool, k)

	// Seed with the highest-relevance valid item; tie-break smaller index.
	seed := eligible[0]
	for _, i := range eligible[1:] {
		if candidates[i].Relevance > candidates[seed].Relevance {
			seed = i
		}
	}
	selected = append(selected, seed)
	selectedSet[seed] = true

	for len(selected) < k && len(selected) < len(eligible) {
		bestIdx := -1
		bestScore := -1.0
		for _, i := range eligible {
			if selectedSet[i] {
				continue
			}
			maxSim := 0.0
			for _, s := range selected {
				sim := graph.CosineSimilarity(candidates[i].Embedding, candidates[s].Embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*candidates[i].Relevance - (1-lambda)*maxSim
			if bestIdx == -1 || score > bestScore || (score == bestScore && i < bestIdx) {
				bestIdx = i
				bestScore = score
			}
		}
		if bestIdx == -1 {
			break
		}
		selected = append(selected, bestIdx)
		selectedSet[bestIdx] = true
	}

	return sortedAscending(selected)
}

func topKByRelevance(candidates []Candidate, k int) []int {
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	// Simple insertion sort by relevance desc, index asc tiebreak — pools
	// here are bounded (≤40 per §4.8 step 7), so O(n²) is fine and keeps
	// the tiebreak trivially stable.
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0; j-- {
			a, b := idx[j-1], idx[j]
			if candidates[a].Relevance < candidates[b].Relevance {
				idx[j-1], idx[j] = idx[j], idx[j-1]
			} else {
				break
			}
		}
	}
	if k > len(idx) {
		k = len(idx)
	}
	return sortedAscending(idx[:k])
}

func sortedAscending(idx []int) []int {
	out := append([]int{}, idx...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
