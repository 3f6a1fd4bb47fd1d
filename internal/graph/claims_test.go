package graph

import (
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeClaimText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "the sky is blue", NormalizeClaimText("  The   Sky is BLUE\n"))
}

func TestClaimID_DeterministicForSameInputs(t *testing.T) {
	t.Parallel()
	a := ClaimID("graph_1", "src_1", "The sky is blue.")
	b := ClaimID("graph_1", "src_1", "the   sky IS blue.  ")
	assert.Equal(t, a, b)
	assert.Contains(t, a, "CLAIM_")
}

func TestClaimID_DiffersByGraphOrSource(t *testing.T) {
	t.Parallel()
	base := ClaimID("graph_1", "src_1", "same text")
	assert.NotEqual(t, base, ClaimID("graph_2", "src_1", "same text"))
	assert.NotEqual(t, base, ClaimID("graph_1", "src_2", "same text"))
}

func TestClaimFromNode_PopulatesTimestamps(t *testing.T) {
	t.Parallel()
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	node := neo4j.Node{
		Props: map[string]any{
			"claim_id":   "CLAIM_abc",
			"text":       "water boils at 100C",
			"created_at": created,
			"updated_at": updated,
			"status":     "VERIFIED",
		},
	}

	claim := claimFromNode(node)

	assert.Equal(t, "CLAIM_abc", claim.ClaimID)
	assert.True(t, created.Equal(claim.CreatedAt))
	assert.True(t, updated.Equal(claim.UpdatedAt))
	assert.False(t, claim.CreatedAt.Equal(claim.UpdatedAt))
	assert.Equal(t, ClaimStatus("VERIFIED"), claim.Status)
}

func TestDedupeStrings(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a", "b"}, dedupeStrings([]string{"a", "", "b", "a"}))
}

func TestCandidateStatusFilter(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "cl.status = 'VERIFIED'", candidateStatusFilter("high"))
	assert.Equal(t, "true", candidateStatusFilter("low"))
	assert.Contains(t, candidateStatusFilter("medium"), "PROPOSED")
	assert.Contains(t, candidateStatusFilter(""), "VERIFIED")
}
