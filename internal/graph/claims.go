package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// NormalizeClaimText implements the normalize() referenced by §3/§4.11's
// claim_id formula: lowercase, whitespace-collapsed, trimmed. Two claim
// texts normalize equal iff they express the same assertion modulo
// whitespace and case, which is the property §8's claim-id-determinism
// test exercises.
func NormalizeClaimText(text string) string {
	return whitespaceRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}

// ClaimID computes the deterministic claim_id from §3: "CLAIM_" +
// sha256(graph_id + source_id + normalize(text))[:16].
func ClaimID(graphID, sourceID, text string) string {
	h := sha256.Sum256([]byte(graphID + sourceID + NormalizeClaimText(text)))
	return "CLAIM_" + hex.EncodeToString(h[:])[:16]
}

// ClaimUpsertInput is the payload for upserting one extracted claim.
type ClaimUpsertInput struct {
	Text             string
	Confidence       float64
	Method           string
	SourceID         string
	SourceSpan       string
	ChunkID          string
	Embedding        []float32
	MentionedNodeIDs []string
	IngestionRunID   string
}

// UpsertClaim implements the Claim upsert named in §4.11 step 3: computes
// the deterministic claim_id, upserts the Claim node, and creates
// SUPPORTED_BY → chunk and MENTIONS → concept edges. evidence_ids always
// contains the supporting chunk_id (deduped), per invariant 3 in §3.
func (s *Store) UpsertClaim(ctx context.Context, sess *Session, scope ActiveContext, in ClaimUpsertInput) (*Claim, error) {
	claimID := ClaimID(scope.GraphID, in.SourceID, in.Text)
	evidenceIDs := dedupeStrings([]string{in.ChunkID})

	res, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MERGE (cl:Claim {graph_id: $graph_id, claim_id: $claim_id})
ON CREATE SET
  cl.text = $text,
  cl.confidence = $confidence,
  cl.method = $method,
  cl.source_id = $source_id,
  cl.source_span = $source_span,
  cl.chunk_id = $chunk_id,
  cl.embedding = $embedding,
  cl.status = 'PROPOSED',
  cl.evidence_ids = $evidence_ids,
  cl.ingestion_run_id = $ingestion_run_id,
  cl.on_branches = [$branch_id],
  cl.created_at = datetime(),
  cl.updated_at = datetime()
ON MATCH SET
  cl.evidence_ids = apoc.coll.toSet(coalesce(cl.evidence_ids, []) + $evidence_ids),
  cl.ingestion_run_id = $ingestion_run_id,
  cl.on_branches = CASE WHEN $branch_id IN coalesce(cl.on_branches, []) THEN cl.on_branches ELSE coalesce(cl.on_branches, []) + $branch_id END,
  cl.updated_at = datetime()
WITH cl
MATCH (chunk:SourceChunk {graph_id: $graph_id, chunk_id: $chunk_id})
MERGE (cl)-[:SUPPORTED_BY]->(chunk)
WITH cl
UNWIND $mentioned_node_ids AS nid
MATCH (concept:Concept {graph_id: $graph_id, node_id: nid})
MERGE (cl)-[:MENTIONS]->(concept)
RETURN cl
`, map[string]any{
			"graph_id":           scope.GraphID,
			"tenant_id":          scope.TenantID,
			"branch_id":          scope.BranchID,
			"claim_id":           claimID,
			"text":               in.Text,
			"confidence":         in.Confidence,
			"method":             in.Method,
			"source_id":          in.SourceID,
			"source_span":        in.SourceSpan,
			"chunk_id":           in.ChunkID,
			"embedding":          in.Embedding,
			"evidence_ids":       evidenceIDs,
			"ingestion_run_id":   in.IngestionRunID,
			"mentioned_node_ids": in.MentionedNodeIDs,
		})
		if err != nil {
			return nil, err
		}
		return result.Single(ctx)
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("upsert claim", err)
	}
	record, _ := res.(*neo4j.Record)
	nodeVal, _ := record.Get("cl")
	claim := claimFromNode(nodeVal.(neo4j.Node))
	claim.MentionedNodeIDs = in.MentionedNodeIDs
	return claim, nil
}

// UpsertSourceChunk creates the SourceChunk node a claim's SUPPORTED_BY
// edge points to. Called before claim extraction writes so the MATCH in
// UpsertClaim always finds its chunk.
func (s *Store) UpsertSourceChunk(ctx context.Context, sess *Session, scope ActiveContext, chunkID, sourceID string, chunkIndex int, text string, metadata map[string]any) error {
	_, err := sess.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MERGE (ch:SourceChunk {graph_id: $graph_id, chunk_id: $chunk_id})
ON CREATE SET ch.source_id = $source_id, ch.chunk_index = $chunk_index, ch.text = $text, ch.on_branches = [$branch_id]
`, map[string]any{
		"graph_id":    scope.GraphID,
		"tenant_id":   scope.TenantID,
		"branch_id":   scope.BranchID,
		"chunk_id":    chunkID,
		"source_id":   sourceID,
		"chunk_index": chunkIndex,
		"text":        text,
	})
	if err != nil {
		return apperr.NewExternalProviderFailure("upsert source chunk", err)
	}
	return nil
}

func claimFromNode(n neo4j.Node) *Claim {
	props := n.Props
	return &Claim{
		ClaimID:        stringProp(props, "claim_id"),
		Text:           stringProp(props, "text"),
		Confidence:     floatProp(props, "confidence"),
		Method:         stringProp(props, "method"),
		SourceID:       stringProp(props, "source_id"),
		SourceSpan:     stringProp(props, "source_span"),
		ChunkID:        stringProp(props, "chunk_id"),
		Embedding:      float32SliceProp(props, "embedding"),
		Status:         ClaimStatus(stringProp(props, "status")),
		EvidenceIDs:    stringSliceProp(props, "evidence_ids"),
		IngestionRunID: stringProp(props, "ingestion_run_id"),
		OnBranches:     stringSliceProp(props, "on_branches"),
		CreatedAt:      timeProp(props, "created_at"),
		UpdatedAt:      timeProp(props, "updated_at"),
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// CandidateClaim is a claim fetched for retrieval scoring (§4.8 step 4),
// carrying the fields the relevance-scoring step needs without requiring a
// second round trip.
type CandidateClaim struct {
	Claim            Claim
	MentionedNodeIDs []string
	CommunityID      string
}

// FetchCandidateClaimsForCommunities implements §4.8 step 4: for the given
// communities, load claims that MENTIONS any concept IN_COMMUNITY that
// community, filtered by evidence strictness, in a single batched UNWIND
// query — never a per-community round trip.
func (s *Store) FetchCandidateClaimsForCommunities(ctx context.Context, sess *Session, scope ActiveContext, communityIDs []string, strictness string) ([]CandidateClaim, error) {
	statusFilter := candidateStatusFilter(strictness)

	records, err := sess.Run(ctx, fmt.Sprintf(`
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
UNWIND $community_ids AS cid
MATCH (comm:Community {graph_id: $graph_id, community_id: cid})
WHERE $branch_id IN comm.on_branches
MATCH (concept:Concept {graph_id: $graph_id})-[:IN_COMMUNITY]->(comm)
WHERE %s
MATCH (cl:Claim {graph_id: $graph_id})-[:MENTIONS]->(concept)
WHERE $branch_id IN cl.on_branches AND (%s)
WITH cl, comm, collect(DISTINCT concept.node_id) AS mentioned
RETURN cl, comm.community_id AS community_id, mentioned
`, ReadFilter("concept"), statusFilter), map[string]any{
		"graph_id":      scope.GraphID,
		"tenant_id":     scope.TenantID,
		"branch_id":     scope.BranchID,
		"community_ids": communityIDs,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("fetch candidate claims", err)
	}

	out := make([]CandidateClaim, 0, len(records))
	for _, rec := range records {
		nodeVal, _ := rec.Get("cl")
		claim := claimFromNode(nodeVal.(neo4j.Node))
		communityIDVal, _ := rec.Get("community_id")
		communityID, _ := communityIDVal.(string)
		mentionedVal, _ := rec.Get("mentioned")
		mentionedRaw, _ := mentionedVal.([]any)
		mentioned := make([]string, 0, len(mentionedRaw))
		for _, m := range mentionedRaw {
			if s, ok := m.(string); ok {
				mentioned = append(mentioned, s)
			}
		}
		claim.MentionedNodeIDs = mentioned
		out = append(out, CandidateClaim{Claim: *claim, MentionedNodeIDs: mentioned, CommunityID: communityID})
	}
	return out, nil
}

// candidateStatusFilter implements the strictness filter from §4.8 step 4.
func candidateStatusFilter(strictness string) string {
	switch strictness {
	case "high":
		return "cl.status = 'VERIFIED'"
	case "low":
		return "true"
	default: // medium
		return "(cl.status = 'VERIFIED' OR (cl.status = 'PROPOSED' AND cl.confidence >= 0.7))"
	}
}
