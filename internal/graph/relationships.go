package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

// autoAcceptPredicates are the predicates eligible for the ingestion
// auto-accept rule (§4.5): confidence ≥ 0.9 and predicate in this set.
var autoAcceptPredicates = map[string]bool{
	"DEPENDS_ON":       true,
	"PREREQUISITE_FOR": true,
	"RELATED_TO":       true,
}

const autoAcceptConfidence = 0.9

// ShouldAutoAccept implements the ingestion auto-accept rule from §4.5.
func ShouldAutoAccept(predicate string, confidence float64) bool {
	return confidence >= autoAcceptConfidence && autoAcceptPredicates[predicate]
}

// relationshipVisibilityClause returns the Cypher boolean expression for
// §4.4's visibility policy over relationship alias relAlias:
//   - ACCEPTED is always visible.
//   - PROPOSED is visible per policy: auto (confidence >= threshold),
//     all (always), none (never).
//   - REJECTED is never visible to normal readers (handled by
//     rejectedExcludedClause, kept separate since some queries need it
//     even when not consulting proposed policy).
func relationshipVisibilityClause(relAlias string, policy ProposedEdgePolicy) string {
	switch policy {
	case PolicyAll:
		return fmt.Sprintf("(%s.status = 'ACCEPTED' OR %s.status = 'PROPOSED')", relAlias, relAlias)
	case PolicyNone:
		return fmt.Sprintf("%s.status = 'ACCEPTED'", relAlias)
	default: // auto
		return fmt.Sprintf(
			"(%s.status = 'ACCEPTED' OR (%s.status = 'PROPOSED' AND %s.confidence >= $proposed_threshold))",
			relAlias, relAlias, relAlias,
		)
	}
}

// rejectedExcludedClause excludes REJECTED edges unconditionally — they
// remain in the store for audit/undo but are never returned to normal
// readers (§4.4).
func rejectedExcludedClause(relAlias string) string {
	return fmt.Sprintf("%s.status <> 'REJECTED'", relAlias)
}

// UpsertRelationshipInput is the ingestion-time or user-supplied payload for
// creating/merging a relationship.
type UpsertRelationshipInput struct {
	SrcName        string
	DstName        string
	Predicate      string
	Confidence     float64
	Method         string
	SourceID       string
	ChunkID        string
	ClaimID        string
	Rationale      string
	IngestionRunID string
}

// UpsertRelationship creates or merges a relationship between two concepts
// (matched by name within the graph), applying the auto-accept rule from
// §4.5. LLM-proposed links with confidence below 0.5 must be dropped by the
// caller before reaching here (§4.11 step 2).
func (s *Store) UpsertRelationship(ctx context.Context, sess *Session, scope ActiveContext, in UpsertRelationshipInput) (*Relationship, error) {
	status := StatusProposed
	if ShouldAutoAccept(in.Predicate, in.Confidence) {
		status = StatusAccepted
	}

	res, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (src:Concept {graph_id: $graph_id, name: $src_name})
MATCH (dst:Concept {graph_id: $graph_id, name: $dst_name})
WHERE coalesce(src.is_merged, false) = false AND coalesce(dst.is_merged, false) = false
MERGE (src)-[r:RELATES_TO {predicate: $predicate, graph_id: $graph_id, src_name: $src_name, dst_name: $dst_name}]->(dst)
ON CREATE SET
  r.rel_id = $rel_id,
  r.status = $status,
  r.confidence = $confidence,
  r.method = $method,
  r.source_id = $source_id,
  r.chunk_id = $chunk_id,
  r.claim_id = $claim_id,
  r.rationale = $rationale,
  r.ingestion_run_id = $ingestion_run_id,
  r.on_branches = [$branch_id]
ON MATCH SET
  r.confidence = CASE WHEN $confidence > r.confidence THEN $confidence ELSE r.confidence END,
  r.on_branches = CASE WHEN $branch_id IN coalesce(r.on_branches, []) THEN r.on_branches ELSE coalesce(r.on_branches, []) + $branch_id END
RETURN r
`, map[string]any{
			"graph_id":         scope.GraphID,
			"tenant_id":        scope.TenantID,
			"branch_id":        scope.BranchID,
			"rel_id":           "rel_" + uuid.New().String(),
			"src_name":         in.SrcName,
			"dst_name":         in.DstName,
			"predicate":        in.Predicate,
			"status":           string(status),
			"confidence":       in.Confidence,
			"method":           in.Method,
			"source_id":        in.SourceID,
			"chunk_id":         in.ChunkID,
			"claim_id":         in.ClaimID,
			"rationale":        in.Rationale,
			"ingestion_run_id": in.IngestionRunID,
		})
		if err != nil {
			return nil, err
		}
		return result.Single(ctx)
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("upsert relationship", err)
	}
	record, _ := res.(*neo4j.Record)
	relVal, _ := record.Get("r")
	return relationshipFromEdge(relVal.(neo4j.Relationship)), nil
}

// ReviewBatchItem is one (src, dst, predicate) triple for batched
// accept/reject (§4.5).
type ReviewBatchItem struct {
	SrcName   string
	DstName   string
	Predicate string
}

// AcceptRelationships transitions the given edges to ACCEPTED. Idempotent:
// re-accepting an already-ACCEPTED edge just refreshes reviewed_at/by.
func (s *Store) AcceptRelationships(ctx context.Context, sess *Session, scope ActiveContext, items []ReviewBatchItem, reviewedBy string) error {
	return s.transitionRelationships(ctx, sess, scope, items, StatusAccepted, reviewedBy)
}

// RejectRelationships transitions the given edges to REJECTED.
func (s *Store) RejectRelationships(ctx context.Context, sess *Session, scope ActiveContext, items []ReviewBatchItem, reviewedBy string) error {
	return s.transitionRelationships(ctx, sess, scope, items, StatusRejected, reviewedBy)
}

func (s *Store) transitionRelationships(ctx context.Context, sess *Session, scope ActiveContext, items []ReviewBatchItem, status RelationshipStatus, reviewedBy string) error {
	triples := make([]map[string]any, 0, len(items))
	for _, it := range items {
		triples = append(triples, map[string]any{
			"src_name":  it.SrcName,
			"dst_name":  it.DstName,
			"predicate": it.Predicate,
		})
	}
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
UNWIND $triples AS t
MATCH (src:Concept {graph_id: $graph_id, name: t.src_name})-[r:RELATES_TO {predicate: t.predicate}]->(dst:Concept {graph_id: $graph_id, name: t.dst_name})
SET r.status = $status, r.reviewed_by = $reviewed_by, r.reviewed_at = datetime()
RETURN count(r) AS n
`, map[string]any{
			"graph_id":    scope.GraphID,
			"triples":     triples,
			"status":      string(status),
			"reviewed_by": reviewedBy,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return apperr.NewExternalProviderFailure("transition relationships", err)
	}
	return nil
}

// EditRelationship implements "edit" from §4.5: REJECT the old edge and
// CREATE a new ACCEPTED edge with the new predicate, back-pointed via
// supersedes_rel_type.
func (s *Store) EditRelationship(ctx context.Context, sess *Session, scope ActiveContext, srcName, dstName, oldPredicate, newPredicate string, reviewedBy string) (*Relationship, error) {
	res, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
MATCH (src:Concept {graph_id: $graph_id, name: $src_name})-[old:RELATES_TO {predicate: $old_predicate}]->(dst:Concept {graph_id: $graph_id, name: $dst_name})
SET old.status = 'REJECTED', old.reviewed_by = $reviewed_by, old.reviewed_at = datetime()
WITH src, dst, old
MERGE (src)-[new:RELATES_TO {predicate: $new_predicate, graph_id: $graph_id, src_name: $src_name, dst_name: $dst_name}]->(dst)
ON CREATE SET
  new.rel_id = $rel_id,
  new.status = 'ACCEPTED',
  new.confidence = old.confidence,
  new.method = old.method,
  new.supersedes_rel_type = $old_predicate,
  new.reviewed_by = $reviewed_by,
  new.reviewed_at = datetime(),
  new.on_branches = old.on_branches
RETURN new
`, map[string]any{
			"graph_id":      scope.GraphID,
			"src_name":      srcName,
			"dst_name":      dstName,
			"old_predicate": oldPredicate,
			"new_predicate": newPredicate,
			"reviewed_by":   reviewedBy,
			"rel_id":        "rel_" + uuid.New().String(),
		})
		if err != nil {
			return nil, err
		}
		return result.Single(ctx)
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("edit relationship", err)
	}
	record, _ := res.(*neo4j.Record)
	relVal, _ := record.Get("new")
	return relationshipFromEdge(relVal.(neo4j.Relationship)), nil
}

func relationshipFromEdge(rel neo4j.Relationship) *Relationship {
	props := rel.Props
	var reviewedAt *time.Time
	if v, ok := props["reviewed_at"]; ok {
		if t, ok := v.(time.Time); ok {
			reviewedAt = &t
		}
	}
	return &Relationship{
		RelID:             stringProp(props, "rel_id"),
		Predicate:         stringProp(props, "predicate"),
		Status:            RelationshipStatus(stringProp(props, "status")),
		Confidence:        floatProp(props, "confidence"),
		Method:            stringProp(props, "method"),
		SourceID:          stringProp(props, "source_id"),
		ChunkID:           stringProp(props, "chunk_id"),
		ClaimID:           stringProp(props, "claim_id"),
		Rationale:         stringProp(props, "rationale"),
		IngestionRunID:    stringProp(props, "ingestion_run_id"),
		ReviewedBy:        stringProp(props, "reviewed_by"),
		ReviewedAt:        reviewedAt,
		SupersedesRelType: stringProp(props, "supersedes_rel_type"),
		OnBranches:        stringSliceProp(props, "on_branches"),
	}
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}
