package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

var artifactWhitespaceRE = regexp.MustCompile(`\s+`)

// ContentHash implements the Artifact identity hash from §3: sha256 over
// whitespace-normalized lowercase text. Identical normalized text yields the
// same identity (invariant 5, §3) so re-ingesting the same document is
// idempotent.
func ContentHash(text string) string {
	normalized := artifactWhitespaceRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}

// UpsertArtifact upserts an Artifact keyed by (graph_id, url_or_source_id,
// content_hash) as specified in §3.
func (s *Store) UpsertArtifact(ctx context.Context, sess *Session, scope ActiveContext, urlOrSourceID, contentHash, title string) (*Artifact, error) {
	res, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MERGE (a:Artifact {graph_id: $graph_id, url_or_source_id: $url_or_source_id, content_hash: $content_hash})
ON CREATE SET
  a.artifact_id = $artifact_id,
  a.title = $title,
  a.on_branches = [$branch_id],
  a.created_at = datetime()
RETURN a
`, map[string]any{
			"graph_id":          scope.GraphID,
			"tenant_id":         scope.TenantID,
			"branch_id":         scope.BranchID,
			"artifact_id":       "artifact_" + uuid.New().String(),
			"url_or_source_id":  urlOrSourceID,
			"content_hash":      contentHash,
			"title":             title,
		})
		if err != nil {
			return nil, err
		}
		return result.Single(ctx)
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("upsert artifact", err)
	}
	record, _ := res.(*neo4j.Record)
	nodeVal, _ := record.Get("a")
	node := nodeVal.(neo4j.Node)
	props := node.Props
	return &Artifact{
		ArtifactID:  stringProp(props, "artifact_id"),
		URLOrSource: stringProp(props, "url_or_source_id"),
		ContentHash: stringProp(props, "content_hash"),
		Title:       stringProp(props, "title"),
		OnBranches:  stringSliceProp(props, "on_branches"),
		CreatedAt:   timeProp(props, "created_at"),
	}, nil
}

// GetArtifactByURL fetches the most recently created Artifact for a given
// url_or_source_id, used by callers to decide whether a re-fetch is due by
// comparing CreatedAt against the max_age_hours refresh window.
func (s *Store) GetArtifactByURL(ctx context.Context, sess *Session, scope ActiveContext, urlOrSourceID string) (*Artifact, error) {
	rec, err := sess.Single(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (a:Artifact {graph_id: $graph_id, url_or_source_id: $url_or_source_id})
RETURN a
ORDER BY a.created_at DESC
LIMIT 1
`, map[string]any{
		"graph_id":         scope.GraphID,
		"tenant_id":        scope.TenantID,
		"url_or_source_id": urlOrSourceID,
	})
	if err != nil {
		return nil, apperr.NewNotFound("artifact not found: " + urlOrSourceID)
	}
	nodeVal, _ := rec.Get("a")
	props := nodeVal.(neo4j.Node).Props
	return &Artifact{
		ArtifactID:  stringProp(props, "artifact_id"),
		URLOrSource: stringProp(props, "url_or_source_id"),
		ContentHash: stringProp(props, "content_hash"),
		Title:       stringProp(props, "title"),
		OnBranches:  stringSliceProp(props, "on_branches"),
		CreatedAt:   timeProp(props, "created_at"),
	}, nil
}

// LinkArtifactMentions idempotently creates MENTIONS edges from an Artifact
// to the concepts it touched during this ingestion run, tagged with run_id.
func (s *Store) LinkArtifactMentions(ctx context.Context, sess *Session, scope ActiveContext, artifactID string, conceptNodeIDs []string, runID string) error {
	_, err := sess.Run(ctx, `
MATCH (a:Artifact {graph_id: $graph_id, artifact_id: $artifact_id})
UNWIND $concept_ids AS cid
MATCH (c:Concept {graph_id: $graph_id, node_id: cid})
MERGE (a)-[m:MENTIONS]->(c)
ON CREATE SET m.run_id = $run_id
`, map[string]any{
		"graph_id":    scope.GraphID,
		"artifact_id": artifactID,
		"concept_ids": conceptNodeIDs,
		"run_id":      runID,
	})
	if err != nil {
		return apperr.NewExternalProviderFailure("link artifact mentions", err)
	}
	return nil
}
