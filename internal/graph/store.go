package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

// ConceptUpsertInput carries the fields the caller supplies; unspecified
// merge/extend semantics (§4.2) are applied against the existing node.
type ConceptUpsertInput struct {
	Name           string
	Domain         string
	Type           string
	Description    string
	Tags           []string
	Aliases        []string
	URLSlug        string
	LectureSources []string
	ActorID        string // created_by / last_updated_by
	RunID          string // created_by_run_id / last_updated_by_run_id
}

// UpsertConcept implements the Concept upsert rule from §4.2: keyed on
// (graph_id, name); on create sets the full attribute set, on match
// selectively extends (lecture_sources appended if new, description
// overwritten only if incoming is longer, tags/aliases set-unioned,
// last_updated_by_run_id updated but created_by_run_id preserved).
func (s *Store) UpsertConcept(ctx context.Context, sess *Session, scope ActiveContext, in ConceptUpsertInput) (*Concept, error) {
	res, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MERGE (c:Concept {graph_id: $graph_id, name: $name})
ON CREATE SET
  c.node_id = $node_id,
  c.domain = $domain,
  c.type = $type,
  c.description = $description,
  c.tags = $tags,
  c.aliases = $aliases,
  c.url_slug = $url_slug,
  c.lecture_sources = $lecture_sources,
  c.created_by = $actor_id,
  c.last_updated_by = $actor_id,
  c.created_by_run_id = $run_id,
  c.last_updated_by_run_id = $run_id,
  c.mastery_level = 0,
  c.is_merged = false,
  c.archived = false,
  c.on_branches = [$branch_id],
  c.created_at = datetime(),
  c.updated_at = datetime()
ON MATCH SET
  c.description = CASE WHEN size($description) > size(coalesce(c.description, "")) THEN $description ELSE c.description END,
  c.tags = apoc.coll.toSet(coalesce(c.tags, []) + $tags),
  c.aliases = apoc.coll.toSet(coalesce(c.aliases, []) + $aliases),
  c.lecture_sources = apoc.coll.toSet(coalesce(c.lecture_sources, []) + $lecture_sources),
  c.last_updated_by = $actor_id,
  c.last_updated_by_run_id = $run_id,
  c.on_branches = CASE WHEN $branch_id IN coalesce(c.on_branches, []) THEN c.on_branches ELSE coalesce(c.on_branches, []) + $branch_id END,
  c.updated_at = datetime()
RETURN c
`, map[string]any{
			"graph_id":        scope.GraphID,
			"tenant_id":       scope.TenantID,
			"branch_id":       scope.BranchID,
			"node_id":         "concept_" + uuid.New().String(),
			"name":            in.Name,
			"domain":          in.Domain,
			"type":            in.Type,
			"description":     in.Description,
			"tags":            in.Tags,
			"aliases":         in.Aliases,
			"url_slug":        in.URLSlug,
			"lecture_sources": in.LectureSources,
			"actor_id":        in.ActorID,
			"run_id":          in.RunID,
		})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		if isConstraintViolation(err) {
			return nil, apperr.NewConflict(fmt.Sprintf("concept %q already exists", in.Name), in.Name)
		}
		return nil, apperr.NewExternalProviderFailure("upsert concept", err)
	}
	record, _ := res.(*neo4j.Record)
	node, ok := record.Get("c")
	if !ok {
		return nil, apperr.NewFatal("upsert concept: missing node in result", nil)
	}
	return conceptFromNode(node.(neo4j.Node)), nil
}

// GetConceptByName returns the Concept matching name in the active scope,
// or nil if absent — the store layer never returns NotFound as an error
// (§7): missing entities are an absent-optional.
func (s *Store) GetConceptByName(ctx context.Context, sess *Session, scope ActiveContext, name string) (*Concept, error) {
	records, err := sess.Run(ctx, fmt.Sprintf(`
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (c:Concept {graph_id: $graph_id, name: $name})
WHERE %s
RETURN c
`, ReadFilter("c")), map[string]any{
		"graph_id":  scope.GraphID,
		"tenant_id": scope.TenantID,
		"branch_id": scope.BranchID,
		"name":      name,
	})
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("get concept by name", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	node, _ := records[0].Get("c")
	return conceptFromNode(node.(neo4j.Node)), nil
}

// GraphOverview is the disjoint pair §4.2 requires: top-degree connected
// concepts, plus every isolated (degree-0) concept. Isolated nodes are
// always included regardless of limitNodes; losing them is a regression.
type GraphOverview struct {
	Connected []ConceptWithDegree
	Isolated  []Concept
}

// ConceptWithDegree pairs a Concept with its visible-edge degree.
type ConceptWithDegree struct {
	Concept Concept
	Degree  int
}

// GetGraphOverview implements get_graph_overview(limit_nodes, limit_edges,
// include_proposed) from §4.2: top-degree concepts ordered by degree desc,
// node_id asc tiebreak, plus all isolated concepts.
func (s *Store) GetGraphOverview(ctx context.Context, sess *Session, scope ActiveContext, limitNodes, limitEdges int, includeProposed ProposedEdgePolicy) (GraphOverview, error) {
	edgeVisible := relationshipVisibilityClause("r", includeProposed)

	connectedRecords, err := sess.Run(ctx, fmt.Sprintf(`
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (c:Concept {graph_id: $graph_id})
WHERE %s
MATCH (c)-[r:RELATES_TO]-(o:Concept)
WHERE %s AND %s AND %s
WITH c, count(DISTINCT r) AS degree
WHERE degree > 0
RETURN c, degree
ORDER BY degree DESC, c.node_id ASC
LIMIT $limit_nodes
`, ReadFilter("c"), ReadFilter("o"), edgeVisible, rejectedExcludedClause("r")), map[string]any{
		"graph_id":           scope.GraphID,
		"tenant_id":          scope.TenantID,
		"branch_id":          scope.BranchID,
		"limit_nodes":        limitNodes,
		"proposed_threshold": 0.6,
	})
	if err != nil {
		return GraphOverview{}, apperr.NewExternalProviderFailure("graph overview: connected concepts", err)
	}

	isolatedRecords, err := sess.Run(ctx, fmt.Sprintf(`
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MATCH (c:Concept {graph_id: $graph_id})
WHERE %s
AND NOT EXISTS {
  MATCH (c)-[r:RELATES_TO]-(o:Concept)
  WHERE %s AND %s AND %s
}
RETURN c
ORDER BY c.node_id ASC
`, ReadFilter("c"), ReadFilter("o"), edgeVisible, rejectedExcludedClause("r")), map[string]any{
		"graph_id":           scope.GraphID,
		"tenant_id":          scope.TenantID,
		"branch_id":          scope.BranchID,
		"proposed_threshold": 0.6,
	})
	if err != nil {
		return GraphOverview{}, apperr.NewExternalProviderFailure("graph overview: isolated concepts", err)
	}

	overview := GraphOverview{}
	for _, rec := range connectedRecords {
		node, _ := rec.Get("c")
		degreeVal, _ := rec.Get("degree")
		degree, _ := degreeVal.(int64)
		overview.Connected = append(overview.Connected, ConceptWithDegree{
			Concept: *conceptFromNode(node.(neo4j.Node)),
			Degree:  int(degree),
		})
	}
	for _, rec := range isolatedRecords {
		node, _ := rec.Get("c")
		overview.Isolated = append(overview.Isolated, *conceptFromNode(node.(neo4j.Node)))
	}
	sort.SliceStable(overview.Connected, func(i, j int) bool {
		if overview.Connected[i].Degree != overview.Connected[j].Degree {
			return overview.Connected[i].Degree > overview.Connected[j].Degree
		}
		return overview.Connected[i].Concept.NodeID < overview.Connected[j].Concept.NodeID
	})
	return overview, nil
}

func conceptFromNode(n neo4j.Node) *Concept {
	props := n.Props
	return &Concept{
		NodeID:           stringProp(props, "node_id"),
		Name:             stringProp(props, "name"),
		Domain:           stringProp(props, "domain"),
		Type:             stringProp(props, "type"),
		Description:      stringProp(props, "description"),
		Tags:             stringSliceProp(props, "tags"),
		Aliases:          stringSliceProp(props, "aliases"),
		URLSlug:          stringProp(props, "url_slug"),
		LectureSources:   stringSliceProp(props, "lecture_sources"),
		CreatedBy:        stringProp(props, "created_by"),
		LastUpdatedBy:    stringProp(props, "last_updated_by"),
		CreatedByRunID:   stringProp(props, "created_by_run_id"),
		LastUpdatedRunID: stringProp(props, "last_updated_by_run_id"),
		IsMerged:         boolProp(props, "is_merged"),
		Archived:         boolProp(props, "archived"),
		OnBranches:       stringSliceProp(props, "on_branches"),
	}
}

func stringProp(props map[string]any, key string) string {
	v, _ := props[key].(string)
	return v
}

func boolProp(props map[string]any, key string) bool {
	v, _ := props[key].(bool)
	return v
}

// timeProp reads a Cypher datetime() value back as time.Time. The Go
// driver returns these as native time.Time; a missing or malformed value
// yields the zero time rather than an error, since every caller treats it
// as optional metadata.
func timeProp(props map[string]any, key string) time.Time {
	v, _ := props[key].(time.Time)
	return v
}

func stringSliceProp(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func isConstraintViolation(err error) bool {
	var neo4jErr *neo4j.Neo4jError
	if errors.As(err, &neo4jErr) {
		return neo4jErr.Code == "Neo.ClientError.Schema.ConstraintValidationFailed"
	}
	return false
}
