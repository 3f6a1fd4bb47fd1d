package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

// StartIngestionRun creates an IngestionRun node in RUNNING status (§3, §4.11
// step 5).
func (s *Store) StartIngestionRun(ctx context.Context, sess *Session, scope ActiveContext, runID, sourceType, sourceLabel string) error {
	_, err := sess.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
MERGE (run:IngestionRun {graph_id: $graph_id, run_id: $run_id})
ON CREATE SET
  run.source_type = $source_type,
  run.source_label = $source_label,
  run.status = 'RUNNING',
  run.started_at = datetime(),
  run.on_branches = [$branch_id]
`, map[string]any{
		"graph_id":     scope.GraphID,
		"tenant_id":    scope.TenantID,
		"branch_id":    scope.BranchID,
		"run_id":       runID,
		"source_type":  sourceType,
		"source_label": sourceLabel,
	})
	if err != nil {
		return apperr.NewExternalProviderFailure("start ingestion run", err)
	}
	return nil
}

// CompleteIngestionRun finalizes the run with the given terminal status and
// summary counts (§4.11 step 5: COMPLETED on full success, FAILED if
// nothing was created, PARTIAL on mixed per-item failures).
func (s *Store) CompleteIngestionRun(ctx context.Context, sess *Session, scope ActiveContext, runID string, status IngestionRunStatus, counts map[string]int, errs []string) error {
	countKeys := make([]string, 0, len(counts))
	countVals := make([]int, 0, len(counts))
	for k, v := range counts {
		countKeys = append(countKeys, k)
		countVals = append(countVals, v)
	}
	_, err := sess.Run(ctx, `
MATCH (run:IngestionRun {graph_id: $graph_id, run_id: $run_id})
SET run.status = $status,
    run.completed_at = datetime(),
    run.summary_count_keys = $count_keys,
    run.summary_count_vals = $count_vals,
    run.errors = $errors
`, map[string]any{
		"graph_id":   scope.GraphID,
		"run_id":     runID,
		"status":     string(status),
		"count_keys": countKeys,
		"count_vals": countVals,
		"errors":     errs,
	})
	if err != nil {
		return apperr.NewExternalProviderFailure("complete ingestion run", err)
	}
	return nil
}

// UndoRun implements the undo-by-run operation from §3/§4.11 within the
// current branch: Concepts with created_by_run_id = runID get archived=true
// and Claims with ingestion_run_id = runID get status REJECTED (nothing is
// deleted), and the run's undone_at timestamp is set. Relationships, source
// chunks and artifacts written by the run are left unchanged.
func (s *Store) UndoRun(ctx context.Context, sess *Session, scope ActiveContext, runID string) (archivedConcepts, archivedClaims int, err error) {
	result, txErr := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		conceptsRes, err := tx.Run(ctx, `
MATCH (c:Concept {graph_id: $graph_id, created_by_run_id: $run_id})
WHERE $branch_id IN c.on_branches
SET c.archived = true
RETURN count(c) AS n
`, map[string]any{"graph_id": scope.GraphID, "branch_id": scope.BranchID, "run_id": runID})
		if err != nil {
			return nil, err
		}
		conceptsRec, err := conceptsRes.Single(ctx)
		if err != nil {
			return nil, err
		}
		conceptsN, _ := conceptsRec.Get("n")

		claimsRes, err := tx.Run(ctx, `
MATCH (cl:Claim {graph_id: $graph_id, ingestion_run_id: $run_id})
WHERE $branch_id IN cl.on_branches
SET cl.status = 'REJECTED'
RETURN count(cl) AS n
`, map[string]any{"graph_id": scope.GraphID, "branch_id": scope.BranchID, "run_id": runID})
		if err != nil {
			return nil, err
		}
		claimsRec, err := claimsRes.Single(ctx)
		if err != nil {
			return nil, err
		}
		claimsN, _ := claimsRec.Get("n")

		if _, err := tx.Run(ctx, `
MATCH (run:IngestionRun {graph_id: $graph_id, run_id: $run_id})
SET run.undone_at = datetime()
`, map[string]any{"graph_id": scope.GraphID, "run_id": runID}); err != nil {
			return nil, err
		}

		return [2]int64{conceptsN.(int64), claimsN.(int64)}, nil
	})
	if txErr != nil {
		return 0, 0, apperr.NewExternalProviderFailure("undo ingestion run", txErr)
	}
	counts := result.([2]int64)
	return int(counts[0]), int(counts[1]), nil
}
