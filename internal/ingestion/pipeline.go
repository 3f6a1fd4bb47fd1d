package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noemagraph/retrieval-core/internal/embedding"
	"github.com/noemagraph/retrieval-core/internal/graph"
	"github.com/noemagraph/retrieval-core/internal/llm"
)

// maxParallelChunks is the bounded worker-pool width from §5: "a bounded
// thread pool (5 workers)" for chunk-level claim extraction.
const maxParallelChunks = 5

// Deps bundles the collaborators RunIngestion needs. One Deps is shared
// across runs; each run acquires its own graph.Session.
type Deps struct {
	Store    *graph.Store
	Router   *llm.Router
	Embedder *embedding.Client
	Log      zerolog.Logger
}

// RunInput is the payload for one ingestion run (§4.11).
type RunInput struct {
	Scope       graph.ActiveContext
	SourceID    string
	SourceType  string // "lecture", "document", "web", ...
	SourceLabel string
	Domain      string
	Text        string
	PageRefs    []PageRef
	URLOrSource string // non-empty when this source should also upsert an Artifact
	ActorID     string
}

// RunResult summarizes one completed (or partially completed) run.
type RunResult struct {
	RunID                 string
	Status                graph.IngestionRunStatus
	ConceptsUpserted      int
	RelationshipsUpserted int
	ClaimsUpserted        int
	ChunksProcessed       int
	Errors                []string
}

// chunkClaims pairs one chunk's extracted claims with the chunk metadata
// needed to upsert them; carried through the worker pool so the
// single-threaded write-back (step below) can sort by chunk index before
// touching the graph (§4.11 step 3, §5: "results sorted by chunk_index
// before a single-threaded serial write-back").
type chunkClaims struct {
	chunk  Chunk
	chunkID string
	claims []ExtractedClaim
	err    error
}

// RunIngestion implements the Ingestion Pipeline (component J, §4.11) end
// to end: chunk, extract concepts/relationships once over the full text,
// extract claims per chunk via a bounded worker pool, then serially write
// everything back under one run_id. A failure in one chunk's extraction
// degrades that chunk's contribution to zero claims (recorded in
// RunResult.Errors) without aborting the run — per §7, LLM ingestion
// failure yields PARTIAL status, not a hard stop.
func RunIngestion(ctx context.Context, deps Deps, in RunInput) (*RunResult, error) {
	runID := "run_" + uuid.New().String()
	result := &RunResult{RunID: runID}

	sess := deps.Store.NewSession(ctx, true)
	defer sess.Close(ctx)

	if err := deps.Store.StartIngestionRun(ctx, sess, in.Scope, runID, in.SourceType, in.SourceLabel); err != nil {
		return nil, err
	}

	var artifactID string
	if in.URLOrSource != "" {
		contentHash := graph.ContentHash(in.Text)
		artifact, err := deps.Store.UpsertArtifact(ctx, sess, in.Scope, in.URLOrSource, contentHash, in.SourceLabel)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("artifact upsert: %v", err))
		} else {
			artifactID = artifact.ArtifactID
		}
	}

	// Step 2: one LLM pass over the full text for concepts/relationships.
	conceptNodeIDs := make(map[string]string) // name -> node_id
	extraction, err := ExtractConcepts(ctx, deps.Router, in.Domain, in.Text)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("concept extraction: %v", err))
	} else {
		for _, n := range extraction.Nodes {
			concept, err := deps.Store.UpsertConcept(ctx, sess, in.Scope, graph.ConceptUpsertInput{
				Name:        n.Name,
				Domain:      n.Domain,
				Type:        n.Type,
				Description: n.Description,
				Tags:        n.Tags,
				Aliases:     n.Aliases,
				ActorID:     in.ActorID,
				RunID:       runID,
			})
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("concept upsert %q: %v", n.Name, err))
				continue
			}
			conceptNodeIDs[n.Name] = concept.NodeID
			result.ConceptsUpserted++
		}
		for _, l := range extraction.Links {
			if _, err := deps.Store.UpsertRelationship(ctx, sess, in.Scope, graph.UpsertRelationshipInput{
				SrcName:        l.Source,
				DstName:        l.Target,
				Predicate:      l.Predicate,
				Confidence:     l.Confidence,
				Method:         "llm_extraction",
				SourceID:       in.SourceID,
				Rationale:      l.Rationale,
				IngestionRunID: runID,
			}); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("relationship upsert %s->%s: %v", l.Source, l.Target, err))
				continue
			}
			result.RelationshipsUpserted++
		}
	}

	knownConcepts := make([]string, 0, len(conceptNodeIDs))
	for name := range conceptNodeIDs {
		knownConcepts = append(knownConcepts, name)
	}

	chunks := Chunk(in.Text, in.PageRefs)
	for _, ch := range chunks {
		chunkID := fmt.Sprintf("%s_chunk_%d", in.SourceID, ch.Index)
		if err := deps.Store.UpsertSourceChunk(ctx, sess, in.Scope, chunkID, in.SourceID, ch.Index, ch.Text, nil); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("chunk %d upsert: %v", ch.Index, err))
		}
	}

	// Step 3: bounded parallel claim extraction — each worker makes its
	// chunk's LLM call, no graph writes happen inside the pool. Claim
	// embeddings are not computed here; the serial write-back below embeds
	// each claim one at a time.
	results := make([]chunkClaims, len(chunks))
	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelChunks)
	for i, ch := range chunks {
		i, ch := i, ch
		group.Go(func() error {
			claims, err := ExtractClaims(gctx, deps.Router, ch.Text, knownConcepts)
			cc := chunkClaims{
				chunk:   ch,
				chunkID: fmt.Sprintf("%s_chunk_%d", in.SourceID, ch.Index),
				claims:  claims,
				err:     err,
			}
			mu.Lock()
			results[i] = cc
			mu.Unlock()
			return nil // per-chunk errors are recorded, never abort the group
		})
	}
	_ = group.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].chunk.Index < results[j].chunk.Index })

	// Single-threaded serial write-back (§5): the graph.Session used above
	// is not safe for concurrent use, so every write below runs on the
	// goroutine that owns sess.
	mentionedNodeIDs := make(map[string]bool)
	for _, cc := range results {
		result.ChunksProcessed++
		if cc.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("chunk %d claim extraction: %v", cc.chunk.Index, cc.err))
			continue
		}
		for _, claim := range cc.claims {
			var mentioned []string
			for _, name := range claim.MentionedConcepts {
				if nodeID, ok := conceptNodeIDs[name]; ok {
					mentioned = append(mentioned, nodeID)
					mentionedNodeIDs[nodeID] = true
				}
			}
			var vec []float32
			if deps.Embedder != nil {
				if embedded, err := deps.Embedder.Embed(ctx, claim.Text); err != nil {
					deps.Log.Warn().Err(err).Str("run_id", runID).Msg("claim embedding failed, continuing with confidence-only scoring")
				} else {
					vec = embedded
				}
			}
			if _, err := deps.Store.UpsertClaim(ctx, sess, in.Scope, graph.ClaimUpsertInput{
				Text:             claim.Text,
				Confidence:       claim.Confidence,
				Method:           "llm_extraction",
				SourceID:         in.SourceID,
				SourceSpan:       claim.SourceSpan,
				ChunkID:          cc.chunkID,
				Embedding:        vec,
				MentionedNodeIDs: mentioned,
				IngestionRunID:   runID,
			}); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("claim upsert (chunk %d): %v", cc.chunk.Index, err))
				continue
			}
			result.ClaimsUpserted++
		}
	}

	if artifactID != "" && len(mentionedNodeIDs) > 0 {
		ids := make([]string, 0, len(mentionedNodeIDs))
		for id := range mentionedNodeIDs {
			ids = append(ids, id)
		}
		if err := deps.Store.LinkArtifactMentions(ctx, sess, in.Scope, artifactID, ids, runID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("artifact mention linking: %v", err))
		}
	}

	status := graph.RunCompleted
	switch {
	case result.ConceptsUpserted == 0 && result.ClaimsUpserted == 0 && len(result.Errors) > 0:
		status = graph.RunFailed
	case len(result.Errors) > 0:
		status = graph.RunPartial
	}
	result.Status = status

	counts := map[string]int{
		"concepts":      result.ConceptsUpserted,
		"relationships":  result.RelationshipsUpserted,
		"claims":        result.ClaimsUpserted,
		"chunks":        result.ChunksProcessed,
	}
	if err := deps.Store.CompleteIngestionRun(ctx, sess, in.Scope, runID, status, counts, result.Errors); err != nil {
		return result, err
	}

	// A run that created or touched content counts as a refresh of the
	// workspace (§3 refresh_defaults), resetting its TTL window even when
	// no explicit refresh check triggered this ingestion.
	if status != graph.RunFailed {
		if err := deps.Store.RecordGraphRefreshSuccess(ctx, sess, in.Scope, time.Now()); err != nil {
			deps.Log.Warn().Err(err).Str("run_id", runID).Msg("failed to record graph refresh success")
		}
	}
	return result, nil
}
