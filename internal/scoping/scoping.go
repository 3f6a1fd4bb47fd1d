// Package scoping implements Graph Scoping (component A): resolving
// (tenant_id, user_id) to an active (graph_id, branch_id) context, and the
// branch/tenant/merged visibility clauses every graph query must carry.
package scoping

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noemagraph/retrieval-core/internal/apperr"
	"github.com/noemagraph/retrieval-core/internal/cache"
	"github.com/noemagraph/retrieval-core/internal/graph"
)

// ActiveContext aliases graph.ActiveContext so callers of this package don't
// need to import graph directly for the common case.
type ActiveContext = graph.ActiveContext

// contextKey is the cache key for resolved (tenant_id, user_id) lookups.
type contextKey struct {
	TenantID string
	UserID   string
}

// Resolver resolves and lazily creates GraphSpaces and branches. It caches
// resolutions in an in-process TTL cache; the graph itself remains the
// source of truth, so a cache miss degrades to an extra round trip, never
// to incorrect behavior.
type Resolver struct {
	store *graph.Store
	log   zerolog.Logger
	cache *cache.TTLCache[contextKey, ActiveContext]
}

// NewResolver constructs a Resolver backed by store, caching resolved
// contexts for ttl.
func NewResolver(store *graph.Store, log zerolog.Logger, ttlCache *cache.TTLCache[contextKey, ActiveContext]) *Resolver {
	return &Resolver{store: store, log: log, cache: ttlCache}
}

// NewCache builds the TTL cache NewResolver expects. contextKey is
// unexported (callers never need to construct one directly), so this is
// the only way for code outside the package to wire the resolver's cache.
func NewCache(ttl time.Duration, maxEntries int) *cache.TTLCache[contextKey, ActiveContext] {
	return cache.New[contextKey, ActiveContext](ttl, maxEntries)
}

// ResolveActiveContext implements resolve_active_context(tenant_id, user_id)
// → (graph_id, branch_id) from §4.1. It lazily creates a GraphSpace and the
// "main" branch on first use for the tenant/user pair. Missing tenant is
// AuthFailure, fatal at the boundary (§4.1, §7).
func (r *Resolver) ResolveActiveContext(ctx context.Context, tenantID, userID string) (ActiveContext, error) {
	if tenantID == "" {
		return ActiveContext{}, apperr.NewAuthFailure("missing tenant_id")
	}
	if userID == "" {
		return ActiveContext{}, apperr.NewAuthFailure("missing user_id")
	}

	key := contextKey{TenantID: tenantID, UserID: userID}
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			return cached, nil
		}
	}

	sess := r.store.NewSession(ctx, true)
	defer sess.Close(ctx)

	var graphID string
	rec, err := sess.Single(ctx, `
MATCH (gs:GraphSpace {tenant_id: $tenant_id, owner_user_id: $user_id})
RETURN gs.graph_id AS graph_id
`, map[string]any{"tenant_id": tenantID, "user_id": userID})
	if err != nil {
		graphID = "graph_" + uuid.New().String()
		if err := r.createGraphSpaceAndMainBranch(ctx, sess, graphID, tenantID, userID); err != nil {
			return ActiveContext{}, fmt.Errorf("scoping: create graph space: %w", err)
		}
	} else {
		v, ok := rec.Get("graph_id")
		if !ok {
			return ActiveContext{}, apperr.NewFatal("scoping: graph_id missing from record", nil)
		}
		graphID, _ = v.(string)
	}

	activeCtx := ActiveContext{GraphID: graphID, BranchID: graph.MainBranch, TenantID: tenantID}
	if r.cache != nil {
		r.cache.Set(key, activeCtx)
	}
	return activeCtx, nil
}

func (r *Resolver) createGraphSpaceAndMainBranch(ctx context.Context, sess *graph.Session, graphID, tenantID, userID string) error {
	refreshDefaults, err := json.Marshal(graph.DefaultRefreshConfig())
	if err != nil {
		return fmt.Errorf("scoping: encode refresh defaults: %w", err)
	}
	_, err = sess.Run(ctx, `
MERGE (gs:GraphSpace {graph_id: $graph_id})
ON CREATE SET gs.tenant_id = $tenant_id, gs.owner_user_id = $user_id, gs.name = $name, gs.created_at = datetime(), gs.refresh_defaults_json = $refresh_defaults_json
MERGE (b:Branch {graph_id: $graph_id, branch_id: $branch_id})
ON CREATE SET b.created_at = datetime()
`, map[string]any{
		"graph_id":              graphID,
		"tenant_id":             tenantID,
		"user_id":               userID,
		"name":                  "default",
		"branch_id":             graph.MainBranch,
		"refresh_defaults_json": string(refreshDefaults),
	})
	return err
}

// ResolveBranch applies the Open-Question resolution from §9: when an
// explicit branchID is supplied and it disagrees with the active context's
// branch, the explicit value wins and a warning is logged.
func ResolveBranch(log zerolog.Logger, active ActiveContext, explicitBranchID string) string {
	if explicitBranchID == "" {
		return active.BranchID
	}
	if explicitBranchID != active.BranchID {
		log.Warn().
			Str("active_branch", active.BranchID).
			Str("explicit_branch", explicitBranchID).
			Msg("explicit branch_id overrides active context branch_id")
	}
	return explicitBranchID
}

// ReadFilter is the Cypher fragment every read query injects, matching the
// three clauses named in §4.1: tenant match (via the GraphSpace join, done
// by the caller), branch membership, and merged exclusion. nodeAlias is the
// Cypher variable bound to the node being filtered.
func ReadFilter(nodeAlias string) string {
	return fmt.Sprintf(
		"$branch_id IN %s.on_branches AND coalesce(%s.is_merged, false) = false",
		nodeAlias, nodeAlias,
	)
}

// WriteOnBranches returns the on_branches value to set on create/merge: the
// active branch, added if not already present. Call sites pass the existing
// slice (nil for create).
func WriteOnBranches(existing []string, activeBranch string) []string {
	for _, b := range existing {
		if b == activeBranch {
			return existing
		}
	}
	return append(append([]string{}, existing...), activeBranch)
}
