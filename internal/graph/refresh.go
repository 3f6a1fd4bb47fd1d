package graph

import (
	"context"
	"encoding/json"
	"time"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

// RefreshConfig is the GraphSpace.refresh_defaults attribute from §3: a
// workspace-level policy for how often previously-ingested content should
// be treated as stale and re-fetched. Stored on the GraphSpace node as
// refresh_defaults_json.
type RefreshConfig struct {
	Enabled    bool     `json:"enabled"`
	TTLSeconds int      `json:"ttl_seconds"`
	Triggers   []string `json:"triggers"`
}

// RefreshState is the workspace's last-refresh bookkeeping, stored
// alongside RefreshConfig as refresh_state_json.
type RefreshState struct {
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastStatus    string     `json:"last_status,omitempty"`
}

const (
	defaultRefreshTTLSeconds = 3600
	minRefreshTTLSeconds     = 30
	maxRefreshTTLSeconds     = 7 * 24 * 3600
)

// DefaultRefreshConfig is the policy a GraphSpace starts with: refresh
// disabled, manual trigger only, one-hour TTL once enabled.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{Enabled: false, TTLSeconds: defaultRefreshTTLSeconds, Triggers: []string{"manual"}}
}

// NormalizeRefreshConfig clamps TTLSeconds to [30s, 7d] and fills in a
// default trigger list, matching the bounds the original refresh-bindings
// tooling enforced.
func NormalizeRefreshConfig(cfg RefreshConfig) RefreshConfig {
	if cfg.TTLSeconds <= 0 {
		cfg.TTLSeconds = defaultRefreshTTLSeconds
	}
	if cfg.TTLSeconds < minRefreshTTLSeconds {
		cfg.TTLSeconds = minRefreshTTLSeconds
	}
	if cfg.TTLSeconds > maxRefreshTTLSeconds {
		cfg.TTLSeconds = maxRefreshTTLSeconds
	}
	if len(cfg.Triggers) == 0 {
		cfg.Triggers = []string{"manual"}
	}
	return cfg
}

// IsDue reports whether the workspace's refresh window has elapsed. A
// disabled config is never due; a workspace that has never succeeded is due
// immediately once enabled.
func (cfg RefreshConfig) IsDue(state RefreshState, now time.Time) bool {
	if !cfg.Enabled {
		return false
	}
	if state.LastSuccessAt == nil {
		return true
	}
	return now.Sub(*state.LastSuccessAt) >= time.Duration(cfg.TTLSeconds)*time.Second
}

func decodeRefreshConfig(raw any) RefreshConfig {
	cfg := DefaultRefreshConfig()
	if s, ok := raw.(string); ok && s != "" {
		_ = json.Unmarshal([]byte(s), &cfg)
	}
	return NormalizeRefreshConfig(cfg)
}

func decodeRefreshState(raw any) RefreshState {
	var state RefreshState
	if s, ok := raw.(string); ok && s != "" {
		_ = json.Unmarshal([]byte(s), &state)
	}
	return state
}

// GetGraphRefreshDefaults reads a GraphSpace's refresh policy (§3).
func (s *Store) GetGraphRefreshDefaults(ctx context.Context, sess *Session, scope ActiveContext) (RefreshConfig, error) {
	rec, err := sess.Single(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
RETURN gs.refresh_defaults_json AS refresh_defaults_json
`, map[string]any{"graph_id": scope.GraphID, "tenant_id": scope.TenantID})
	if err != nil {
		return RefreshConfig{}, apperr.NewNotFound("graph space not found")
	}
	raw, _ := rec.Get("refresh_defaults_json")
	return decodeRefreshConfig(raw), nil
}

// SetGraphRefreshDefaults updates a GraphSpace's refresh policy.
func (s *Store) SetGraphRefreshDefaults(ctx context.Context, sess *Session, scope ActiveContext, cfg RefreshConfig) error {
	cfg = NormalizeRefreshConfig(cfg)
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return apperr.NewFatal("encode refresh defaults", err)
	}
	if _, err := sess.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
SET gs.refresh_defaults_json = $refresh_defaults_json
`, map[string]any{
		"graph_id":              scope.GraphID,
		"tenant_id":             scope.TenantID,
		"refresh_defaults_json": string(encoded),
	}); err != nil {
		return apperr.NewExternalProviderFailure("set refresh defaults", err)
	}
	return nil
}

// RecordGraphRefreshSuccess marks now as the GraphSpace's last successful
// refresh run, resetting its TTL window.
func (s *Store) RecordGraphRefreshSuccess(ctx context.Context, sess *Session, scope ActiveContext, now time.Time) error {
	state := RefreshState{LastSuccessAt: &now, LastStatus: "OK"}
	encoded, err := json.Marshal(state)
	if err != nil {
		return apperr.NewFatal("encode refresh state", err)
	}
	if _, err := sess.Run(ctx, `
MATCH (gs:GraphSpace {graph_id: $graph_id, tenant_id: $tenant_id})
SET gs.refresh_state_json = $refresh_state_json
`, map[string]any{
		"graph_id":           scope.GraphID,
		"tenant_id":          scope.TenantID,
		"refresh_state_json": string(encoded),
	}); err != nil {
		return apperr.NewExternalProviderFailure("set refresh state", err)
	}
	return nil
}

// ListDueGraphSpaces scans every GraphSpace and returns the graph_ids whose
// refresh window has elapsed, for the scheduled maintenance pass (§9 Q3).
func (s *Store) ListDueGraphSpaces(ctx context.Context, sess *Session, now time.Time) ([]string, error) {
	recs, err := sess.Run(ctx, `
MATCH (gs:GraphSpace)
RETURN gs.graph_id AS graph_id,
       gs.refresh_defaults_json AS refresh_defaults_json,
       gs.refresh_state_json AS refresh_state_json
`, nil)
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("list graph spaces", err)
	}

	var due []string
	for _, rec := range recs {
		defaultsRaw, _ := rec.Get("refresh_defaults_json")
		stateRaw, _ := rec.Get("refresh_state_json")
		cfg := decodeRefreshConfig(defaultsRaw)
		state := decodeRefreshState(stateRaw)
		if !cfg.IsDue(state, now) {
			continue
		}
		if graphIDVal, ok := rec.Get("graph_id"); ok {
			if graphID, ok := graphIDVal.(string); ok {
				due = append(due, graphID)
			}
		}
	}
	return due, nil
}
