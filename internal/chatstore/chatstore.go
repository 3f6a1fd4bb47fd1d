// Package chatstore implements the relational store named in §6's Persisted
// state layout: voice sessions, notes digests/sections/entries, and chat
// history/usage counters that layer on top of the graph core. The graph
// database holds all semantic data; everything here is ordinary relational
// bookkeeping, so it is built on pgx/pgxpool rather than the graph driver.
package chatstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noemagraph/retrieval-core/internal/apperr"
	"github.com/noemagraph/retrieval-core/internal/config"
)

// Store wraps a pgxpool.Pool for the relational tables named in §6.
type Store struct {
	pool *pgxpool.Pool
}

// New dials cfg.DSN and verifies connectivity with a ping.
func New(ctx context.Context, cfg config.RelationalConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, apperr.NewFatal("chatstore: parse dsn", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("chatstore: connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.NewExternalProviderFailure("chatstore: ping", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// VoiceSession mirrors the voice_sessions table from §6.
type VoiceSession struct {
	ID        string
	UserID    string
	TenantID  string
	GraphID   string
	BranchID  string
	StartedAt time.Time
	EndedAt   *time.Time
	Metadata  map[string]any
}

// StartVoiceSession inserts a new row and returns its generated id.
func (s *Store) StartVoiceSession(ctx context.Context, userID, tenantID, graphID, branchID string, metadata map[string]any) (string, error) {
	id := "voice_" + uuid.New().String()
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", apperr.NewFatal("chatstore: marshal metadata", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO voice_sessions (id, user_id, tenant_id, graph_id, branch_id, started_at, metadata)
VALUES ($1, $2, $3, $4, $5, now(), $6)
`, id, userID, tenantID, graphID, branchID, meta)
	if err != nil {
		return "", apperr.NewExternalProviderFailure("chatstore: start voice session", err)
	}
	return id, nil
}

// EndVoiceSession stamps ended_at for a session.
func (s *Store) EndVoiceSession(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE voice_sessions SET ended_at = now() WHERE id = $1`, id)
	if err != nil {
		return apperr.NewExternalProviderFailure("chatstore: end voice session", err)
	}
	return nil
}

// NotesDigest mirrors one row of notes_digests.
type NotesDigest struct {
	ID        string
	GraphID   string
	BranchID  string
	Title     string
	CreatedAt time.Time
}

// NotesSection mirrors one row of notes_sections, children of a digest.
type NotesSection struct {
	ID       string
	DigestID string
	Title    string
	Position int
}

// NotesEntry mirrors notes_entries(..., related_node_ids text[]) from §6.
type NotesEntry struct {
	ID              string
	SectionID       string
	Text            string
	RelatedNodeIDs  []string
	Position        int
}

// CreateDigest inserts a digest row and returns its id.
func (s *Store) CreateDigest(ctx context.Context, graphID, branchID, title string) (string, error) {
	id := "digest_" + uuid.New().String()
	_, err := s.pool.Exec(ctx, `
INSERT INTO notes_digests (id, graph_id, branch_id, title, created_at)
VALUES ($1, $2, $3, $4, now())
`, id, graphID, branchID, title)
	if err != nil {
		return "", apperr.NewExternalProviderFailure("chatstore: create digest", err)
	}
	return id, nil
}

// AddSection inserts a section under digestID.
func (s *Store) AddSection(ctx context.Context, digestID, title string, position int) (string, error) {
	id := "section_" + uuid.New().String()
	_, err := s.pool.Exec(ctx, `
INSERT INTO notes_sections (id, digest_id, title, position)
VALUES ($1, $2, $3, $4)
`, id, digestID, title, position)
	if err != nil {
		return "", apperr.NewExternalProviderFailure("chatstore: add section", err)
	}
	return id, nil
}

// AddEntry inserts a notes_entries row, linking it to the node_ids it
// references so notes can be cross-referenced from the graph side.
func (s *Store) AddEntry(ctx context.Context, sectionID, text string, relatedNodeIDs []string, position int) (string, error) {
	id := "entry_" + uuid.New().String()
	_, err := s.pool.Exec(ctx, `
INSERT INTO notes_entries (id, section_id, text, related_node_ids, position)
VALUES ($1, $2, $3, $4, $5)
`, id, sectionID, text, relatedNodeIDs, position)
	if err != nil {
		return "", apperr.NewExternalProviderFailure("chatstore: add entry", err)
	}
	return id, nil
}

// ChatMessage is one turn of persisted chat history.
type ChatMessage struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// AppendChatMessage persists one chat turn.
func (s *Store) AppendChatMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO chat_messages (id, session_id, role, content, created_at)
VALUES ($1, $2, $3, $4, now())
`, "msg_"+uuid.New().String(), sessionID, role, content)
	if err != nil {
		return apperr.NewExternalProviderFailure("chatstore: append chat message", err)
	}
	return nil
}

// ChatHistory returns the most recent limit messages for a session, ordered
// chronologically ascending.
func (s *Store) ChatHistory(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, role, content, created_at FROM (
  SELECT id, session_id, role, content, created_at
  FROM chat_messages
  WHERE session_id = $1
  ORDER BY created_at DESC
  LIMIT $2
) recent ORDER BY created_at ASC
`, sessionID, limit)
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("chatstore: chat history", err)
	}
	defer rows.Close()
	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, apperr.NewFatal("chatstore: scan chat message", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// IncrementUsageCounter bumps a per-tenant usage counter (e.g. retrieval
// calls, ingestion runs) for rate limiting / billing.
func (s *Store) IncrementUsageCounter(ctx context.Context, tenantID, counterName string, by int) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO usage_counters (tenant_id, counter_name, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (tenant_id, counter_name)
DO UPDATE SET value = usage_counters.value + $3, updated_at = now()
RETURNING value
`, tenantID, counterName, by).Scan(&total)
	if err != nil {
		return 0, apperr.NewExternalProviderFailure("chatstore: increment usage counter", err)
	}
	return total, nil
}
