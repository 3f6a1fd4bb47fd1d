package chatstore

import (
	"context"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

const schema = `
CREATE TABLE IF NOT EXISTS voice_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	graph_id TEXT NOT NULL,
	branch_id TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	metadata JSONB
);

CREATE TABLE IF NOT EXISTS notes_digests (
	id TEXT PRIMARY KEY,
	graph_id TEXT NOT NULL,
	branch_id TEXT NOT NULL,
	title TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS notes_sections (
	id TEXT PRIMARY KEY,
	digest_id TEXT NOT NULL REFERENCES notes_digests(id),
	title TEXT NOT NULL,
	position INT NOT NULL
);

CREATE TABLE IF NOT EXISTS notes_entries (
	id TEXT PRIMARY KEY,
	section_id TEXT NOT NULL REFERENCES notes_sections(id),
	text TEXT NOT NULL,
	related_node_ids TEXT[],
	position INT NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS usage_counters (
	tenant_id TEXT NOT NULL,
	counter_name TEXT NOT NULL,
	value BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, counter_name)
);
`

// Migrate applies the relational schema idempotently. There is no
// migration framework here — the table set is small and additive, so
// CREATE TABLE IF NOT EXISTS is enough; a growing schema would graduate to
// versioned migrations at that point.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return apperr.NewFatal("chatstore: migrate", err)
	}
	return nil
}
