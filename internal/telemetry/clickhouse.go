package telemetry

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/noemagraph/retrieval-core/internal/apperr"
	"github.com/noemagraph/retrieval-core/internal/retrieval"
)

// AnalyticsStore batch-inserts retrieval telemetry events into ClickHouse,
// the durable side of the kafka→clickhouse pipeline described in §5: the
// KafkaSink in telemetry.go is the producer every retrieval call writes through;
// this is the consumer-side sink a drain process (cmd/telemetry-consumer)
// writes into.
type AnalyticsStore struct {
	conn  clickhouse.Conn
	table string
}

const retrievalEventsSchema = `
CREATE TABLE IF NOT EXISTS retrieval_events (
	graph_id String,
	branch_id String,
	question String,
	community_ids Array(String),
	claim_ids Array(String),
	communities UInt32,
	claims UInt32,
	concepts UInt32,
	edges UInt32,
	emitted_at DateTime64(3)
) ENGINE = MergeTree
ORDER BY (graph_id, emitted_at)
`

// NewAnalyticsStore dials dsn and ensures the retrieval_events table exists.
func NewAnalyticsStore(ctx context.Context, dsn string) (*AnalyticsStore, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, apperr.NewFatal("telemetry: parse clickhouse dsn", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("telemetry: open clickhouse connection", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, apperr.NewExternalProviderFailure("telemetry: ping clickhouse", err)
	}
	if err := conn.Exec(ctx, retrievalEventsSchema); err != nil {
		return nil, apperr.NewFatal("telemetry: create retrieval_events table", err)
	}
	return &AnalyticsStore{conn: conn, table: "retrieval_events"}, nil
}

// InsertEvent appends one drained telemetry event.
func (a *AnalyticsStore) InsertEvent(ctx context.Context, event retrieval.TelemetryEvent) error {
	batch, err := a.conn.PrepareBatch(ctx, "INSERT INTO "+a.table)
	if err != nil {
		return apperr.NewExternalProviderFailure("telemetry: prepare batch", err)
	}
	if err := batch.Append(
		event.GraphID,
		event.BranchID,
		event.Question,
		event.CommunityIDs,
		event.ClaimIDs,
		uint32(event.Sizes.Communities),
		uint32(event.Sizes.Claims),
		uint32(event.Sizes.Concepts),
		uint32(event.Sizes.Edges),
		time.Now(),
	); err != nil {
		return apperr.NewFatal("telemetry: append row", err)
	}
	if err := batch.Send(); err != nil {
		return apperr.NewExternalProviderFailure("telemetry: send batch", err)
	}
	return nil
}

func (a *AnalyticsStore) Close() error {
	return a.conn.Close()
}
