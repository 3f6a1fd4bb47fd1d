// Command telemetry-consumer drains the retrieval telemetry Kafka topic
// (written by internal/telemetry.KafkaSink, one message per Retrieve call,
// §4.8's final paragraph) into ClickHouse for offline analysis, decoupling
// retrieval latency from the analytics sink per §5.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os/signal"
	"strings"
	"syscall"

	kafka "github.com/segmentio/kafka-go"

	"github.com/noemagraph/retrieval-core/internal/config"
	"github.com/noemagraph/retrieval-core/internal/logging"
	"github.com/noemagraph/retrieval-core/internal/retrieval"
	"github.com/noemagraph/retrieval-core/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	groupID := flag.String("group-id", "retrieval-telemetry-consumer", "kafka consumer group id")
	flag.Parse()

	log := logging.New(logging.Options{Level: "info", Pretty: false})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if len(cfg.Telemetry.KafkaBrokers) == 0 {
		log.Fatal().Msg("telemetry.kafka_brokers is required")
	}
	if strings.TrimSpace(cfg.Telemetry.ClickHouseDSN) == "" {
		log.Fatal().Msg("telemetry.clickhouse_dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := telemetry.NewAnalyticsStore(ctx, cfg.Telemetry.ClickHouseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to clickhouse")
	}
	defer store.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Telemetry.KafkaBrokers,
		GroupID: *groupID,
		Topic:   cfg.Telemetry.KafkaTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	log.Info().Strs("brokers", cfg.Telemetry.KafkaBrokers).Str("topic", cfg.Telemetry.KafkaTopic).Msg("telemetry consumer starting")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("shutting down")
				return
			}
			log.Warn().Err(err).Msg("fetch message failed")
			continue
		}

		var event retrieval.TelemetryEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Warn().Err(err).Msg("malformed telemetry event, skipping")
			_ = reader.CommitMessages(ctx, msg)
			continue
		}
		if err := store.InsertEvent(ctx, event); err != nil {
			log.Error().Err(err).Str("graph_id", event.GraphID).Msg("failed to insert telemetry event, will redeliver")
			continue // don't commit; redeliver on next fetch
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Warn().Err(err).Msg("commit failed")
		}
	}
}
