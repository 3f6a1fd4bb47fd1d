// Command ingest runs the background ingestion worker (component J, §4.11,
// §5): it drains jobs queued by POST /ingest/lecture and any other producer
// that enqueues onto the same Redis list, running each through
// ingestion.RunIngestion. It can also ingest a single local file directly,
// without a queue, for local testing.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/noemagraph/retrieval-core/internal/config"
	"github.com/noemagraph/retrieval-core/internal/embedding"
	"github.com/noemagraph/retrieval-core/internal/graph"
	"github.com/noemagraph/retrieval-core/internal/ingestion"
	"github.com/noemagraph/retrieval-core/internal/llm"
	"github.com/noemagraph/retrieval-core/internal/llm/anthropic"
	"github.com/noemagraph/retrieval-core/internal/llm/google"
	"github.com/noemagraph/retrieval-core/internal/llm/openai"
	"github.com/noemagraph/retrieval-core/internal/logging"
)

// dequeueTimeout bounds how long each worker blocks on an empty queue
// before checking for shutdown.
const dequeueTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	filePath := flag.String("file", "", "ingest a single local file and exit, bypassing the queue")
	graphID := flag.String("graph-id", "", "graph_id for -file mode")
	branchID := flag.String("branch-id", "main", "branch_id for -file mode")
	tenantID := flag.String("tenant-id", "", "tenant_id for -file mode")
	sourceLabel := flag.String("source-label", "", "human-readable source label for -file mode")
	domain := flag.String("domain", "", "extraction domain hint for -file mode")
	workers := flag.Int("workers", 5, "number of concurrent ingestion workers draining the queue")
	flag.Parse()

	log := logging.New(logging.Options{Level: "info", Pretty: false})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := graph.NewStore(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to graph database")
	}
	defer store.Close(ctx)

	deps := ingestion.Deps{
		Store:    store,
		Router:   buildRouter(cfg.LLM),
		Embedder: embedding.NewClient(cfg.Embedding),
		Log:      logging.Component(log, "ingestion"),
	}

	if *filePath != "" {
		runFileMode(ctx, deps, *filePath, *graphID, *branchID, *tenantID, *sourceLabel, *domain, log)
		return
	}

	if cfg.Ingestion.RedisAddr == "" {
		log.Fatal().Msg("ingestion.redis_addr is required to run the queue worker; pass -file to ingest a single document instead")
	}
	queue, err := ingestion.NewQueue(cfg.Ingestion.RedisAddr, cfg.Ingestion.RedisQueueKey, int64(cfg.Ingestion.QueueCapacity))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ingestion queue")
	}
	defer queue.Close()

	if *workers <= 0 {
		*workers = 1
	}
	log.Info().Int("workers", *workers).Str("queue_key", cfg.Ingestion.RedisQueueKey).Msg("ingestion worker pool starting")

	done := make(chan struct{})
	for i := 0; i < *workers; i++ {
		go func(workerID int) {
			workerLoop(ctx, deps, queue, logging.Component(log, "ingestion").With().Int("worker_id", workerID).Logger())
			done <- struct{}{}
		}(i)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down ingestion workers")
	for i := 0; i < *workers; i++ {
		<-done
	}
}

func workerLoop(ctx context.Context, deps ingestion.Deps, queue *ingestion.Queue, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("dequeue failed, retrying")
			continue
		}
		if job == nil {
			continue // timed out waiting, loop back and check ctx
		}

		log.Info().Str("run_id", job.RunID).Str("source_id", job.SourceID).Msg("ingestion job starting")
		result, err := ingestion.RunIngestion(ctx, deps, ingestion.RunInput{
			Scope:       graph.ActiveContext{GraphID: job.GraphID, BranchID: job.BranchID, TenantID: job.TenantID},
			SourceID:    job.SourceID,
			SourceType:  job.SourceType,
			SourceLabel: job.SourceLabel,
			Domain:      job.Domain,
			Text:        job.Text,
			URLOrSource: job.URLOrSource,
			ActorID:     job.ActorID,
		})
		if err != nil {
			log.Error().Err(err).Str("run_id", job.RunID).Msg("ingestion job failed")
			continue
		}
		log.Info().
			Str("run_id", result.RunID).
			Str("status", string(result.Status)).
			Int("concepts", result.ConceptsUpserted).
			Int("claims", result.ClaimsUpserted).
			Msg("ingestion job completed")
	}
}

func runFileMode(ctx context.Context, deps ingestion.Deps, filePath, graphID, branchID, tenantID, sourceLabel, domain string, log zerolog.Logger) {
	if graphID == "" {
		log.Fatal().Msg("-graph-id is required in -file mode")
	}
	text, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Str("file", filePath).Msg("failed to read file")
	}
	if sourceLabel == "" {
		sourceLabel = filePath
	}
	result, err := ingestion.RunIngestion(ctx, deps, ingestion.RunInput{
		Scope:       graph.ActiveContext{GraphID: graphID, BranchID: branchID, TenantID: tenantID},
		SourceID:    "file_" + filePath,
		SourceType:  "document",
		SourceLabel: sourceLabel,
		Domain:      domain,
		Text:        string(text),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("ingestion failed")
	}
	log.Info().
		Str("run_id", result.RunID).
		Str("status", string(result.Status)).
		Int("concepts", result.ConceptsUpserted).
		Int("relationships", result.RelationshipsUpserted).
		Int("claims", result.ClaimsUpserted).
		Int("chunks", result.ChunksProcessed).
		Msg("file ingestion completed")
}

func buildRouter(cfg config.LLMConfig) *llm.Router {
	routes := make(map[llm.TaskType]llm.Route, len(cfg.Routes))
	for taskType, route := range cfg.Routes {
		var provider llm.Provider
		switch route.Provider {
		case "anthropic":
			provider = anthropic.New(cfg.AnthropicAPIKey)
		case "openai":
			provider = openai.New(cfg.OpenAIAPIKey)
		case "google":
			if p, err := google.New(context.Background(), cfg.GoogleAPIKey); err == nil {
				provider = p
			}
		}
		if provider == nil {
			continue
		}
		routes[llm.TaskType(taskType)] = llm.Route{Provider: provider, Model: route.Model}
	}
	return llm.NewRouter(routes)
}
