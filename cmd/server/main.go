// Command server runs the retrieval/ingestion HTTP surface (§6).
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/noemagraph/retrieval-core/internal/config"
	"github.com/noemagraph/retrieval-core/internal/embedding"
	"github.com/noemagraph/retrieval-core/internal/graph"
	"github.com/noemagraph/retrieval-core/internal/httpapi"
	"github.com/noemagraph/retrieval-core/internal/ingestion"
	"github.com/noemagraph/retrieval-core/internal/llm"
	"github.com/noemagraph/retrieval-core/internal/llm/anthropic"
	"github.com/noemagraph/retrieval-core/internal/llm/google"
	"github.com/noemagraph/retrieval-core/internal/llm/openai"
	"github.com/noemagraph/retrieval-core/internal/logging"
	"github.com/noemagraph/retrieval-core/internal/objectstore"
	"github.com/noemagraph/retrieval-core/internal/retrieval"
	"github.com/noemagraph/retrieval-core/internal/scheduling"
	"github.com/noemagraph/retrieval-core/internal/scoping"
	"github.com/noemagraph/retrieval-core/internal/telemetry"
)

const (
	queueDepthCheckInterval   = 30 * time.Second
	graphRefreshCheckInterval = 15 * time.Minute
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
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

	router := buildRouter(cfg.LLM)
	embedder := embedding.NewClient(cfg.Embedding)

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, logging.Component(log, "telemetry"))
	if err != nil {
		log.Warn().Err(err).Msg("telemetry setup failed, continuing without it")
		tel = &telemetry.Providers{}
	}
	defer tel.Shutdown(context.Background())

	resolverCache := scoping.NewCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	resolver := scoping.NewResolver(store, logging.Component(log, "scoping"), resolverCache)

	engine := &retrieval.Engine{
		Store:    store,
		Embedder: embedder,
		Log:      logging.Component(log, "retrieval"),
	}
	if tel.Producer != nil {
		engine.Telemetry = tel.Producer
	}
	dispatcher := &retrieval.Dispatcher{
		Engine: engine,
		Router: router,
		Log:    logging.Component(log, "retrieval"),
	}

	var queue *ingestion.Queue
	if cfg.Ingestion.RedisAddr != "" {
		queue, err = ingestion.NewQueue(cfg.Ingestion.RedisAddr, cfg.Ingestion.RedisQueueKey, int64(cfg.Ingestion.QueueCapacity))
		if err != nil {
			log.Warn().Err(err).Msg("ingestion queue unavailable, /ingest/lecture will run synchronously")
			queue = nil
		} else {
			defer queue.Close()
		}
	}

	var objects objectstore.ObjectStore
	if cfg.Artifacts.Bucket != "" {
		objects, err = objectstore.NewS3Store(ctx, cfg.Artifacts)
		if err != nil {
			log.Warn().Err(err).Msg("s3 artifact store unavailable, falling back to in-memory store")
			objects = objectstore.NewMemoryStore()
		}
	} else {
		objects = objectstore.NewMemoryStore()
	}

	maintenanceTasks := []scheduling.ScheduledTask{
		{
			Name:     "graph_refresh_check",
			Interval: graphRefreshCheckInterval,
			Run: func(ctx context.Context) error {
				sess := store.NewSession(ctx, false)
				defer sess.Close(ctx)
				due, err := store.ListDueGraphSpaces(ctx, sess, time.Now())
				if err != nil {
					return err
				}
				logging.Component(log, "scheduling").Info().Int("count", len(due)).Strs("graph_ids", due).Msg("graph spaces due for refresh")
				return nil
			},
		},
	}
	if queue != nil {
		maintenanceTasks = append(maintenanceTasks, scheduling.ScheduledTask{
			Name:     "ingestion_queue_depth",
			Interval: queueDepthCheckInterval,
			Run: func(ctx context.Context) error {
				depth, err := queue.Depth(ctx)
				if err != nil {
					return err
				}
				logging.Component(log, "scheduling").Info().Int64("depth", depth).Msg("ingestion queue depth")
				return nil
			},
		})
	}
	scheduling.New(logging.Component(log, "scheduling"), maintenanceTasks...).Start(ctx)

	srv := httpapi.New(store, resolver, dispatcher, queue, embedder, router, objects, cfg.HTTP, cfg.Cache, logging.Component(log, "httpapi"))

	handler := telemetry.Middleware("retrieval-core", srv)
	realServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("retrieval-core http server starting")
		if err := realServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = realServer.Shutdown(shutdownCtx)
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
