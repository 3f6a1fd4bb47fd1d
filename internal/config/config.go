// Package config loads runtime configuration for the retrieval core from a
// YAML file with environment variable overlay, following the layered
// approach (file defaults, then env overrides, then validation) used
// throughout the rest of the stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// S3SSEConfig configures server-side encryption for object storage.
type S3SSEConfig struct {
	Mode     string `yaml:"mode"` // "", "sse-s3", "sse-kms"
	KMSKeyID string `yaml:"kms_key_id"`
}

// S3Config configures the Artifact object store.
type S3Config struct {
	Bucket                string      `yaml:"bucket"`
	Region                string      `yaml:"region"`
	Endpoint              string      `yaml:"endpoint"`
	Prefix                string      `yaml:"prefix"`
	AccessKey             string      `yaml:"access_key"`
	SecretKey             string      `yaml:"secret_key"`
	UsePathStyle          bool        `yaml:"use_path_style"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify"`
	SSE                   S3SSEConfig `yaml:"sse"`
}

// GraphConfig configures the graph database connection.
type GraphConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// MaxPoolSize is loaded but not passed to graph.NewStore, so the driver
	// runs with its default connection-pool size.
	MaxPoolSize int `yaml:"max_pool_size"`
}

// RelationalConfig configures the chat/usage relational store (component K).
type RelationalConfig struct {
	DSN         string `yaml:"dsn"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
}

// EmbeddingConfig configures the external embedding provider.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Path       string        `yaml:"path"`
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	APIKey     string        `yaml:"api_key"`
	AuthHeader string        `yaml:"auth_header"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ModelRouteConfig pins a concrete provider+model to one task_type partition
// of the ModelRouter (extract, synthesis, voice, chat_fast).
type ModelRouteConfig struct {
	Provider string `yaml:"provider"` // "anthropic" | "openai" | "google"
	Model    string `yaml:"model"`
}

// LLMConfig configures the ModelRouter's provider set and per-task routing.
type LLMConfig struct {
	AnthropicAPIKey string                      `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string                      `yaml:"openai_api_key"`
	GoogleAPIKey    string                      `yaml:"google_api_key"`
	Routes          map[string]ModelRouteConfig `yaml:"routes"`
	CallTimeout     time.Duration               `yaml:"call_timeout"`
}

// CacheConfig bounds the process-wide in-process TTL caches: the scoping
// resolver's cache (TTL) and the graphrag-context cache (ContextCacheTTL).
// Community and concept searches are not cached. Persistent caching beyond
// this is explicitly out of scope.
type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	MaxEntries      int           `yaml:"max_entries"`
	ContextCacheTTL time.Duration `yaml:"context_cache_ttl"`
}

// IngestionConfig bounds ingestion concurrency and backpressure.
type IngestionConfig struct {
	WorkerPoolSize int `yaml:"worker_pool_size"`
	QueueCapacity  int `yaml:"queue_capacity"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisQueueKey  string `yaml:"redis_queue_key"`
}

// RetrievalConfig carries the tunables named in §4.8/§4.9 of the retrieval
// engine: community fanout, claim caps, MMR lambda, proposed-edge threshold.
type RetrievalConfig struct {
	CommunityK             int     `yaml:"community_k"`
	ClaimsPerCommunity     int     `yaml:"claims_per_community"`
	MMRLambda              float64 `yaml:"mmr_lambda"`
	ProposedEdgeThreshold  float64 `yaml:"proposed_edge_threshold"`
	MaxPathQueriesPerCall  int     `yaml:"max_path_queries_per_call"`
}

// TelemetryConfig configures the OpenTelemetry exporter plus the kafka/
// clickhouse telemetry sink used for retrieval/ingestion event logging.
type TelemetryConfig struct {
	OTLPEndpoint      string `yaml:"otlp_endpoint"`
	ServiceName       string `yaml:"service_name"`
	KafkaBrokers      []string `yaml:"kafka_brokers"`
	KafkaTopic        string `yaml:"kafka_topic"`
	ClickHouseDSN     string `yaml:"clickhouse_dsn"`
}

// HTTPConfig configures the retrieval/ingestion HTTP surface.
type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Config is the fully resolved runtime configuration for the core.
type Config struct {
	Env        string           `yaml:"env"`
	HTTP       HTTPConfig       `yaml:"http"`
	Graph      GraphConfig      `yaml:"graph"`
	Relational RelationalConfig `yaml:"relational"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	LLM        LLMConfig        `yaml:"llm"`
	Cache      CacheConfig      `yaml:"cache"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Artifacts  S3Config         `yaml:"artifacts"`
}

// Default returns a Config populated with the defaults named in the spec
// (community_k=5, claims_per_community=12, mmr_lambda=0.70, proposed edge
// threshold 0.6, cache TTL 5m, request timeout 30s, worker pool 5).
func Default() Config {
	return Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:           ":8080",
			RequestTimeout: 30 * time.Second,
		},
		Graph: GraphConfig{
			Database:    "neo4j",
			MaxPoolSize: 10,
		},
		Relational: RelationalConfig{
			MaxConns: 10,
			MinConns: 1,
		},
		Embedding: EmbeddingConfig{
			Dimension: 1536,
			Timeout:   30 * time.Second,
		},
		LLM: LLMConfig{
			CallTimeout: 60 * time.Second,
			Routes: map[string]ModelRouteConfig{
				"extract":   {Provider: "anthropic", Model: "claude-sonnet-4-5"},
				"synthesis": {Provider: "anthropic", Model: "claude-opus-4-1"},
				"voice":     {Provider: "openai", Model: "gpt-4o-mini"},
				"chat_fast": {Provider: "openai", Model: "gpt-4o-mini"},
			},
		},
		Cache: CacheConfig{
			TTL:             5 * time.Minute,
			MaxEntries:      10_000,
			ContextCacheTTL: 5 * time.Minute,
		},
		Ingestion: IngestionConfig{
			WorkerPoolSize: 5,
			QueueCapacity:  256,
			RedisQueueKey:  "ingestion:queue",
		},
		Retrieval: RetrievalConfig{
			CommunityK:            5,
			ClaimsPerCommunity:    12,
			MMRLambda:             0.70,
			ProposedEdgeThreshold: 0.6,
			MaxPathQueriesPerCall: 10,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "retrieval-core",
			KafkaTopic:  "retrieval-core.events",
		},
	}
}

// Load reads defaults, overlays a YAML file at path (if non-empty and
// present), overlays a .env file in the working directory (if present), then
// applies environment variable overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	// Best-effort: a missing .env is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAPH_DB_URI"); v != "" {
		cfg.Graph.URI = v
	}
	if v := os.Getenv("GRAPH_DB_USERNAME"); v != "" {
		cfg.Graph.Username = v
	}
	if v := os.Getenv("GRAPH_DB_PASSWORD"); v != "" {
		cfg.Graph.Password = v
	}
	if v := os.Getenv("RELATIONAL_DSN"); v != "" {
		cfg.Relational.DSN = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimension = n
		}
	}
	if v := os.Getenv("MODEL_API_KEY"); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.LLM.GoogleAPIKey = v
	}
	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.TTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PROPOSED_EDGE_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.ProposedEdgeThreshold = f
		}
	}
	if v := os.Getenv("REQUEST_WALL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RequestTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Ingestion.RedisAddr = v
	}
	if v := os.Getenv("OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.Telemetry.ClickHouseDSN = v
	}
	if v := os.Getenv("ARTIFACTS_S3_BUCKET"); v != "" {
		cfg.Artifacts.Bucket = v
	}
}

// Validate rejects configuration that would fail at the boundary anyway,
// per §9's normalization guidance for boundary-level input validation.
func (c Config) Validate() error {
	if c.Graph.URI == "" {
		return fmt.Errorf("config: graph.uri (GRAPH_DB_URI) is required")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("config: embedding.dimension must be positive")
	}
	if c.Retrieval.ProposedEdgeThreshold < 0 || c.Retrieval.ProposedEdgeThreshold > 1 {
		return fmt.Errorf("config: retrieval.proposed_edge_threshold must be in [0,1]")
	}
	if c.Retrieval.MMRLambda < 0 || c.Retrieval.MMRLambda > 1 {
		return fmt.Errorf("config: retrieval.mmr_lambda must be in [0,1]")
	}
	if c.Ingestion.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: ingestion.worker_pool_size must be positive")
	}
	return nil
}
