// Command mcp-retrieval exposes the retrieval engine (§4.8-§4.10) as an MCP
// server over stdio, so an agent host can call retrieve/evidence-subgraph
// directly as tools instead of going through the HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/noemagraph/retrieval-core/internal/config"
	"github.com/noemagraph/retrieval-core/internal/embedding"
	"github.com/noemagraph/retrieval-core/internal/graph"
	"github.com/noemagraph/retrieval-core/internal/llm"
	"github.com/noemagraph/retrieval-core/internal/llm/anthropic"
	"github.com/noemagraph/retrieval-core/internal/llm/google"
	"github.com/noemagraph/retrieval-core/internal/llm/openai"
	"github.com/noemagraph/retrieval-core/internal/logging"
	"github.com/noemagraph/retrieval-core/internal/retrieval"
	"github.com/noemagraph/retrieval-core/internal/scoping"
)

const serverInstructions = `retrieval-core exposes a GraphRAG memory core: claims, concepts, and
communities anchored in a versioned knowledge graph.

Tools:
- retrieve: dispatches a natural-language question through the intent
  router (§4.9) and returns the shaped context for that intent.
- evidence_subgraph: returns the concept/edge neighborhood supporting a
  given set of claim ids, independent of any retrieval call.

Every tool requires tenant_id and user_id to resolve which graph to read
from; an optional graph_id overrides the resolved graph.`

func main() {
	log := logging.New(logging.Options{Level: "info", Pretty: false})

	cfg, err := config.Load(envOr("RETRIEVAL_CONFIG", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	store, err := graph.NewStore(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to graph database")
	}
	defer store.Close(ctx)

	resolverCache := scoping.NewCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	resolver := scoping.NewResolver(store, logging.Component(log, "scoping"), resolverCache)

	engine := &retrieval.Engine{
		Store:    store,
		Embedder: embedding.NewClient(cfg.Embedding),
		Log:      logging.Component(log, "retrieval"),
	}
	dispatcher := &retrieval.Dispatcher{
		Engine: engine,
		Router: buildRouter(cfg.LLM),
		Log:    logging.Component(log, "retrieval"),
	}

	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "retrieval-core",
		Version: "1.0.0",
	}, &sdkmcp.ServerOptions{Instructions: serverInstructions})

	toolset := &toolServer{resolver: resolver, dispatcher: dispatcher, log: logging.Component(log, "mcp")}
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "retrieve",
		Description: "Dispatch a question through the intent-routed retrieval engine and return shaped context.",
	}, toolset.retrieve)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "evidence_subgraph",
		Description: "Return the concept/edge neighborhood supporting a set of claim ids.",
	}, toolset.evidenceSubgraph)

	log.Info().Msg("retrieval-core MCP server starting on stdio")
	if err := server.Run(ctx, &sdkmcp.StdioTransport{}); err != nil {
		log.Fatal().Err(err).Msg("mcp server stopped with error")
	}
}

type toolServer struct {
	resolver   *scoping.Resolver
	dispatcher *retrieval.Dispatcher
	log        zerolog.Logger
}

// retrieveInput mirrors POST /retrieve's request shape (§6) for MCP callers.
type retrieveInput struct {
	TenantID       string `json:"tenant_id" jsonschema:"the calling tenant"`
	UserID         string `json:"user_id" jsonschema:"the calling user"`
	GraphID        string `json:"graph_id,omitempty"`
	BranchID       string `json:"branch_id,omitempty"`
	Message        string `json:"message" jsonschema:"the natural-language question"`
	Intent         string `json:"intent,omitempty" jsonschema:"one of the nine named retrieval intents; left empty defaults to DEFINITION_OVERVIEW"`
	DetailLevel    string `json:"detail_level,omitempty" jsonschema:"'summary' or 'full', defaults to 'summary'"`
	SinceDays      int    `json:"since_days,omitempty"`
	FocusConceptID string `json:"focus_concept_id,omitempty"`
}

type retrieveOutput struct {
	Intent string             `json:"intent"`
	Result *retrieval.PlanResult `json:"result"`
}

func (t *toolServer) retrieve(ctx context.Context, req *sdkmcp.CallToolRequest, in retrieveInput) (*sdkmcp.CallToolResult, retrieveOutput, error) {
	active, err := t.resolver.ResolveActiveContext(ctx, in.TenantID, in.UserID)
	if err != nil {
		return nil, retrieveOutput{}, err
	}
	if in.GraphID != "" {
		active.GraphID = in.GraphID
	}
	active.BranchID = scoping.ResolveBranch(t.log, active, in.BranchID)

	sess := t.dispatcher.Engine.Store.NewSession(ctx, false)
	defer sess.Close(ctx)

	detail := in.DetailLevel
	if detail == "" {
		detail = "summary"
	}
	result, err := t.dispatcher.Dispatch(ctx, sess, retrieval.PlanRequest{
		Scope:          active,
		Message:        in.Message,
		Intent:         retrieval.Intent(in.Intent),
		DetailLevel:    detail,
		SinceDays:      in.SinceDays,
		FocusConceptID: in.FocusConceptID,
	})
	if err != nil {
		return nil, retrieveOutput{}, err
	}
	out := retrieveOutput{Intent: string(result.Intent), Result: result}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: fmt.Sprintf("retrieved %d claims, %d concepts for intent %s", len(result.Claims), len(result.Subgraph.Concepts), result.Intent)}},
	}, out, nil
}

// evidenceSubgraphInput mirrors POST /evidence-subgraph (§6) for MCP callers.
type evidenceSubgraphInput struct {
	TenantID   string   `json:"tenant_id"`
	UserID     string   `json:"user_id"`
	GraphID    string   `json:"graph_id,omitempty"`
	ClaimIDs   []string `json:"claim_ids" jsonschema:"claim node ids to build the evidence neighborhood from"`
	LimitNodes int      `json:"limit_nodes,omitempty"`
	LimitEdges int      `json:"limit_edges,omitempty"`
}

func (t *toolServer) evidenceSubgraph(ctx context.Context, req *sdkmcp.CallToolRequest, in evidenceSubgraphInput) (*sdkmcp.CallToolResult, *retrieval.SubgraphBundle, error) {
	active, err := t.resolver.ResolveActiveContext(ctx, in.TenantID, in.UserID)
	if err != nil {
		return nil, nil, err
	}
	if in.GraphID != "" {
		active.GraphID = in.GraphID
	}

	sess := t.dispatcher.Engine.Store.NewSession(ctx, false)
	defer sess.Close(ctx)

	bundle, err := t.dispatcher.Engine.GetEvidenceSubgraph(ctx, sess, retrieval.EvidenceSubgraphRequest{
		Scope:         active,
		ClaimIDs:      in.ClaimIDs,
		LimitConcepts: in.LimitNodes,
		LimitEdges:    in.LimitEdges,
	})
	if err != nil {
		return nil, nil, err
	}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: fmt.Sprintf("evidence subgraph: %d concepts, %d edges", len(bundle.Concepts), len(bundle.Edges))}},
	}, bundle, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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
