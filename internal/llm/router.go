package llm

import (
	"context"
	"fmt"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

// TaskType partitions model choice, per §6: "task_type partitions model
// choice (extract, synthesis, voice, chat_fast)".
type TaskType string

const (
	TaskExtract   TaskType = "extract"
	TaskSynthesis TaskType = "synthesis"
	TaskVoice     TaskType = "voice"
	TaskChatFast  TaskType = "chat_fast"
)

// Route pins one task_type to a concrete provider+model.
type Route struct {
	Provider Provider
	Model    string
}

// Router is the ModelRouter (§6): completion(task_type, messages, opts).
// Construction wires one Route per TaskType; Router itself holds no SDK
// state, just the partition table.
type Router struct {
	routes map[TaskType]Route
}

// NewRouter builds a Router from an explicit task_type → Route table.
func NewRouter(routes map[TaskType]Route) *Router {
	return &Router{routes: routes}
}

// CompletionOptions mirrors the options named in §6
// (completion(task_type, messages, {stream, tools, tool_choice,
// response_format, temperature, max_tokens})). Only the fields this core
// actually drives are modeled; provider-specific extras live in the
// concrete Provider adapter, not here.
type CompletionOptions struct {
	Tools []ToolSchema
}

// Completion implements the non-streaming half of the ModelRouter
// interface. ExternalProviderFailure degrades per §7: callers of Completion
// for ingestion extraction should treat an error as "this pass failed,
// continue with partial results", never as a hard stop.
func (r *Router) Completion(ctx context.Context, taskType TaskType, msgs []Message, opts CompletionOptions) (Message, error) {
	route, ok := r.routes[taskType]
	if !ok {
		return Message{}, apperr.NewFatal(fmt.Sprintf("llm: no route configured for task_type %q", taskType), nil)
	}
	msg, err := route.Provider.Chat(ctx, route.Model, msgs, opts.Tools)
	if err != nil {
		return Message{}, apperr.NewExternalProviderFailure(fmt.Sprintf("llm completion (%s)", taskType), err)
	}
	return msg, nil
}

// CompletionStream implements the streaming half: the model may emit
// tool_calls[idx] increments which the provider adapter aggregates via
// ToolCallAggregator before invoking h.OnToolCall — callers never see
// partial tool calls (§6).
func (r *Router) CompletionStream(ctx context.Context, taskType TaskType, msgs []Message, opts CompletionOptions, h StreamHandler) error {
	route, ok := r.routes[taskType]
	if !ok {
		return apperr.NewFatal(fmt.Sprintf("llm: no route configured for task_type %q", taskType), nil)
	}
	if err := route.Provider.ChatStream(ctx, route.Model, msgs, opts.Tools, h); err != nil {
		return apperr.NewExternalProviderFailure(fmt.Sprintf("llm completion stream (%s)", taskType), err)
	}
	return nil
}
