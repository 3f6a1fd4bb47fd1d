// Package openai adapts the OpenAI chat-completions API to the
// llm.Provider interface.
package openai

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/noemagraph/retrieval-core/internal/llm"
)

// Client adapts openai-go to llm.Provider.
type Client struct {
	sdk sdk.Client
}

// New builds a Client authenticated with apiKey.
func New(apiKey string) *Client {
	return &Client{sdk: sdk.NewClient(option.WithAPIKey(strings.TrimSpace(apiKey)))}
}

func (c *Client) Chat(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolSchema) (llm.Message, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    model,
		Messages: adaptMessages(msgs),
		Tools:    adaptTools(tools),
	}
	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Message{}, err
	}
	return messageFromResponse(resp), nil
}

func (c *Client) ChatStream(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolSchema, h llm.StreamHandler) error {
	params := sdk.ChatCompletionNewParams{
		Model:    model,
		Messages: adaptMessages(msgs),
		Tools:    adaptTools(tools),
	}
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	agg := llm.NewToolCallAggregator()
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			h.OnDelta(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			agg.Add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	for _, tc := range agg.Finalize() {
		h.OnToolCall(tc)
	}
	return nil
}

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "user":
			out = append(out, sdk.UserMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			calls := make([]sdk.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, sdk.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{
				OfAssistant: &sdk.ChatCompletionAssistantMessageParam{
					Content:   sdk.ChatCompletionAssistantMessageParamContentUnion{OfString: sdk.NewOpt(m.Content)},
					ToolCalls: calls,
				},
			})
		case "tool":
			out = append(out, sdk.ToolMessage(m.Content, m.ToolID))
		}
	}
	return out
}

func adaptTools(tools []llm.ToolSchema) []sdk.ChatCompletionToolParam {
	out := make([]sdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, sdk.ChatCompletionToolParam{
			Function: sdk.FunctionDefinitionParam{
				Name:        t.Name,
				Description: sdk.NewOpt(t.Description),
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func messageFromResponse(resp *sdk.ChatCompletion) llm.Message {
	if len(resp.Choices) == 0 {
		return llm.Message{Role: "assistant"}
	}
	choice := resp.Choices[0].Message
	out := llm.Message{Role: "assistant", Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}
