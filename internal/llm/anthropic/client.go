// Package anthropic adapts the Anthropic Messages API to the llm.Provider
// interface.
package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/noemagraph/retrieval-core/internal/llm"
)

const defaultMaxTokens int64 = 4096

// Client adapts anthropic-sdk-go to llm.Provider.
type Client struct {
	sdk anthropicsdk.Client
}

// New builds a Client authenticated with apiKey.
func New(apiKey string) *Client {
	return &Client{sdk: anthropicsdk.NewClient(option.WithAPIKey(strings.TrimSpace(apiKey)))}
}

func (c *Client) Chat(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolSchema) (llm.Message, error) {
	sys, converted := adaptMessages(msgs)
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  converted,
		System:    sys,
		Tools:     adaptTools(tools),
		MaxTokens: defaultMaxTokens,
	}
	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return llm.Message{}, err
	}
	return messageFromResponse(resp), nil
}

func (c *Client) ChatStream(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolSchema, h llm.StreamHandler) error {
	sys, converted := adaptMessages(msgs)
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  converted,
		System:    sys,
		Tools:     adaptTools(tools),
		MaxTokens: defaultMaxTokens,
	}
	stream := c.sdk.Messages.NewStreaming(ctx, params)
	agg := llm.NewToolCallAggregator()
	for stream.Next() {
		event := stream.Current()
		switch delta := event.AsAny().(type) {
		case anthropicsdk.ContentBlockDeltaEvent:
			if delta.Delta.Text != "" {
				h.OnDelta(delta.Delta.Text)
			}
			if delta.Delta.PartialJSON != "" {
				agg.Add(int(delta.Index), "", "", delta.Delta.PartialJSON)
			}
		case anthropicsdk.ContentBlockStartEvent:
			if delta.ContentBlock.Type == "tool_use" {
				agg.Add(int(delta.Index), delta.ContentBlock.ID, delta.ContentBlock.Name, "")
			}
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

func adaptMessages(msgs []llm.Message) (string, []anthropicsdk.MessageParam) {
	var sys strings.Builder
	converted := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			sys.WriteString(m.Content)
			sys.WriteString("\n")
		case "user":
			converted = append(converted, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		case "assistant":
			blocks := []anthropicsdk.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				_ = json.Unmarshal(tc.Args, &input)
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			converted = append(converted, anthropicsdk.NewAssistantMessage(blocks...))
		case "tool":
			converted = append(converted, anthropicsdk.NewUserMessage(anthropicsdk.NewToolResultBlock(m.ToolID, m.Content, false)))
		}
	}
	return strings.TrimSpace(sys.String()), converted
}

func adaptTools(tools []llm.ToolSchema) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicsdk.ToolUnionParamOfTool(anthropicsdk.ToolInputSchemaParam{
			Properties: t.Parameters,
		}, t.Name))
	}
	return out
}

func messageFromResponse(resp *anthropicsdk.Message) llm.Message {
	out := llm.Message{Role: "assistant"}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			out.Content += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:   b.ID,
				Name: b.Name,
				Args: json.RawMessage(b.Input),
			})
		}
	}
	return out
}
