// Package google adapts the Gemini (genai) API to the llm.Provider
// interface.
package google

import (
	"context"
	"encoding/json"
	"strings"

	genai "google.golang.org/genai"

	"github.com/noemagraph/retrieval-core/internal/llm"
)

// Client adapts google.golang.org/genai to llm.Provider.
type Client struct {
	sdk *genai.Client
}

// New builds a Client authenticated with apiKey.
func New(ctx context.Context, apiKey string) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: strings.TrimSpace(apiKey)})
	if err != nil {
		return nil, err
	}
	return &Client{sdk: client}, nil
}

func (c *Client) Chat(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolSchema) (llm.Message, error) {
	contents, cfg := adapt(msgs, tools)
	resp, err := c.sdk.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return llm.Message{}, err
	}
	return messageFromResponse(resp), nil
}

func (c *Client) ChatStream(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolSchema, h llm.StreamHandler) error {
	contents, cfg := adapt(msgs, tools)
	stream := c.sdk.Models.GenerateContentStream(ctx, model, contents, cfg)
	idx := 0
	for chunk, err := range stream {
		if err != nil {
			return err
		}
		msg := messageFromResponse(chunk)
		if msg.Content != "" {
			h.OnDelta(msg.Content)
		}
		for _, tc := range msg.ToolCalls {
			if tc.ID == "" {
				tc.ID = tc.Name
			}
			h.OnToolCall(tc)
			idx++
		}
	}
	return nil
}

func adapt(msgs []llm.Message, tools []llm.ToolSchema) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(msgs))
	var sys strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case "system":
			sys.WriteString(m.Content)
			sys.WriteString("\n")
		case "user":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case "tool":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	cfg := &genai.GenerateContentConfig{}
	if sys.Len() > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.TrimSpace(sys.String()), genai.RoleUser)
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return contents, cfg
}

func messageFromResponse(resp *genai.GenerateContentResponse) llm.Message {
	out := llm.Message{Role: "assistant"}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:   part.FunctionCall.Name,
				Name: part.FunctionCall.Name,
				Args: args,
			})
		}
	}
	return out
}
