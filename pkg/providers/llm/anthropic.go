package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aria-voice/aria-core/pkg/catalog"
	"github.com/aria-voice/aria-core/pkg/providers/httperr"
	"github.com/aria-voice/aria-core/pkg/session"
)

type AnthropicLLM struct {
	apiKey string
	url    string
	model  string
}

func NewAnthropicLLM(apiKey string, model string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &AnthropicLLM{
		apiKey: apiKey,
		url:    "https://api.anthropic.com/v1/messages",
		model:  model,
	}
}

func anthropicToolSchema(tools []catalog.Function) []map[string]any {
	if len(tools) == 0 {
		return nil
	}
	cat := make(catalog.Catalog, len(tools))
	for _, t := range tools {
		cat[t.Name] = t
	}
	out := make([]map[string]any, 0, len(tools))
	for _, def := range cat.ToolDefs() {
		out = append(out, map[string]any{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": def.Parameters,
		})
	}
	return out
}

func (l *AnthropicLLM) Complete(ctx context.Context, messages []session.Message, tools []catalog.Function) (Response, error) {
	var system string
	var anthropicMessages []map[string]any

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			system = msg.Content
		case session.RoleTool:
			anthropicMessages = append(anthropicMessages, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": toolCallID(msg),
					"content":     msg.Content,
				}},
			})
		default:
			anthropicMessages = append(anthropicMessages, map[string]any{
				"role":    string(msg.Role),
				"content": msg.Content,
			})
		}
	}

	payload := map[string]interface{}{
		"model":      l.model,
		"messages":   anthropicMessages,
		"max_tokens": 1024,
	}
	if system != "" {
		payload["system"] = system
	}
	if schema := anthropicToolSchema(tools); schema != nil {
		payload["tools"] = schema
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return Response{}, httperr.New(resp.StatusCode, fmt.Sprintf("anthropic llm error (status %d): %v", resp.StatusCode, errResp))
	}

	var result struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Response{}, err
	}

	out := Response{InputTokens: result.Usage.InputTokens, OutputTokens: result.Usage.OutputTokens}
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			var args map[string]interface{}
			json.Unmarshal(block.Input, &args)
			out.ToolCalls = append(out.ToolCalls, session.ToolCall{CallID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return Response{}, fmt.Errorf("no content returned from anthropic")
	}
	return out, nil
}

func (l *AnthropicLLM) Name() string {
	return "anthropic-llm"
}
