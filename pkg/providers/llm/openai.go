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

type OpenAILLM struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/chat/completions",
		model:  model,
	}
}

type openAIMessage struct {
	Role       string              `json:"role"`
	Content    string              `json:"content,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCallOut `json:"tool_calls,omitempty"`
}

type openAIToolCallOut struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func toOpenAIMessages(messages []session.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case session.RoleTool:
			out = append(out, openAIMessage{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: toolCallID(m),
			})
		default:
			out = append(out, openAIMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	return out
}

func toolCallID(m session.Message) string {
	if m.ToolResult != nil {
		return m.ToolResult.CallID
	}
	if m.ToolCall != nil {
		return m.ToolCall.CallID
	}
	return ""
}

func openAIToolSchema(tools []catalog.Function) []map[string]any {
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
			"type": "function",
			"function": map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  def.Parameters,
			},
		})
	}
	return out
}

func (l *OpenAILLM) Complete(ctx context.Context, messages []session.Message, tools []catalog.Function) (Response, error) {
	payload := map[string]interface{}{
		"model":    l.model,
		"messages": toOpenAIMessages(messages),
	}
	if schema := openAIToolSchema(tools); schema != nil {
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
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return Response{}, httperr.New(resp.StatusCode, fmt.Sprintf("openai llm error (status %d): %v", resp.StatusCode, errResp))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content   string              `json:"content"`
				ToolCalls []openAIToolCallOut `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Response{}, err
	}

	if len(result.Choices) == 0 {
		return Response{}, fmt.Errorf("no choices returned from openai")
	}

	msg := result.Choices[0].Message
	out := Response{Text: msg.Content, InputTokens: result.Usage.PromptTokens, OutputTokens: result.Usage.CompletionTokens}
	for _, tc := range msg.ToolCalls {
		var args map[string]interface{}
		json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, session.ToolCall{CallID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func (l *OpenAILLM) Name() string {
	return "openai-llm"
}
