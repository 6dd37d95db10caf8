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

// GroqLLM talks to Groq's OpenAI-compatible chat-completions endpoint.
type GroqLLM struct {
	apiKey string
	url    string
	model  string
}

func NewGroqLLM(apiKey string, model string) *GroqLLM {
	if model == "" {
		model = "llama3-70b-8192"
	}
	return &GroqLLM{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/chat/completions",
		model:  model,
	}
}

func (l *GroqLLM) Complete(ctx context.Context, messages []session.Message, tools []catalog.Function) (Response, error) {
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
		return Response{}, httperr.New(resp.StatusCode, fmt.Sprintf("groq llm error (status %d): %v", resp.StatusCode, errResp))
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
		return Response{}, fmt.Errorf("no choices returned from groq")
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

func (l *GroqLLM) Name() string {
	return "groq-llm"
}
