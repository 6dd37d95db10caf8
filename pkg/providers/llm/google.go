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

type GoogleLLM struct {
	apiKey string
	url    string
	model  string
}

func NewGoogleLLM(apiKey string, model string) *GoogleLLM {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleLLM{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
	}
}

type googlePart struct {
	Text             string          `json:"text,omitempty"`
	FunctionCall     *googleFuncCall `json:"functionCall,omitempty"`
	FunctionResponse *googleFuncResp `json:"functionResponse,omitempty"`
}

type googleFuncCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type googleFuncResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type googleMessage struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

func googleToolSchema(tools []catalog.Function) []map[string]any {
	if len(tools) == 0 {
		return nil
	}
	cat := make(catalog.Catalog, len(tools))
	for _, t := range tools {
		cat[t.Name] = t
	}
	decls := make([]map[string]any, 0, len(tools))
	for _, def := range cat.ToolDefs() {
		decls = append(decls, map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"parameters":  def.Parameters,
		})
	}
	return []map[string]any{{"functionDeclarations": decls}}
}

func (l *GoogleLLM) Complete(ctx context.Context, messages []session.Message, tools []catalog.Function) (Response, error) {
	var googleMessages []googleMessage
	for _, m := range messages {
		switch m.Role {
		case session.RoleSystem:
			// Gemini doesn't accept a system role turn in `contents`; send it
			// as a separate user turn of its own instead of dropping it.
			googleMessages = append(googleMessages, googleMessage{Role: "user", Parts: []googlePart{{Text: m.Content}}})
			continue
		case session.RoleTool:
			googleMessages = append(googleMessages, googleMessage{
				Role: "function",
				Parts: []googlePart{{FunctionResponse: &googleFuncResp{
					Name:     toolCallID(m),
					Response: map[string]any{"result": m.Content},
				}}},
			})
			continue
		}
		role := string(m.Role)
		if role == "assistant" {
			role = "model"
		}
		googleMessages = append(googleMessages, googleMessage{Role: role, Parts: []googlePart{{Text: m.Content}}})
	}

	payload := map[string]interface{}{
		"contents": googleMessages,
	}
	if schema := googleToolSchema(tools); schema != nil {
		payload["tools"] = schema
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url+"?key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return Response{}, httperr.New(resp.StatusCode, fmt.Sprintf("google llm error (status %d): %v", resp.StatusCode, errResp))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []googlePart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Response{}, err
	}

	if len(result.Candidates) == 0 {
		return Response{}, fmt.Errorf("no response from google llm")
	}

	out := Response{InputTokens: result.UsageMetadata.PromptTokenCount, OutputTokens: result.UsageMetadata.CandidatesTokenCount}
	for i, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Text += part.Text
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, session.ToolCall{
				CallID:    fmt.Sprintf("google-call-%d", i),
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return Response{}, fmt.Errorf("no response from google llm")
	}
	return out, nil
}

func (l *GoogleLLM) Name() string {
	return "google-llm"
}
