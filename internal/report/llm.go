package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"teletriage/internal/provider"
)

const defaultSystemPrompt = `You are a triage assistant for a personal inbox.
For each conversation, score how urgently the owner should respond (0-100),
summarize it in one sentence, and recommend an action: reply_now, review, or
low_priority. Respond with a JSON object {"results": [...]} where each result
has conversation_id, urgency_score, summary, recommended_action, reasoning.`

// LLMScorer scores conversations through an OpenAI-compatible chat
// completions endpoint (OpenRouter). The call can take minutes; the HTTP
// client carries a long timeout and errors surface to the caller.
type LLMScorer struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewLLMScorer creates a scorer against the given endpoint.
func NewLLMScorer(baseURL, apiKey, model string) *LLMScorer {
	return &LLMScorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 3 * time.Minute},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *format       `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type format struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// AnalyzeBatch implements Scorer.
func (l *LLMScorer) AnalyzeBatch(ctx context.Context, batch []ConversationContext, owner provider.Owner) ([]Analysis, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	userMsg, err := buildUserMessage(batch, owner)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: defaultSystemPrompt},
			{Role: "user", Content: userMsg},
		},
		Temperature:    0.3,
		ResponseFormat: &format{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		l.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llm status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode llm response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}

	return parseAnalyses(parsed.Choices[0].Message.Content)
}

func buildUserMessage(batch []ConversationContext, owner provider.Owner) (string, error) {
	payload := map[string]any{
		"owner": map[string]any{
			"username":   owner.Username,
			"first_name": owner.FirstName,
		},
		"conversations": batch,
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// parseAnalyses accepts either a bare JSON array or an object wrapping one
// under "results"/"conversations", with optional markdown code fences.
func parseAnalyses(content string) ([]Analysis, error) {
	content = stripCodeFence(strings.TrimSpace(content))

	var arr []Analysis
	if err := json.Unmarshal([]byte(content), &arr); err == nil {
		return arr, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
		return nil, fmt.Errorf("parse llm response: %w", err)
	}
	for _, key := range []string{"results", "conversations"} {
		if raw, ok := wrapped[key]; ok {
			if err := json.Unmarshal(raw, &arr); err != nil {
				return nil, fmt.Errorf("parse llm %s: %w", key, err)
			}
			return arr, nil
		}
	}
	return nil, fmt.Errorf("llm response has no results array")
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx != -1 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
