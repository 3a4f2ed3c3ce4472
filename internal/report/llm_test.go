package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"teletriage/internal/provider"
)

func chatReply(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth header = %q", auth)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestLLMScorerParsesWrappedResults(t *testing.T) {
	content := `{"results":[{"conversation_id":"abc","urgency_score":85,"summary":"asks about the contract","recommended_action":"reply_now","reasoning":"direct question"}]}`
	srv := httptest.NewServer(chatReply(t, content))
	defer srv.Close()

	scorer := NewLLMScorer(srv.URL, "test-key", "test-model")
	got, err := scorer.AnalyzeBatch(context.Background(),
		[]ConversationContext{{ConversationUUID: "abc"}}, provider.Owner{Username: "me"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].UrgencyScore != 85 || got[0].RecommendedAction != "reply_now" {
		t.Errorf("got %+v", got)
	}
}

func TestLLMScorerStripsCodeFences(t *testing.T) {
	content := "```json\n[{\"conversation_id\":\"abc\",\"urgency_score\":10,\"recommended_action\":\"low_priority\"}]\n```"
	srv := httptest.NewServer(chatReply(t, content))
	defer srv.Close()

	scorer := NewLLMScorer(srv.URL, "test-key", "test-model")
	got, err := scorer.AnalyzeBatch(context.Background(),
		[]ConversationContext{{ConversationUUID: "abc"}}, provider.Owner{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].UrgencyScore != 10 {
		t.Errorf("got %+v", got)
	}
}

func TestLLMScorerSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	scorer := NewLLMScorer(srv.URL, "test-key", "test-model")
	_, err := scorer.AnalyzeBatch(context.Background(),
		[]ConversationContext{{ConversationUUID: "abc"}}, provider.Owner{})
	if err == nil {
		t.Fatal("expected an error on HTTP 429")
	}
}

func TestLLMScorerEmptyBatch(t *testing.T) {
	scorer := NewLLMScorer("http://127.0.0.1:1", "k", "m")
	got, err := scorer.AnalyzeBatch(context.Background(), nil, provider.Owner{})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %v, want nil without a network call", got)
	}
}
