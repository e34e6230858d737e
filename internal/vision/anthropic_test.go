package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"plant-backend/internal/analysis"
)

func newAnthropicTestClient(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewAnthropicClient("test-key", server.URL, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("NewAnthropicClient: %v", err)
	}
	return client
}

func TestAnthropicInferReturnsTextBlock(t *testing.T) {
	var captured anthropicRequest
	client := newAnthropicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("unexpected api key header %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("missing anthropic-version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"health_status":"healthy"}`},
			},
		})
	})

	out, err := client.Infer(context.Background(), []byte("img"), "kiểm tra bệnh")
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if out != `{"health_status":"healthy"}` {
		t.Fatalf("unexpected response %q", out)
	}
	if len(captured.Messages) != 1 || len(captured.Messages[0].Content) != 2 {
		t.Fatal("expected one message with image and text blocks")
	}
	if captured.Messages[0].Content[0].Source == nil || captured.Messages[0].Content[0].Source.Type != "base64" {
		t.Fatal("image source block missing")
	}
	if captured.Messages[0].Content[1].Text != "kiểm tra bệnh" {
		t.Fatal("prompt missing from request")
	}
}

func TestAnthropicInferNon200(t *testing.T) {
	client := newAnthropicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	})

	_, err := client.Infer(context.Background(), []byte("img"), "prompt")
	var ie *analysis.InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("expected inference error, got %v", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("status code missing from error: %q", err.Error())
	}
}

func TestAnthropicInferEmptyContent(t *testing.T) {
	client := newAnthropicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"content": []any{}})
	})

	_, err := client.Infer(context.Background(), []byte("img"), "prompt")
	var ie *analysis.InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("expected inference error, got %v", err)
	}
}

func TestNewClientFactory(t *testing.T) {
	if _, err := NewClient("openai", "key", "", "gpt-4o"); err != nil {
		t.Fatalf("openai provider: %v", err)
	}
	if _, err := NewClient("anthropic", "key", "", "claude-sonnet-4-5"); err != nil {
		t.Fatalf("anthropic provider: %v", err)
	}
	if _, err := NewClient("", "key", "", "gpt-4o"); err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if _, err := NewClient("bard", "key", "", "m"); err == nil {
		t.Fatal("unsupported provider must fail")
	}
}
