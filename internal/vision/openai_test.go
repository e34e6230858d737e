package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"plant-backend/internal/analysis"
)

func newOpenAITestClient(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOpenAIClient("test-key", server.URL, "gpt-4o")
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return client, server
}

func TestOpenAIInferSendsImageAndPrompt(t *testing.T) {
	image := []byte("fake-jpeg")
	var captured openAIRequest
	client, _ := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"plant_type":"Basil"}`}},
			},
		})
	})

	out, err := client.Infer(context.Background(), image, "phân tích cây này")
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if out != `{"plant_type":"Basil"}` {
		t.Fatalf("unexpected response %q", out)
	}
	if len(captured.Messages) != 1 || len(captured.Messages[0].Content) != 2 {
		t.Fatalf("expected one message with two content parts")
	}
	if captured.Messages[0].Content[0].Text != "phân tích cây này" {
		t.Fatal("prompt missing from request")
	}
	wantURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
	if captured.Messages[0].Content[1].ImageURL == nil || captured.Messages[0].Content[1].ImageURL.URL != wantURL {
		t.Fatal("image data URL missing from request")
	}
}

func TestOpenAIInferAPIError(t *testing.T) {
	client, _ := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "quota exceeded", "type": "insufficient_quota"},
		})
	})

	_, err := client.Infer(context.Background(), []byte("img"), "prompt")
	var ie *analysis.InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("expected inference error, got %v", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestOpenAIInferEmptyChoices(t *testing.T) {
	client, _ := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	_, err := client.Infer(context.Background(), []byte("img"), "prompt")
	var ie *analysis.InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("expected inference error, got %v", err)
	}
}

func TestNewOpenAIClientValidation(t *testing.T) {
	if _, err := NewOpenAIClient("", "", "gpt-4o"); err == nil {
		t.Fatal("missing api key must fail")
	}
	if _, err := NewOpenAIClient("key", "", ""); err == nil {
		t.Fatal("missing model must fail")
	}
}
