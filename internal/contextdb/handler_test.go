package contextdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newHandlerRouter(client *Client) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(client).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestGetRecordEndpoint(t *testing.T) {
	mux := collectionMux(t)
	mux.HandleFunc("/api/v1/collections/col-1/get", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ids":       []string{"rec-1"},
			"documents": []string{"Phân tích: lá vàng"},
			"metadatas": []map[string]any{{"plant_type": "Basil"}},
		})
	})
	router := newHandlerRouter(newTestClient(t, mux))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/context/records/rec-1", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["id"] != "rec-1" {
		t.Fatalf("unexpected record id: %v", body["id"])
	}
	metadata, _ := body["metadata"].(map[string]any)
	if metadata["plant_type"] != "Basil" {
		t.Fatalf("metadata lost: %v", body["metadata"])
	}
}

func TestGetRecordEndpointNotFound(t *testing.T) {
	mux := collectionMux(t)
	mux.HandleFunc("/api/v1/collections/col-1/get", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ids": []string{}})
	})
	router := newHandlerRouter(newTestClient(t, mux))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/context/records/nope", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestGetRecordEndpointStoreDown(t *testing.T) {
	client := NewClient(Config{URL: "http://127.0.0.1:1", Collection: "plant_analyses"})
	router := newHandlerRouter(client)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/context/records/rec-1", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	mux := collectionMux(t)
	mux.HandleFunc("/api/v1/collections/col-1/count", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("7"))
	})
	router := newHandlerRouter(newTestClient(t, mux))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/context/stats", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["total_records"] != float64(7) {
		t.Fatalf("unexpected stats: %v", body)
	}
	if body["collection"] != "plant_analyses" {
		t.Fatalf("unexpected stats: %v", body)
	}
}

func TestContextEndpointsWithoutClient(t *testing.T) {
	router := newHandlerRouter(nil)

	for _, path := range []string{"/api/v1/context/records/rec-1", "/api/v1/context/stats"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, resp.Code)
		}
	}
}
