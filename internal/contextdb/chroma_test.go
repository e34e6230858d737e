package contextdb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"plant-backend/internal/analysis"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{URL: server.URL, Collection: "plant_analyses"})
}

func collectionMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode collection request: %v", err)
		}
		if body["name"] != "plant_analyses" || body["get_or_create"] != true {
			t.Errorf("unexpected collection request %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "col-1"})
	})
	return mux
}

func TestSearchParsesColumnarResponse(t *testing.T) {
	mux := collectionMux(t)
	mux.HandleFunc("/api/v1/collections/col-1/query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode query: %v", err)
		}
		where, _ := body["where"].(map[string]any)
		if where["analysis_type"] != "disease_detection" {
			t.Errorf("expected category filter, got %v", body["where"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ids":       [][]string{{"a", "b"}},
			"documents": [][]string{{"doc a", "doc b"}},
			"metadatas": [][]map[string]any{{
				{"analysis_type": "disease_detection", "plant_type": "Basil"},
				{"analysis_type": "disease_detection"},
			}},
			"distances": [][]float64{{0.1, 0.4}},
		})
	})
	client := newTestClient(t, mux)

	records, err := client.Search(context.Background(), "plant disease symptoms", 5, map[string]string{"analysis_type": "disease_detection"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "a" || records[0].Document != "doc a" {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if records[0].Metadata["plant_type"] != "Basil" {
		t.Fatalf("metadata lost: %v", records[0].Metadata)
	}
	if records[0].Distance == nil || *records[0].Distance != 0.1 {
		t.Fatal("distance lost")
	}
}

func TestSearchServerDownIsStoreUnavailable(t *testing.T) {
	client := NewClient(Config{URL: "http://127.0.0.1:1", Collection: "plant_analyses"})
	_, err := client.Search(context.Background(), "q", 5, nil)
	var su *analysis.StoreUnavailable
	if !errors.As(err, &su) {
		t.Fatalf("expected StoreUnavailable, got %v", err)
	}
}

func TestUpsertSendsRecord(t *testing.T) {
	mux := collectionMux(t)
	var captured map[string]any
	mux.HandleFunc("/api/v1/collections/col-1/upsert", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode upsert: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClient(t, mux)

	id, err := client.Upsert(context.Background(), analysis.ContextRecord{
		ID:       "rec-1",
		Document: "phân tích",
		Metadata: map[string]string{"analysis_type": "complete"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if id != "rec-1" {
		t.Fatalf("unexpected id %q", id)
	}
	ids, _ := captured["ids"].([]any)
	if len(ids) != 1 || ids[0] != "rec-1" {
		t.Fatalf("unexpected upsert payload %v", captured)
	}
}

func TestGetMissingRecord(t *testing.T) {
	mux := collectionMux(t)
	mux.HandleFunc("/api/v1/collections/col-1/get", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ids": []string{}})
	})
	client := newTestClient(t, mux)

	_, found, err := client.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("record must be reported missing")
	}
}

func TestStatsReportsCount(t *testing.T) {
	mux := collectionMux(t)
	mux.HandleFunc("/api/v1/collections/col-1/count", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("42"))
	})
	client := newTestClient(t, mux)

	stats, err := client.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["total_records"] != 42 {
		t.Fatalf("unexpected stats %v", stats)
	}
	if stats["collection"] != "plant_analyses" {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestCollectionIDCached(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"id": "col-1"})
	})
	mux.HandleFunc("/api/v1/collections/col-1/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ids": [][]string{}})
	})
	client := newTestClient(t, mux)

	for i := 0; i < 3; i++ {
		if _, err := client.Search(context.Background(), "q", 5, nil); err != nil {
			t.Fatalf("Search: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("collection must be resolved once, got %d calls", calls)
	}
}
