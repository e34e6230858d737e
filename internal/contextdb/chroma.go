package contextdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"plant-backend/internal/analysis"
)

// Client is a minimal REST client to a ChromaDB server. The server does its
// own embedding, so callers only ever exchange text, metadata, and distances.
type Client struct {
	url        string
	collection string
	httpClient *http.Client

	mu           sync.Mutex
	collectionID string
}

type Config struct {
	URL        string
	Collection string
	Timeout    time.Duration
}

// NewClient constructs a ChromaDB client. The collection is resolved lazily
// on first use so a cold store does not block process start.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "plant_analyses"
	}
	return &Client{
		url:        cfg.URL,
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Heartbeat reports whether the server answers at all.
func (c *Client) Heartbeat(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/api/v1/heartbeat", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("chroma heartbeat failed: %s", resp.Status)
	}
	return nil
}

// Search queries the collection by text. Failures come back as
// *analysis.StoreUnavailable so the pipeline degrades instead of failing.
func (c *Client) Search(ctx context.Context, query string, limit int, filter map[string]string) ([]analysis.ContextRecord, error) {
	collectionID, err := c.collectionIDFor(ctx)
	if err != nil {
		return nil, &analysis.StoreUnavailable{Err: err}
	}
	body := map[string]any{
		"query_texts": []string{query},
		"n_results":   limit,
		"include":     []string{"documents", "metadatas", "distances"},
	}
	if len(filter) > 0 {
		where := make(map[string]any, len(filter))
		for k, v := range filter {
			where[k] = v
		}
		body["where"] = where
	}

	var out struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	path := fmt.Sprintf("/api/v1/collections/%s/query", collectionID)
	if err := c.postJSON(ctx, path, body, &out); err != nil {
		return nil, &analysis.StoreUnavailable{Err: err}
	}
	if len(out.IDs) == 0 {
		return nil, nil
	}

	ids := out.IDs[0]
	records := make([]analysis.ContextRecord, 0, len(ids))
	for i, id := range ids {
		record := analysis.ContextRecord{ID: id, Metadata: map[string]string{}}
		if len(out.Documents) > 0 && i < len(out.Documents[0]) {
			record.Document = out.Documents[0][i]
		}
		if len(out.Metadatas) > 0 && i < len(out.Metadatas[0]) {
			record.Metadata = stringMetadata(out.Metadatas[0][i])
		}
		if len(out.Distances) > 0 && i < len(out.Distances[0]) {
			distance := out.Distances[0][i]
			record.Distance = &distance
		}
		records = append(records, record)
	}
	return records, nil
}

// Upsert writes one analysis record into the collection.
func (c *Client) Upsert(ctx context.Context, record analysis.ContextRecord) (string, error) {
	collectionID, err := c.collectionIDFor(ctx)
	if err != nil {
		return "", &analysis.StoreUnavailable{Err: err}
	}
	metadata := make(map[string]any, len(record.Metadata))
	for k, v := range record.Metadata {
		metadata[k] = v
	}
	body := map[string]any{
		"ids":       []string{record.ID},
		"documents": []string{record.Document},
		"metadatas": []map[string]any{metadata},
	}
	path := fmt.Sprintf("/api/v1/collections/%s/upsert", collectionID)
	if err := c.postJSON(ctx, path, body, nil); err != nil {
		return "", &analysis.StoreUnavailable{Err: err}
	}
	return record.ID, nil
}

// Get fetches one record by id. The bool result reports presence.
func (c *Client) Get(ctx context.Context, id string) (analysis.ContextRecord, bool, error) {
	collectionID, err := c.collectionIDFor(ctx)
	if err != nil {
		return analysis.ContextRecord{}, false, &analysis.StoreUnavailable{Err: err}
	}
	body := map[string]any{
		"ids":     []string{id},
		"include": []string{"documents", "metadatas"},
	}
	var out struct {
		IDs       []string         `json:"ids"`
		Documents []string         `json:"documents"`
		Metadatas []map[string]any `json:"metadatas"`
	}
	path := fmt.Sprintf("/api/v1/collections/%s/get", collectionID)
	if err := c.postJSON(ctx, path, body, &out); err != nil {
		return analysis.ContextRecord{}, false, &analysis.StoreUnavailable{Err: err}
	}
	if len(out.IDs) == 0 {
		return analysis.ContextRecord{}, false, nil
	}
	record := analysis.ContextRecord{ID: out.IDs[0], Metadata: map[string]string{}}
	if len(out.Documents) > 0 {
		record.Document = out.Documents[0]
	}
	if len(out.Metadatas) > 0 {
		record.Metadata = stringMetadata(out.Metadatas[0])
	}
	return record, true, nil
}

// Stats reports the collection name and record count.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	collectionID, err := c.collectionIDFor(ctx)
	if err != nil {
		return nil, &analysis.StoreUnavailable{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/v1/collections/%s/count", c.url, collectionID), nil)
	if err != nil {
		return nil, &analysis.StoreUnavailable{Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &analysis.StoreUnavailable{Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &analysis.StoreUnavailable{Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &analysis.StoreUnavailable{Err: fmt.Errorf("chroma count failed: %s", resp.Status)}
	}
	count, err := strconv.Atoi(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, &analysis.StoreUnavailable{Err: fmt.Errorf("chroma count parse: %w", err)}
	}
	return map[string]any{
		"collection":    c.collection,
		"total_records": count,
	}, nil
}

// collectionIDFor resolves and caches the collection id, creating the
// collection on first contact.
func (c *Client) collectionIDFor(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collectionID != "" {
		return c.collectionID, nil
	}
	body := map[string]any{
		"name":          c.collection,
		"get_or_create": true,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "/api/v1/collections", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("chroma collection %s has no id", c.collection)
	}
	c.collectionID = out.ID
	return c.collectionID, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("chroma POST %s failed: %s", path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func stringMetadata(raw map[string]any) map[string]string {
	metadata := make(map[string]string, len(raw))
	for k, v := range raw {
		switch value := v.(type) {
		case string:
			metadata[k] = value
		case float64:
			metadata[k] = strconv.FormatFloat(value, 'f', -1, 64)
		case bool:
			metadata[k] = strconv.FormatBool(value)
		}
	}
	return metadata
}

var _ analysis.ContextStore = (*Client)(nil)
