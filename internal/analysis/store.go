package analysis

import "context"

// ContextRecord is one previously stored analysis retrieved for reuse as
// reference context. The vector store owns the record; the pipeline holds a
// read-only copy for the duration of one run.
type ContextRecord struct {
	ID       string            `json:"id"`
	Document string            `json:"document"`
	Metadata map[string]string `json:"metadata"`
	Distance *float64          `json:"distance,omitempty"`
}

// ContextStore is the slice of the vector store the pipeline depends on.
// Search failures are reported as *StoreUnavailable.
type ContextStore interface {
	Search(ctx context.Context, query string, limit int, filter map[string]string) ([]ContextRecord, error)
	Upsert(ctx context.Context, record ContextRecord) (string, error)
}
