package analysis

import (
	"context"

	"plant-backend/internal/shared/metrics"
	"plant-backend/internal/shared/telemetry"
)

// DefaultContextLimit bounds how many prior analyses feed one prompt.
const DefaultContextLimit = 5

// Retriever executes a category's query plan against the vector store and
// merges the results into a deduplicated, rank-ordered context set.
type Retriever struct {
	Store ContextStore
}

// Retrieve fans out over the category's queries and accumulates unique
// records until limit is reached. A store failure degrades to an empty set;
// it never fails the surrounding analysis.
func (r *Retriever) Retrieve(ctx context.Context, category Category, limit int) []ContextRecord {
	if r.Store == nil {
		return nil
	}
	if limit <= 0 {
		limit = DefaultContextLimit
	}

	var filter map[string]string
	if category != CategoryComplete {
		filter = map[string]string{"analysis_type": string(category)}
	}

	seen := make(map[string]struct{}, limit)
	records := make([]ContextRecord, 0, limit)
	for _, query := range Plan(category) {
		found, err := r.Store.Search(ctx, query, limit, filter)
		if err != nil {
			metrics.IncContextRetrievalFailed()
			telemetry.Error("context.retrieve_failed", map[string]any{
				"category": string(category),
				"error":    SanitizeError(err),
			})
			return nil
		}
		for _, record := range found {
			if _, dup := seen[record.ID]; dup {
				continue
			}
			seen[record.ID] = struct{}{}
			records = append(records, record)
			if len(records) >= limit {
				break
			}
		}
		if len(records) >= limit {
			break
		}
	}

	telemetry.Info("context.retrieved", map[string]any{
		"category": string(category),
		"records":  len(records),
	})
	return records
}
