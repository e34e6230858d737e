package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"plant-backend/internal/shared/metrics"
	"plant-backend/internal/shared/telemetry"
)

// MaxBatchSize caps one AnalyzeMany call.
const MaxBatchSize = 10

// PreprocessOptions selects the optional image preparation steps.
type PreprocessOptions struct {
	Enhance          bool
	RemoveBackground bool
}

// Preprocessor prepares an image for inference. Failures are reported as
// *ImageError.
type Preprocessor interface {
	Preprocess(ctx context.Context, image []byte, opts PreprocessOptions) ([]byte, error)
}

// Inferencer sends an image and prompt to a vision model and returns the raw
// text response. Failures are reported as *InferenceError.
type Inferencer interface {
	Infer(ctx context.Context, image []byte, prompt string) (string, error)
	Model() string
}

// Request is the input bundle for one analysis.
type Request struct {
	ID       string
	Image    []byte
	Category Category
	Options  PreprocessOptions
	Persist  bool
}

// Pipeline sequences preprocessing, context retrieval, prompt composition,
// inference, and normalization. Dependencies are constructed once at process
// start and passed in; the pipeline holds no ambient state.
type Pipeline struct {
	Preprocessor Preprocessor
	Inferencer   Inferencer
	Store        ContextStore
	Formatter    Formatter
	ContextLimit int
}

// AnalyzeOne runs the full chain for a single request. Preprocessing and
// inference failures come back as a failed Result; retrieval and persistence
// failures only degrade quality and are logged.
func (p *Pipeline) AnalyzeOne(ctx context.Context, req Request) Result {
	startedAt := time.Now()
	metrics.IncAnalysisStarted()

	image := req.Image
	if p.Preprocessor != nil {
		processed, err := p.Preprocessor.Preprocess(ctx, image, req.Options)
		if err != nil {
			return p.failed(ctx, req, &ImageError{Err: err}, startedAt)
		}
		image = processed
	}

	retriever := Retriever{Store: p.Store}
	records := retriever.Retrieve(ctx, req.Category, p.ContextLimit)
	prompt := Compose(req.Category, p.Formatter.Format(records))

	rawText, err := p.Inferencer.Infer(ctx, image, prompt)
	if err != nil {
		return p.failed(ctx, req, err, startedAt)
	}

	result := Normalize(rawText, req.Category)
	result.Model = p.Inferencer.Model()
	result.ContextUsed = len(records) > 0
	result.ContextRecords = len(records)

	if req.Persist {
		p.persist(ctx, req, result)
	}

	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(float64(time.Since(startedAt).Microseconds()) / 1000.0)
	telemetry.Info("analysis.completed", map[string]any{
		"request_id":      req.ID,
		"category":        string(req.Category),
		"context_records": len(records),
		"duration_ms":     time.Since(startedAt).Milliseconds(),
	})
	return result
}

// AnalyzeMany runs up to MaxBatchSize requests concurrently. Items share no
// mutable state, so each failure stays local to its own Result. A batch over
// the cap is rejected before any item starts.
func (p *Pipeline) AnalyzeMany(ctx context.Context, reqs []Request) (map[string]Result, error) {
	if len(reqs) > MaxBatchSize {
		return nil, &ValidationError{Msg: fmt.Sprintf("batch size %d exceeds maximum of %d", len(reqs), MaxBatchSize)}
	}

	results := make(map[string]Result, len(reqs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, req := range reqs {
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			result := p.AnalyzeOne(ctx, req)
			mu.Lock()
			results[req.ID] = result
			mu.Unlock()
		}(req)
	}
	wg.Wait()
	return results, nil
}

func (p *Pipeline) failed(ctx context.Context, req Request, err error, startedAt time.Time) Result {
	code, retryable := ClassifyFailure(err)
	metrics.IncAnalysisFailed()
	metrics.ObserveAnalysisDurationMs(float64(time.Since(startedAt).Microseconds()) / 1000.0)
	telemetry.Error("analysis.failed", map[string]any{
		"request_id": req.ID,
		"category":   string(req.Category),
		"error_code": code,
		"retryable":  retryable,
		"error":      SanitizeError(err),
	})
	return FailedResult(req.Category, err)
}

// persist writes the finished analysis back into the vector store so future
// runs can retrieve it as context. The result already left the pipeline, so a
// failure here is logged and discarded.
func (p *Pipeline) persist(ctx context.Context, req Request, result Result) {
	if p.Store == nil {
		return
	}
	metadata := map[string]string{
		"analysis_type": string(req.Category),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	if result.PlantType != "" {
		metadata["plant_type"] = result.PlantType
	}
	if result.HealthStatus != "" {
		metadata["health_status"] = result.HealthStatus
	}
	record := ContextRecord{
		ID:       uuid.NewString(),
		Document: result.RawText,
		Metadata: metadata,
	}
	if _, err := p.Store.Upsert(ctx, record); err != nil {
		metrics.IncContextPersistFailed()
		telemetry.Error("context.persist_failed", map[string]any{
			"request_id": req.ID,
			"record_id":  record.ID,
			"error_code": ErrorCodePersist,
			"error":      SanitizeError(err),
		})
		return
	}
	telemetry.Info("context.persisted", map[string]any{
		"request_id": req.ID,
		"record_id":  record.ID,
	})
}
