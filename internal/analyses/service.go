package analyses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"plant-backend/internal/analysis"
	"plant-backend/internal/queue"
	"plant-backend/internal/shared/storage/object"
	"plant-backend/internal/shared/telemetry"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const queueMessageVersion = 1

// Service contains business logic for analyses.
type Service struct {
	Repo     Repo
	Store    object.ObjectStore
	Pipeline *analysis.Pipeline
	JobQueue queue.Client
	Provider string
	Model    string
}

// RunSync executes the pipeline synchronously and records the outcome.
func (s *Service) RunSync(ctx context.Context, fileName string, image []byte, category analysis.Category, opts analysis.PreprocessOptions, persistContext bool) (analysis.Result, Analysis, error) {
	if len(image) == 0 {
		return analysis.Result{}, Analysis{}, &analysis.ValidationError{Msg: "image payload is empty"}
	}
	if s.Pipeline == nil {
		return analysis.Result{}, Analysis{}, errors.New("missing analysis pipeline")
	}

	imageKey := s.saveImage(ctx, fileName, image)

	startedAt := time.Now().UTC()
	record := Analysis{
		ID:               uuid.NewString(),
		Category:         string(category),
		FileName:         fileName,
		ImageKey:         imageKey,
		Provider:         normalizeProvider(s.Provider),
		Model:            s.Model,
		Status:           StatusProcessing,
		EnhanceImage:     opts.Enhance,
		RemoveBackground: opts.RemoveBackground,
		PersistContext:   persistContext,
		StartedAt:        &startedAt,
		CreatedAt:        startedAt,
	}
	if err := s.Repo.Create(ctx, record); err != nil {
		return analysis.Result{}, Analysis{}, fmt.Errorf("create analysis record: %w", err)
	}

	result := s.pipelineFor(ctx, record.ID).AnalyzeOne(ctx, analysis.Request{
		ID:       record.ID,
		Image:    image,
		Category: category,
		Options:  opts,
		Persist:  persistContext,
	})

	completedAt := time.Now().UTC()
	if result.Success {
		if err := s.Repo.UpdateStatusResultAndError(ctx, record.ID, StatusCompleted, resultDocument(result), nil, nil, nil, &startedAt, &completedAt); err != nil {
			telemetry.Error("analysis.record_update_failed", map[string]any{
				"request_id":  requestIDFromContext(ctx),
				"analysis_id": record.ID,
				"error":       err.Error(),
			})
		}
		record.Status = StatusCompleted
		record.Result = resultDocument(result)
		record.CompletedAt = &completedAt
		telemetry.Info("analysis.status", map[string]any{
			"request_id":        requestIDFromContext(ctx),
			"analysis_id":       record.ID,
			"category":          record.Category,
			"status":            StatusCompleted,
			"status_transition": "processing->completed",
			"duration_ms":       durationMs(&startedAt, &completedAt),
		})
	} else {
		s.failAnalysis(ctx, record.ID, record.Category, errors.New(result.ErrorMessage), &startedAt)
		record.Status = StatusFailed
		record.CompletedAt = &completedAt
	}

	return result, record, nil
}

// RunBatch executes up to MaxBatchSize pipelines concurrently.
func (s *Service) RunBatch(ctx context.Context, requests []analysis.Request) (map[string]analysis.Result, error) {
	if s.Pipeline == nil {
		return nil, errors.New("missing analysis pipeline")
	}
	return s.Pipeline.AnalyzeMany(ctx, requests)
}

// Create stores the image, enqueues a job, and returns a queued analysis.
func (s *Service) Create(ctx context.Context, fileName string, image []byte, category analysis.Category, opts analysis.PreprocessOptions, persistContext bool) (Analysis, error) {
	if len(image) == 0 {
		return Analysis{}, &analysis.ValidationError{Msg: "image payload is empty"}
	}
	if s.JobQueue == nil {
		return Analysis{}, ErrJobQueueNotConfigured
	}
	if s.Store == nil {
		return Analysis{}, errors.New("missing object store")
	}

	imageKey, _, _, err := s.Store.Save(ctx, "plants", fileName, bytes.NewReader(image))
	if err != nil {
		return Analysis{}, fmt.Errorf("storage save image: %w", err)
	}

	record := Analysis{
		ID:               uuid.NewString(),
		Category:         string(category),
		FileName:         fileName,
		ImageKey:         imageKey,
		Provider:         normalizeProvider(s.Provider),
		Model:            s.Model,
		Status:           StatusQueued,
		EnhanceImage:     opts.Enhance,
		RemoveBackground: opts.RemoveBackground,
		PersistContext:   persistContext,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, record); err != nil {
		return Analysis{}, fmt.Errorf("create analysis record: %w", err)
	}

	msg := queue.Message{
		AnalysisID: record.ID,
		RequestID:  requestIDFromContext(ctx),
		EnqueuedAt: record.CreatedAt.Format(time.RFC3339),
		Version:    queueMessageVersion,
	}
	if err := s.JobQueue.Send(ctx, msg); err != nil {
		s.failAnalysis(ctx, record.ID, record.Category, fmt.Errorf("enqueue analysis job: %w", err), nil)
		return Analysis{}, fmt.Errorf("enqueue analysis job: %w", err)
	}

	telemetry.Info("analysis.enqueued", map[string]any{
		"request_id":  requestIDFromContext(ctx),
		"analysis_id": record.ID,
		"category":    record.Category,
	})
	return record, nil
}

// Get returns an analysis by ID.
func (s *Service) Get(ctx context.Context, analysisID string) (Analysis, error) {
	if analysisID == "" {
		return Analysis{}, errors.New("analysisID is required")
	}
	return s.Repo.GetByID(ctx, analysisID)
}

// List returns analyses ordered newest-first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Analysis, error) {
	return s.Repo.List(ctx, limit, offset)
}

// ProcessAnalysis runs a queued analysis to completion. Worker entry point.
func (s *Service) ProcessAnalysis(ctx context.Context, analysisID string) error {
	defer func() {
		if r := recover(); r != nil {
			s.failAnalysis(ctx, analysisID, "", fmt.Errorf("panic: %v", r), nil)
		}
	}()
	startedAt := time.Now().UTC()
	if err := s.Repo.UpdateStatusResultAndError(ctx, analysisID, StatusProcessing, nil, nil, nil, nil, &startedAt, nil); err != nil {
		s.failAnalysis(ctx, analysisID, "", fmt.Errorf("set processing failed: %w", err), &startedAt)
		return err
	}

	record, err := s.Repo.GetByID(ctx, analysisID)
	if err != nil {
		s.failAnalysis(ctx, analysisID, "", fmt.Errorf("analysis lookup: %w", err), &startedAt)
		return err
	}
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"analysis_id":       record.ID,
		"category":          record.Category,
		"status":            StatusProcessing,
		"status_transition": "queued->processing",
	})
	if s.Store == nil || s.Pipeline == nil {
		err := errors.New("missing image store dependencies")
		s.failAnalysis(ctx, analysisID, record.Category, err, &startedAt)
		return err
	}

	category, err := analysis.ParseCategory(record.Category)
	if err != nil {
		s.failAnalysis(ctx, analysisID, record.Category, err, &startedAt)
		return nil
	}

	image, err := s.loadImage(ctx, record.ImageKey)
	if err != nil {
		err = fmt.Errorf("storage load key=%s: %w", record.ImageKey, err)
		s.failAnalysis(ctx, analysisID, record.Category, err, &startedAt)
		return err
	}

	result := s.pipelineFor(ctx, record.ID).AnalyzeOne(ctx, analysis.Request{
		ID:       record.ID,
		Image:    image,
		Category: category,
		Options: analysis.PreprocessOptions{
			Enhance:          record.EnhanceImage,
			RemoveBackground: record.RemoveBackground,
		},
		Persist: record.PersistContext,
	})

	completedAt := time.Now().UTC()
	if !result.Success {
		failure := errors.New(result.ErrorMessage)
		s.failAnalysis(ctx, analysisID, record.Category, failure, &startedAt)
		if _, retryable := analysis.ClassifyFailure(failure); retryable {
			return fmt.Errorf("analysis %s failed: %s", analysisID, result.ErrorMessage)
		}
		return nil
	}

	if err := s.Repo.UpdateStatusResultAndError(ctx, analysisID, StatusCompleted, resultDocument(result), nil, nil, nil, &startedAt, &completedAt); err != nil {
		s.failAnalysis(ctx, analysisID, record.Category, fmt.Errorf("set analysis result failed: %w", err), &startedAt)
		return err
	}
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"analysis_id":       record.ID,
		"category":          record.Category,
		"status":            StatusCompleted,
		"status_transition": "processing->completed",
		"duration_ms":       durationMs(&startedAt, &completedAt),
	})
	return nil
}

// pipelineFor shallow-copies the pipeline with a retrying inference client
// so retries are logged with the analysis and request ids.
func (s *Service) pipelineFor(ctx context.Context, analysisID string) *analysis.Pipeline {
	p := *s.Pipeline
	p.Inferencer = newRetryingInferencer(p.Inferencer, analysisID, requestIDFromContext(ctx))
	return &p
}

func (s *Service) saveImage(ctx context.Context, fileName string, image []byte) string {
	if s.Store == nil {
		return ""
	}
	key, _, _, err := s.Store.Save(ctx, "plants", fileName, bytes.NewReader(image))
	if err != nil {
		telemetry.Error("analysis.image_save_failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"file_name":  fileName,
			"error":      err.Error(),
		})
		return ""
	}
	return key
}

func (s *Service) loadImage(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("storage key is empty")
	}
	body, err := s.Store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func (s *Service) failAnalysis(ctx context.Context, analysisID, category string, err error, startedAt *time.Time) {
	code, retryable := analysis.ClassifyFailure(err)
	msg := analysis.SanitizeError(err)
	completedAt := time.Now().UTC()
	if updateErr := s.Repo.UpdateStatusResultAndError(context.Background(), analysisID, StatusFailed, nil, &code, &msg, &retryable, startedAt, &completedAt); updateErr != nil {
		fmt.Printf("failAnalysis: update failed id=%s err=%v orig=%v\n", analysisID, updateErr, err)
	}
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"analysis_id":       analysisID,
		"category":          category,
		"status":            StatusFailed,
		"status_transition": "processing->failed",
		"error_code":        code,
		"duration_ms":       durationMs(startedAt, &completedAt),
	})
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}

func normalizeProvider(provider string) string {
	if strings.TrimSpace(provider) == "" {
		return "openai"
	}
	return provider
}

func resultDocument(result analysis.Result) map[string]any {
	payload, err := json.Marshal(result)
	if err != nil {
		return map[string]any{"success": result.Success}
	}
	doc := map[string]any{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return map[string]any{"success": result.Success}
	}
	return doc
}
