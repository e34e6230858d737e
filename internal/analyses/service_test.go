package analyses

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"plant-backend/internal/analysis"
	"plant-backend/internal/queue"
	"plant-backend/internal/shared/storage/object"
	"plant-backend/internal/shared/storage/object/local"
)

type stubPreprocessor struct{}

func (stubPreprocessor) Preprocess(ctx context.Context, image []byte, opts analysis.PreprocessOptions) ([]byte, error) {
	_ = ctx
	_ = opts
	return image, nil
}

type stubInferencer struct {
	resp  string
	err   error
	calls int32
}

func (s *stubInferencer) Infer(ctx context.Context, image []byte, prompt string) (string, error) {
	_ = ctx
	_ = image
	_ = prompt
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return "", s.err
	}
	return s.resp, nil
}

func (s *stubInferencer) Model() string { return "gpt-4o-mini" }

type fakeQueue struct {
	sent []queue.Message
	err  error
}

func (q *fakeQueue) Send(ctx context.Context, msg queue.Message) error {
	_ = ctx
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, msg)
	return nil
}

func newTestService(t *testing.T, inferencer analysis.Inferencer, jobQueue queue.Client) (*Service, *MemoryRepo, object.ObjectStore) {
	t.Helper()
	repo := NewMemoryRepo()
	store := local.New(t.TempDir())
	svc := &Service{
		Repo: repo,
		Store: store,
		Pipeline: &analysis.Pipeline{
			Preprocessor: stubPreprocessor{},
			Inferencer:   inferencer,
			Formatter:    analysis.Formatter{},
		},
		JobQueue: jobQueue,
		Provider: "openai",
		Model:    "gpt-4o-mini",
	}
	return svc, repo, store
}

func TestRunSyncRecordsCompletedAnalysis(t *testing.T) {
	inferencer := &stubInferencer{resp: `{"plant_type": "Basil", "health_status": "healthy", "recommendations": ["water daily"]}`}
	svc, repo, _ := newTestService(t, inferencer, nil)

	result, record, err := svc.RunSync(context.Background(), "leaf.jpg", []byte("image-bytes"), analysis.CategoryComplete, analysis.PreprocessOptions{Enhance: true}, false)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful result, got error %q", result.ErrorMessage)
	}
	if result.PlantType != "Basil" {
		t.Fatalf("plant type = %q, want Basil", result.PlantType)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("record status = %q, want %q", record.Status, StatusCompleted)
	}
	if record.ImageKey == "" {
		t.Fatalf("expected image to be stored")
	}

	stored, err := repo.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("stored status = %q, want %q", stored.Status, StatusCompleted)
	}
	if stored.Result["plant_type"] != "Basil" {
		t.Fatalf("stored result plant_type = %v", stored.Result["plant_type"])
	}
	if stored.StartedAt == nil || stored.CompletedAt == nil {
		t.Fatalf("expected timestamps, got started=%v completed=%v", stored.StartedAt, stored.CompletedAt)
	}
}

func TestRunSyncInferenceFailureMarksRowFailed(t *testing.T) {
	inferencer := &stubInferencer{err: &analysis.InferenceError{Err: errors.New("quota exceeded")}}
	svc, repo, _ := newTestService(t, inferencer, nil)

	result, record, err := svc.RunSync(context.Background(), "leaf.jpg", []byte("image-bytes"), analysis.CategoryDisease, analysis.PreprocessOptions{}, false)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failed result")
	}
	if result.ErrorMessage != "quota exceeded" {
		t.Fatalf("error message = %q, want quota exceeded", result.ErrorMessage)
	}

	stored, err := repo.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Fatalf("stored status = %q, want %q", stored.Status, StatusFailed)
	}
	if stored.ErrorCode != analysis.ErrorCodeInference {
		t.Fatalf("error code = %q, want %q", stored.ErrorCode, analysis.ErrorCodeInference)
	}
	if !stored.ErrorRetryable {
		t.Fatalf("expected inference failure to be retryable")
	}
	if stored.ErrorMessage == nil || *stored.ErrorMessage != "quota exceeded" {
		t.Fatalf("stored error message = %v", stored.ErrorMessage)
	}
}

func TestRunSyncRejectsEmptyImage(t *testing.T) {
	svc, _, _ := newTestService(t, &stubInferencer{resp: "{}"}, nil)

	_, _, err := svc.RunSync(context.Background(), "leaf.jpg", nil, analysis.CategoryComplete, analysis.PreprocessOptions{}, false)
	var vErr *analysis.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateWithoutQueueFails(t *testing.T) {
	svc, _, _ := newTestService(t, &stubInferencer{resp: "{}"}, nil)

	_, err := svc.Create(context.Background(), "leaf.jpg", []byte("image-bytes"), analysis.CategoryComplete, analysis.PreprocessOptions{}, true)
	if !errors.Is(err, ErrJobQueueNotConfigured) {
		t.Fatalf("expected ErrJobQueueNotConfigured, got %v", err)
	}
}

func TestCreateEnqueuesQueuedAnalysis(t *testing.T) {
	jobQueue := &fakeQueue{}
	svc, repo, _ := newTestService(t, &stubInferencer{resp: "{}"}, jobQueue)

	record, err := svc.Create(context.Background(), "leaf.jpg", []byte("image-bytes"), analysis.CategoryGrowth, analysis.PreprocessOptions{Enhance: true}, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.Status != StatusQueued {
		t.Fatalf("status = %q, want %q", record.Status, StatusQueued)
	}
	if record.ImageKey == "" {
		t.Fatalf("expected image key")
	}
	if len(jobQueue.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(jobQueue.sent))
	}
	if jobQueue.sent[0].AnalysisID != record.ID {
		t.Fatalf("message analysis id = %q, want %q", jobQueue.sent[0].AnalysisID, record.ID)
	}

	stored, err := repo.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Category != string(analysis.CategoryGrowth) {
		t.Fatalf("stored category = %q", stored.Category)
	}
}

func TestCreateEnqueueFailureMarksRowFailed(t *testing.T) {
	jobQueue := &fakeQueue{err: errors.New("sqs unavailable")}
	svc, repo, _ := newTestService(t, &stubInferencer{resp: "{}"}, jobQueue)

	_, err := svc.Create(context.Background(), "leaf.jpg", []byte("image-bytes"), analysis.CategoryComplete, analysis.PreprocessOptions{}, true)
	if err == nil {
		t.Fatalf("expected enqueue error")
	}

	records, err := repo.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Status != StatusFailed {
		t.Fatalf("status = %q, want %q", records[0].Status, StatusFailed)
	}
}

func TestProcessAnalysisCompletesQueuedRow(t *testing.T) {
	inferencer := &stubInferencer{resp: `{"plant_type": "Monstera", "health_status": "healthy"}`}
	svc, repo, store := newTestService(t, inferencer, nil)

	imageKey, _, _, err := store.Save(context.Background(), "plants", "leaf.jpg", strings.NewReader("image-bytes"))
	if err != nil {
		t.Fatalf("save image: %v", err)
	}
	record := Analysis{
		ID:        "11111111-1111-1111-1111-111111111111",
		Category:  string(analysis.CategoryIdentification),
		FileName:  "leaf.jpg",
		ImageKey:  imageKey,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), record); err != nil {
		t.Fatalf("create record: %v", err)
	}

	if err := svc.ProcessAnalysis(context.Background(), record.ID); err != nil {
		t.Fatalf("ProcessAnalysis: %v", err)
	}

	stored, err := repo.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("status = %q, want %q", stored.Status, StatusCompleted)
	}
	if stored.Result["plant_type"] != "Monstera" {
		t.Fatalf("result plant_type = %v", stored.Result["plant_type"])
	}
	if atomic.LoadInt32(&inferencer.calls) != 1 {
		t.Fatalf("inference calls = %d, want 1", inferencer.calls)
	}
}

func TestProcessAnalysisMissingImageFailsWithStorageCode(t *testing.T) {
	svc, repo, _ := newTestService(t, &stubInferencer{resp: "{}"}, nil)

	record := Analysis{
		ID:        "22222222-2222-2222-2222-222222222222",
		Category:  string(analysis.CategoryComplete),
		FileName:  "leaf.jpg",
		ImageKey:  "missing/leaf.jpg",
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), record); err != nil {
		t.Fatalf("create record: %v", err)
	}

	if err := svc.ProcessAnalysis(context.Background(), record.ID); err == nil {
		t.Fatalf("expected error for missing image")
	}

	stored, err := repo.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", stored.Status, StatusFailed)
	}
	if stored.ErrorCode != analysis.ErrorCodeStorage {
		t.Fatalf("error code = %q, want %q", stored.ErrorCode, analysis.ErrorCodeStorage)
	}
}

func TestProcessAnalysisUnknownIDReturnsError(t *testing.T) {
	svc, _, _ := newTestService(t, &stubInferencer{resp: "{}"}, nil)

	if err := svc.ProcessAnalysis(context.Background(), "does-not-exist"); err == nil {
		t.Fatalf("expected error for unknown analysis")
	}
}
