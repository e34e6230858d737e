package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
)

type fakePreprocessor struct {
	calls atomic.Int64
	err   error
}

func (p *fakePreprocessor) Preprocess(_ context.Context, image []byte, _ PreprocessOptions) ([]byte, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return image, nil
}

type fakeInferencer struct {
	response string
	err      error
	prompts  []string
}

func (i *fakeInferencer) Infer(_ context.Context, _ []byte, prompt string) (string, error) {
	i.prompts = append(i.prompts, prompt)
	if i.err != nil {
		return "", i.err
	}
	return i.response, nil
}

func (i *fakeInferencer) Model() string { return "test-model" }

func newPipeline(store *fakeStore, inferencer *fakeInferencer) *Pipeline {
	return &Pipeline{
		Preprocessor: &fakePreprocessor{},
		Inferencer:   inferencer,
		Store:        store,
	}
}

func TestAnalyzeOneHappyPath(t *testing.T) {
	store := &fakeStore{results: map[string][]ContextRecord{
		Plan(CategoryIdentification)[0]: {record("ctx-1")},
	}}
	inferencer := &fakeInferencer{response: `{"plant_type":"Basil"}`}
	pipeline := newPipeline(store, inferencer)

	result := pipeline.AnalyzeOne(context.Background(), Request{
		ID:       "req-1",
		Image:    []byte("img"),
		Category: CategoryIdentification,
	})

	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.ErrorMessage)
	}
	if result.PlantType != "Basil" {
		t.Fatalf("expected Basil, got %q", result.PlantType)
	}
	if result.Model != "test-model" {
		t.Fatalf("unexpected model %q", result.Model)
	}
	if !result.ContextUsed || result.ContextRecords != 1 {
		t.Fatalf("expected 1 context record, got used=%v n=%d", result.ContextUsed, result.ContextRecords)
	}
	if len(inferencer.prompts) != 1 {
		t.Fatalf("expected exactly one inference call, got %d", len(inferencer.prompts))
	}
}

func TestAnalyzeOneInferenceFailureBecomesFailedResult(t *testing.T) {
	inferencer := &fakeInferencer{err: &InferenceError{Err: errors.New("quota exceeded")}}
	pipeline := newPipeline(&fakeStore{}, inferencer)

	result := pipeline.AnalyzeOne(context.Background(), Request{ID: "req-1", Category: CategoryComplete})

	if result.Success {
		t.Fatal("expected failed result")
	}
	if result.ErrorMessage != "quota exceeded" {
		t.Fatalf("unexpected error message %q", result.ErrorMessage)
	}
}

func TestAnalyzeOneImageFailureBecomesFailedResult(t *testing.T) {
	pipeline := newPipeline(&fakeStore{}, &fakeInferencer{response: "ok"})
	pipeline.Preprocessor = &fakePreprocessor{err: errors.New("unsupported image format")}

	result := pipeline.AnalyzeOne(context.Background(), Request{ID: "req-1", Category: CategoryComplete})

	if result.Success {
		t.Fatal("expected failed result")
	}
	if result.ErrorMessage != "unsupported image format" {
		t.Fatalf("unexpected error message %q", result.ErrorMessage)
	}
}

func TestAnalyzeOneRetrievalFailureDegradesOnly(t *testing.T) {
	store := &fakeStore{searchErr: &StoreUnavailable{Err: errors.New("down")}}
	inferencer := &fakeInferencer{response: `{"health_status":"healthy"}`}
	pipeline := newPipeline(store, inferencer)

	result := pipeline.AnalyzeOne(context.Background(), Request{ID: "req-1", Category: CategoryDisease})

	if !result.Success {
		t.Fatalf("retrieval failure must not fail the analysis: %s", result.ErrorMessage)
	}
	if result.ContextUsed || result.ContextRecords != 0 {
		t.Fatal("expected no context on store failure")
	}
	if len(inferencer.prompts) != 1 {
		t.Fatal("inference must still run without context")
	}
	if inferencer.prompts[0] != Compose(CategoryDisease, "") {
		t.Fatal("prompt must fall back to base instructions")
	}
}

func TestAnalyzeOnePersistsResult(t *testing.T) {
	store := &fakeStore{}
	inferencer := &fakeInferencer{response: `{"plant_type":"Basil","health_status":"healthy"}`}
	pipeline := newPipeline(store, inferencer)

	result := pipeline.AnalyzeOne(context.Background(), Request{
		ID:       "req-1",
		Category: CategoryComplete,
		Persist:  true,
	})

	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.ErrorMessage)
	}
	if len(store.upserted) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(store.upserted))
	}
	stored := store.upserted[0]
	if stored.Document != inferencer.response {
		t.Fatal("stored document must be the raw model output")
	}
	if stored.Metadata["analysis_type"] != string(CategoryComplete) {
		t.Fatalf("unexpected metadata %v", stored.Metadata)
	}
	if stored.Metadata["plant_type"] != "Basil" || stored.Metadata["health_status"] != "healthy" {
		t.Fatalf("derived fields missing from metadata: %v", stored.Metadata)
	}
}

func TestAnalyzeOnePersistFailureDoesNotAffectResult(t *testing.T) {
	store := &fakeStore{upsertErr: errors.New("write refused")}
	inferencer := &fakeInferencer{response: "phân tích"}
	pipeline := newPipeline(store, inferencer)

	result := pipeline.AnalyzeOne(context.Background(), Request{ID: "req-1", Category: CategoryComplete, Persist: true})

	if !result.Success {
		t.Fatalf("persist failure must not fail the analysis: %s", result.ErrorMessage)
	}
}

func TestAnalyzeManyCapsBatchSize(t *testing.T) {
	pre := &fakePreprocessor{}
	pipeline := newPipeline(&fakeStore{}, &fakeInferencer{response: "ok"})
	pipeline.Preprocessor = pre

	reqs := make([]Request, MaxBatchSize+1)
	for i := range reqs {
		reqs[i] = Request{ID: fmt.Sprintf("req-%d", i), Category: CategoryComplete}
	}

	_, err := pipeline.AnalyzeMany(context.Background(), reqs)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if pre.calls.Load() != 0 {
		t.Fatal("no preprocessing may run when the batch is rejected")
	}
}

func TestAnalyzeManyReportsPartialSuccess(t *testing.T) {
	inferencer := &fakeInferencer{response: `{"plant_type":"Basil"}`}
	pipeline := newPipeline(&fakeStore{}, inferencer)

	reqs := []Request{
		{ID: "ok", Category: CategoryComplete},
		{ID: "bad", Category: CategoryComplete},
	}
	// Second item fails preprocessing; first still succeeds.
	failFor := map[string]bool{"bad": true}
	pipeline.Preprocessor = preprocessorFunc(func(_ context.Context, image []byte, _ PreprocessOptions) ([]byte, error) {
		if failFor[string(image)] {
			return nil, errors.New("corrupt image")
		}
		return image, nil
	})
	reqs[0].Image = []byte("ok-img")
	reqs[1].Image = []byte("bad")

	results, err := pipeline.AnalyzeMany(context.Background(), reqs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results["ok"].Success {
		t.Fatalf("first item should succeed: %s", results["ok"].ErrorMessage)
	}
	if results["bad"].Success {
		t.Fatal("second item should fail")
	}
}

type preprocessorFunc func(ctx context.Context, image []byte, opts PreprocessOptions) ([]byte, error)

func (f preprocessorFunc) Preprocess(ctx context.Context, image []byte, opts PreprocessOptions) ([]byte, error) {
	return f(ctx, image, opts)
}
