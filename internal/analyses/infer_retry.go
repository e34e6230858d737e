package analyses

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"plant-backend/internal/analysis"
	"plant-backend/internal/shared/telemetry"
)

const inferRetryBaseDelay = 300 * time.Millisecond

type retryingInferencer struct {
	base       analysis.Inferencer
	analysisID string
	requestID  string
}

func newRetryingInferencer(base analysis.Inferencer, analysisID, requestID string) analysis.Inferencer {
	if base == nil {
		return nil
	}
	return retryingInferencer{
		base:       base,
		analysisID: analysisID,
		requestID:  requestID,
	}
}

// Infer retries transient inference failures twice with doubling backoff.
func (r retryingInferencer) Infer(ctx context.Context, image []byte, prompt string) (string, error) {
	resp, err := r.base.Infer(ctx, image, prompt)
	if err == nil || !shouldRetryInference(err) {
		return resp, err
	}

	delay := inferRetryBaseDelay
	for attempt := 1; attempt <= 2; attempt++ {
		telemetry.Info("inference.retry", map[string]any{
			"request_id":  r.requestID,
			"analysis_id": r.analysisID,
			"attempt":     attempt,
			"error":       err.Error(),
		})
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		resp, err = r.base.Infer(ctx, image, prompt)
		if err == nil || !shouldRetryInference(err) {
			return resp, err
		}
		delay *= 2
	}
	return resp, err
}

func (r retryingInferencer) Model() string {
	return r.base.Model()
}

func shouldRetryInference(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") {
		return true
	}
	return false
}
