package analysis

import (
	"context"
	"errors"
	"strings"
)

const (
	ErrorCodeValidation       = "VALIDATION_ERROR"
	ErrorCodeImage            = "IMAGE_ERROR"
	ErrorCodeInference        = "INFERENCE_ERROR"
	ErrorCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrorCodePersist          = "PERSIST_FAILURE"
	ErrorCodeStorage          = "STORAGE_ERROR"
	ErrorCodeInternal         = "INTERNAL_ERROR"
)

// ValidationError rejects a request before any pipeline work begins.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ImageError marks bad image input. Fatal for the item it belongs to.
type ImageError struct {
	Err error
}

func (e *ImageError) Error() string { return e.Err.Error() }
func (e *ImageError) Unwrap() error { return e.Err }

// InferenceError marks a failed model call. Fatal for the item it belongs to.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return e.Err.Error() }
func (e *InferenceError) Unwrap() error { return e.Err }

// StoreUnavailable marks a failed vector-store call. Never fatal; retrieval
// degrades to an empty context set and persistence is discarded.
type StoreUnavailable struct {
	Err error
}

func (e *StoreUnavailable) Error() string { return e.Err.Error() }
func (e *StoreUnavailable) Unwrap() error { return e.Err }

// ClassifyFailure maps an error to a stable error code and whether a retry
// could plausibly succeed.
func ClassifyFailure(err error) (string, bool) {
	if err == nil {
		return ErrorCodeInternal, false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ErrorCodeValidation, false
	}
	var ie *ImageError
	if errors.As(err, &ie) {
		return ErrorCodeImage, false
	}
	var fe *InferenceError
	if errors.As(err, &fe) {
		return ErrorCodeInference, true
	}
	var se *StoreUnavailable
	if errors.As(err, &se) {
		return ErrorCodeStoreUnavailable, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeInference, true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "image") || strings.Contains(msg, "decode") {
		return ErrorCodeImage, false
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") {
		return ErrorCodeInference, true
	}
	if strings.Contains(msg, "storage") || strings.Contains(msg, "analysis result") || strings.Contains(msg, "set processing") {
		return ErrorCodeStorage, true
	}
	return ErrorCodeInternal, false
}

// SanitizeError flattens an error message to a single bounded line.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
