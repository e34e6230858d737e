package analyses

import "time"

// Analysis represents a plant image analysis job.
type Analysis struct {
	ID               string         `json:"id"`
	Category         string         `json:"category"`
	FileName         string         `json:"fileName"`
	ImageKey         string         `json:"imageKey,omitempty"`
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	Status           string         `json:"status"`
	EnhanceImage     bool           `json:"enhanceImage"`
	RemoveBackground bool           `json:"removeBackground"`
	PersistContext   bool           `json:"persistContext"`
	Result           map[string]any `json:"result,omitempty"`
	ErrorCode        string         `json:"errorCode,omitempty"`
	ErrorMessage     *string        `json:"errorMessage,omitempty"`
	ErrorRetryable   bool           `json:"errorRetryable,omitempty"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}
