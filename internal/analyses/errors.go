package analyses

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrJobQueueNotConfigured = errors.New("job queue not configured")
)
