package health

import (
	"context"
	"database/sql"
)

// ContextStore is the slice of the vector store client the health check needs.
type ContextStore interface {
	Heartbeat(ctx context.Context) error
}

// Service encapsulates health-related checks.
type Service struct {
	DB    *sql.DB
	Store ContextStore
}

// NewService constructs a new health service.
func NewService(db *sql.DB, store ContextStore) *Service {
	return &Service{DB: db, Store: store}
}

// Report describes overall and per-component health.
type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Status probes the database and the vector store. A dead database makes the
// service unhealthy; an unreachable vector store only degrades it, since
// analyses still run without retrieved context.
func (s *Service) Status(ctx context.Context) Report {
	components := map[string]string{}
	unhealthy := false
	degraded := false

	if s.DB == nil {
		components["database"] = "memory"
	} else if err := s.DB.PingContext(ctx); err != nil {
		components["database"] = "unreachable"
		unhealthy = true
	} else {
		components["database"] = "ok"
	}

	if s.Store == nil {
		components["context_store"] = "disabled"
	} else if err := s.Store.Heartbeat(ctx); err != nil {
		components["context_store"] = "unreachable"
		degraded = true
	} else {
		components["context_store"] = "ok"
	}

	status := "ok"
	if degraded {
		status = "degraded"
	}
	if unhealthy {
		status = "unhealthy"
	}
	return Report{Status: status, Components: components}
}
