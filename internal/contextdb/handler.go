package contextdb

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"plant-backend/internal/analysis"
	"plant-backend/internal/shared/server/respond"
)

// Handler exposes read-only vector store lookups over HTTP.
type Handler struct {
	Client *Client
}

// NewHandler constructs a Handler.
func NewHandler(client *Client) *Handler {
	return &Handler{Client: client}
}

// RegisterRoutes attaches context store routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/context/records/:id", h.getRecord)
	rg.GET("/context/stats", h.getStats)
}

func (h *Handler) getRecord(c *gin.Context) {
	if h.Client == nil {
		respond.Error(c, http.StatusServiceUnavailable, "store_unavailable", "context store is not configured", nil)
		return
	}
	recordID := c.Param("id")
	if recordID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "record id is required", nil)
		return
	}

	record, found, err := h.Client.Get(c.Request.Context(), recordID)
	if err != nil {
		var unavailable *analysis.StoreUnavailable
		if errors.As(err, &unavailable) {
			respond.Error(c, http.StatusServiceUnavailable, "store_unavailable", "context store is unreachable", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch context record", nil)
		return
	}
	if !found {
		respond.Error(c, http.StatusNotFound, "not_found", "context record not found", nil)
		return
	}

	respond.JSON(c, http.StatusOK, record)
}

func (h *Handler) getStats(c *gin.Context) {
	if h.Client == nil {
		respond.Error(c, http.StatusServiceUnavailable, "store_unavailable", "context store is not configured", nil)
		return
	}

	stats, err := h.Client.Stats(c.Request.Context())
	if err != nil {
		var unavailable *analysis.StoreUnavailable
		if errors.As(err, &unavailable) {
			respond.Error(c, http.StatusServiceUnavailable, "store_unavailable", "context store is unreachable", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch context stats", nil)
		return
	}

	respond.JSON(c, http.StatusOK, stats)
}
