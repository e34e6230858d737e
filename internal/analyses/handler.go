package analyses

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"plant-backend/internal/analysis"
	"plant-backend/internal/shared/server/respond"
)

const maxImageBytes = 10 << 20

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc  *Service
	poll *pollLimiter
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc, poll: newPollLimiter(0, nil)}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyze", h.analyze)
	rg.POST("/analyze/batch", h.analyzeBatch)
	rg.POST("/analyze/:category", h.analyzeCategory)
	rg.POST("/analyses", h.createAnalysis)
	rg.GET("/analyses", h.listAnalyses)
	rg.GET("/analyses/:id", h.getAnalysis)
	rg.GET("/analysis/types", h.analysisTypes)
}

func (h *Handler) analyze(c *gin.Context) {
	h.runSync(c, c.PostForm("category"))
}

func (h *Handler) analyzeCategory(c *gin.Context) {
	h.runSync(c, c.Param("category"))
}

func (h *Handler) runSync(c *gin.Context, rawCategory string) {
	category, ok := parseCategoryParam(c, rawCategory)
	if !ok {
		return
	}

	fileName, image, ok := readImageUpload(c, "image")
	if !ok {
		return
	}

	opts, persist := readAnalysisOptions(c)
	result, record, err := h.Svc.RunSync(c.Request.Context(), fileName, image, category, opts, persist)
	if err != nil {
		var vErr *analysis.ValidationError
		if errors.As(err, &vErr) {
			respond.Error(c, http.StatusBadRequest, "validation_error", vErr.Msg, nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to run analysis", nil)
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"analysisId": record.ID,
		"status":     record.Status,
		"result":     result,
	})
}

func (h *Handler) analyzeBatch(c *gin.Context) {
	category, ok := parseCategoryParam(c, c.PostForm("category"))
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "multipart form is required", nil)
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "at least one image is required", nil)
		return
	}
	if len(files) > analysis.MaxBatchSize {
		respond.Error(c, http.StatusBadRequest, "validation_error",
			"batch size exceeds maximum of "+strconv.Itoa(analysis.MaxBatchSize), nil)
		return
	}

	opts, persist := readAnalysisOptions(c)
	requests := make([]analysis.Request, 0, len(files))
	for _, fh := range files {
		image, err := readFileHeader(fh)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "failed to read "+fh.Filename, nil)
			return
		}
		requests = append(requests, analysis.Request{
			ID:       fh.Filename,
			Image:    image,
			Category: category,
			Options:  opts,
			Persist:  persist,
		})
	}

	results, err := h.Svc.RunBatch(c.Request.Context(), requests)
	if err != nil {
		var vErr *analysis.ValidationError
		if errors.As(err, &vErr) {
			respond.Error(c, http.StatusBadRequest, "validation_error", vErr.Msg, nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to run batch analysis", nil)
		return
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"total":     len(results),
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
		"results":   results,
	})
}

func (h *Handler) createAnalysis(c *gin.Context) {
	category, ok := parseCategoryParam(c, c.PostForm("category"))
	if !ok {
		return
	}

	fileName, image, ok := readImageUpload(c, "image")
	if !ok {
		return
	}

	opts, persist := readAnalysisOptions(c)
	record, err := h.Svc.Create(c.Request.Context(), fileName, image, category, opts, persist)
	if err != nil {
		var vErr *analysis.ValidationError
		switch {
		case errors.As(err, &vErr):
			respond.Error(c, http.StatusBadRequest, "validation_error", vErr.Msg, nil)
		case errors.Is(err, ErrJobQueueNotConfigured):
			respond.Error(c, http.StatusServiceUnavailable, "queue_unavailable", "asynchronous analysis is not available", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to create analysis", nil)
		}
		return
	}

	respond.JSON(c, http.StatusAccepted, gin.H{
		"analysisId": record.ID,
		"status":     record.Status,
	})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	if analysisID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "analysis id is required", nil)
		return
	}

	if !h.poll.Allow(c.ClientIP(), analysisID) {
		c.Header("Retry-After", strconv.Itoa(h.poll.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "status polling is limited; retry shortly", nil)
		return
	}

	record, err := h.Svc.Get(c.Request.Context(), analysisID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis", nil)
		}
		return
	}

	resp := gin.H{
		"id":        record.ID,
		"category":  record.Category,
		"status":    record.Status,
		"createdAt": record.CreatedAt,
	}
	if record.Status == StatusCompleted && record.Result != nil {
		resp["result"] = record.Result
	}
	if record.Status == StatusFailed {
		resp["errorCode"] = record.ErrorCode
		if record.ErrorMessage != nil {
			resp["errorMessage"] = *record.ErrorMessage
		}
	}

	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) listAnalyses(c *gin.Context) {
	limit := 20
	offset := 0

	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}

	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	records, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list analyses", nil)
		return
	}

	resp := make([]gin.H, 0, len(records))
	for _, a := range records {
		item := gin.H{
			"analysisId": a.ID,
			"category":   a.Category,
			"fileName":   a.FileName,
			"status":     a.Status,
			"createdAt":  a.CreatedAt,
		}
		if a.Status == StatusCompleted && a.Result != nil {
			if pt, ok := a.Result["plant_type"]; ok {
				item["plantType"] = pt
			}
			if hs, ok := a.Result["health_status"]; ok {
				item["healthStatus"] = hs
			}
		}
		resp = append(resp, item)
	}

	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) analysisTypes(c *gin.Context) {
	categories := analysis.Categories()
	types := make([]gin.H, 0, len(categories))
	for _, cat := range categories {
		types = append(types, gin.H{
			"type":        string(cat),
			"description": analysis.Describe(cat),
		})
	}
	respond.JSON(c, http.StatusOK, gin.H{"types": types})
}

func parseCategoryParam(c *gin.Context, raw string) (analysis.Category, bool) {
	if strings.TrimSpace(raw) == "" {
		return analysis.CategoryComplete, true
	}
	category, err := analysis.ParseCategory(raw)
	if err != nil {
		var vErr *analysis.ValidationError
		if errors.As(err, &vErr) {
			respond.Error(c, http.StatusBadRequest, "validation_error", vErr.Msg, nil)
		} else {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid analysis category", nil)
		}
		return "", false
	}
	return category, true
}

func readImageUpload(c *gin.Context, field string) (string, []byte, bool) {
	fh, err := c.FormFile(field)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "image file is required", nil)
		return "", nil, false
	}
	image, err := readFileHeader(fh)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return "", nil, false
	}
	return fh.Filename, image, true
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxImageBytes {
		return nil, errors.New("image exceeds maximum size")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errors.New("failed to open uploaded image")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, errors.New("failed to read uploaded image")
	}
	if len(data) > maxImageBytes {
		return nil, errors.New("image exceeds maximum size")
	}
	return data, nil
}

func readAnalysisOptions(c *gin.Context) (analysis.PreprocessOptions, bool) {
	opts := analysis.PreprocessOptions{
		Enhance:          formBool(c, "enhance_image", true),
		RemoveBackground: formBool(c, "remove_background", false),
	}
	return opts, formBool(c, "persist_context", true)
}

func formBool(c *gin.Context, field string, fallback bool) bool {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
