package charts

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"chart-backend/internal/server/respond"
	"chart-backend/internal/templates"
)

// Handler wires HTTP handlers to the charts service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches chart routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/charts", h.upload)
	rg.GET("/charts", h.list)
	rg.GET("/charts/:id/status", h.status)
	rg.GET("/charts/:id/result", h.result)
	rg.GET("/charts/:id/review-items", h.reviewItems)
	rg.PATCH("/charts/:id/items/:name", h.updateItem)
	rg.POST("/charts/:id/convert-format", h.convertFormat)
	rg.POST("/charts/:id/reprocess", h.reprocess)
	rg.POST("/charts/:id/process-with-template", h.processWithTemplate)
}

func (h *Handler) upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}

	var templateID *string
	if raw := strings.TrimSpace(c.PostForm("template_id")); raw != "" {
		templateID = &raw
	}
	uploadedBy := strings.TrimSpace(c.PostForm("uploaded_by"))

	src, err := file.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "could not read uploaded file", nil)
		return
	}
	defer src.Close()

	chart, err := h.Svc.Upload(c.Request.Context(), uploadedBy, file.Filename, src, templateID)
	if err != nil {
		switch {
		case errors.Is(err, templates.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "template not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to accept chart", nil)
		}
		return
	}
	c.Set("chartId", chart.ID)

	respond.JSON(c, http.StatusAccepted, gin.H{
		"chart_id": chart.ID,
		"status":   chart.Status,
	})
}

func (h *Handler) list(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	items, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list charts", nil)
		return
	}
	if items == nil {
		items = []Chart{}
	}
	respond.OK(c, gin.H{"charts": items})
}

func (h *Handler) status(c *gin.Context) {
	chartID := c.Param("id")
	c.Set("chartId", chartID)

	chart, err := h.Svc.Status(c.Request.Context(), chartID)
	if err != nil {
		h.respondChartError(c, err, "failed to fetch chart status")
		return
	}

	resp := gin.H{
		"chart_id":     chart.ID,
		"status":       chart.Status,
		"needs_review": chart.NeedsReview,
	}
	if chart.ErrorMessage != nil {
		resp["error_message"] = *chart.ErrorMessage
	}
	if chart.ReviewedBy != nil {
		resp["reviewed_by"] = *chart.ReviewedBy
	}
	if chart.ReviewedAt != nil {
		resp["reviewed_at"] = *chart.ReviewedAt
	}
	respond.OK(c, resp)
}

func (h *Handler) result(c *gin.Context) {
	chartID := c.Param("id")
	c.Set("chartId", chartID)

	doc, confidence, err := h.Svc.Result(c.Request.Context(), chartID)
	if err != nil {
		h.respondChartError(c, err, "failed to fetch chart result")
		return
	}

	respond.OK(c, gin.H{
		"chart_id":                 chartID,
		"overall_confidence_score": confidence,
		"result":                   doc,
	})
}

func (h *Handler) reviewItems(c *gin.Context) {
	chartID := c.Param("id")
	c.Set("chartId", chartID)

	items, err := h.Svc.ReviewItems(c.Request.Context(), chartID)
	if err != nil {
		h.respondChartError(c, err, "failed to fetch review items")
		return
	}
	if items == nil {
		items = []FieldRecord{}
	}
	respond.OK(c, gin.H{
		"chart_id": chartID,
		"items":    items,
	})
}

type updateItemRequest struct {
	InterpretedText *string `json:"interpreted_text"`
	ReviewComment   *string `json:"review_comment"`
	ReviewedBy      string  `json:"reviewed_by"`
}

func (h *Handler) updateItem(c *gin.Context) {
	chartID := c.Param("id")
	name := c.Param("name")
	c.Set("chartId", chartID)
	if strings.TrimSpace(name) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "item name is required", nil)
		return
	}

	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	rec, chart, err := h.Svc.UpdateField(c.Request.Context(), chartID, name, FieldUpdate{
		InterpretedText: req.InterpretedText,
		ReviewComment:   req.ReviewComment,
		ReviewedBy:      req.ReviewedBy,
	})
	if err != nil {
		h.respondChartError(c, err, "failed to update review item")
		return
	}

	respond.OK(c, gin.H{
		"chart_id":           chartID,
		"item":               rec,
		"chart_needs_review": chart.NeedsReview,
		"chart_reviewed_by":  chart.ReviewedBy,
	})
}

func (h *Handler) convertFormat(c *gin.Context) {
	chartID := c.Param("id")
	c.Set("chartId", chartID)

	converted, err := h.Svc.ConvertFormat(c.Request.Context(), chartID)
	if err != nil {
		h.respondChartError(c, err, "failed to convert result format")
		return
	}
	respond.OK(c, gin.H{
		"chart_id":  chartID,
		"converted": converted,
	})
}

type reprocessRequest struct {
	TemplateID *string `json:"template_id"`
}

func (h *Handler) reprocess(c *gin.Context) {
	chartID := c.Param("id")
	c.Set("chartId", chartID)

	var req reprocessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}

	chart, err := h.Svc.Reprocess(c.Request.Context(), chartID, req.TemplateID)
	if err != nil {
		h.respondChartError(c, err, "failed to reprocess chart")
		return
	}
	respond.JSON(c, http.StatusAccepted, gin.H{
		"chart_id": chart.ID,
		"status":   chart.Status,
	})
}

type processWithTemplateRequest struct {
	TemplateID string `json:"template_id"`
}

func (h *Handler) processWithTemplate(c *gin.Context) {
	chartID := c.Param("id")
	c.Set("chartId", chartID)

	var req processWithTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.TemplateID) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "template_id is required", nil)
		return
	}
	c.Set("templateId", req.TemplateID)

	chart, err := h.Svc.Reprocess(c.Request.Context(), chartID, &req.TemplateID)
	if err != nil {
		h.respondChartError(c, err, "failed to start template processing")
		return
	}
	respond.JSON(c, http.StatusAccepted, gin.H{
		"chart_id":    chart.ID,
		"status":      chart.Status,
		"template_id": req.TemplateID,
	})
}

func (h *Handler) respondChartError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrChartNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "chart not found", nil)
	case errors.Is(err, ErrResultNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "extraction result not found", nil)
	case errors.Is(err, ErrFieldNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "field not found", nil)
	case errors.Is(err, templates.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "template not found", nil)
	case errors.Is(err, ErrQueueFull):
		respond.Error(c, http.StatusServiceUnavailable, "queue_full", "extraction queue is full, retry later", nil)
	case errors.Is(err, ErrQueueClosed):
		respond.Error(c, http.StatusServiceUnavailable, "shutting_down", "server is shutting down", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return def
	}
	return val
}
