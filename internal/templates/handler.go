package templates

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chart-backend/internal/server/respond"
)

// Handler wires HTTP handlers to the templates service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches template routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/templates", h.create)
	rg.GET("/templates", h.list)
	rg.GET("/templates/:id", h.get)
	rg.PUT("/templates/:id", h.update)
	rg.DELETE("/templates/:id", h.remove)
}

type templateRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Type        string  `json:"template_type"`
	CreatedBy   string  `json:"created_by"`
	Items       []Item  `json:"items"`
}

func (h *Handler) create(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	created, err := h.Svc.Create(c.Request.Context(), Template{
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		CreatedBy:   req.CreatedBy,
		Items:       req.Items,
	})
	if err != nil {
		h.respondError(c, err, "failed to create template")
		return
	}
	c.Set("templateId", created.ID)
	respond.JSON(c, http.StatusCreated, created)
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.Svc.ListActive(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list templates", nil)
		return
	}
	if items == nil {
		items = []Template{}
	}
	respond.OK(c, gin.H{"templates": items})
}

func (h *Handler) get(c *gin.Context) {
	templateID := c.Param("id")
	c.Set("templateId", templateID)

	t, err := h.Svc.Get(c.Request.Context(), templateID)
	if err != nil {
		h.respondError(c, err, "failed to fetch template")
		return
	}
	respond.OK(c, t)
}

func (h *Handler) update(c *gin.Context) {
	templateID := c.Param("id")
	c.Set("templateId", templateID)

	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	current, err := h.Svc.Get(c.Request.Context(), templateID)
	if err != nil {
		h.respondError(c, err, "failed to fetch template")
		return
	}

	current.Name = req.Name
	current.Description = req.Description
	if req.Type != "" {
		current.Type = req.Type
	}
	current.Items = req.Items

	updated, err := h.Svc.Update(c.Request.Context(), current)
	if err != nil {
		h.respondError(c, err, "failed to update template")
		return
	}
	respond.OK(c, updated)
}

func (h *Handler) remove(c *gin.Context) {
	templateID := c.Param("id")
	c.Set("templateId", templateID)

	if err := h.Svc.Delete(c.Request.Context(), templateID); err != nil {
		h.respondError(c, err, "failed to delete template")
		return
	}
	respond.OK(c, gin.H{"deleted": true})
}

func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "template not found", nil)
	case errors.Is(err, ErrNameRequired), errors.Is(err, ErrNoItems):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
