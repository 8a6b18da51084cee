package templates

import (
	"time"

	"chart-backend/internal/similarity"
)

// Template is a named set of chart fields to extract, with per-field review
// thresholds.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Type        string    `json:"template_type"`
	CreatedBy   string    `json:"created_by"`
	IsActive    bool      `json:"is_active"`
	Items       []Item    `json:"items"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Item configures one extractable field within a template.
type Item struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Enabled         bool    `json:"enabled"`
	DisplayOrder    int     `json:"display_order"`
	Description     *string `json:"description,omitempty"`
	TextThreshold   float64 `json:"text_threshold"`
	VectorThreshold float64 `json:"vector_threshold"`
}

// FieldSpec is the orchestrator's view of one enabled template item.
type FieldSpec struct {
	Name       string
	Thresholds similarity.Thresholds
}
