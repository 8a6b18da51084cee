package charts

import "time"

// Status is the chart processing state.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusProcessing     Status = "PROCESSING"
	StatusCompleted      Status = "COMPLETED"
	StatusPartialSuccess Status = "PARTIAL_SUCCESS"
	StatusFailed         Status = "FAILED"
)

// Terminal reports whether the status is an end state of a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartialSuccess, StatusFailed:
		return true
	}
	return false
}

// Chart is one uploaded chart image and its processing state.
type Chart struct {
	ID           string     `json:"id"`
	FileName     string     `json:"file_name"`
	StorageKey   string     `json:"-"`
	MimeType     string     `json:"mime_type,omitempty"`
	SizeBytes    int64      `json:"size_bytes"`
	UploadedBy   string     `json:"uploaded_by"`
	Status       Status     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	NeedsReview  bool       `json:"needs_review"`
	ReviewedBy   *string    `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	TemplateID   *string    `json:"template_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FieldRecord is the per-field unit of extraction output and review state.
type FieldRecord struct {
	ItemName              string     `json:"item_name"`
	RawText               *string    `json:"raw_text"`
	InterpretedText       *string    `json:"interpreted_text"`
	TextSimilarityScore   *float64   `json:"text_similarity_score"`
	VectorSimilarityScore *float64   `json:"vector_similarity_score"`
	NeedsReview           bool       `json:"needs_review"`
	ReviewComment         *string    `json:"review_comment,omitempty"`
	ReviewedBy            *string    `json:"reviewed_by,omitempty"`
	ReviewedAt            *time.Time `json:"reviewed_at,omitempty"`
	ErrorOccurred         bool       `json:"error_occurred"`
}

// DefaultFieldNames is substituted when the raw extraction pass returns no
// fields at all, so a result document always has the standard chart sections.
var DefaultFieldNames = []string{"主訴", "現病歴", "既往歴", "家族歴", "生活歴", "内服薬", "身体所見"}
