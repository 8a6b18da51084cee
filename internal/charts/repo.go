package charts

import (
	"context"
	"time"
)

// ChartRepo persists chart rows.
type ChartRepo interface {
	Create(ctx context.Context, chart Chart) error
	GetByID(ctx context.Context, id string) (Chart, error)
	List(ctx context.Context, limit, offset int) ([]Chart, error)
	UpdateStatus(ctx context.Context, id string, status Status, errorMessage *string) error
	UpdateReviewState(ctx context.Context, id string, needsReview bool, reviewedBy *string, reviewedAt *time.Time) error
	SetTemplate(ctx context.Context, id string, templateID *string) error
}

// ResultRepo persists extraction result documents, exactly one per chart.
// Writes replace the whole document; there are no partial updates at this
// layer.
type ResultRepo interface {
	Replace(ctx context.Context, chartID string, doc *ResultDocument, overallConfidence float64) error
	GetByChartID(ctx context.Context, chartID string) (*ResultDocument, float64, error)
}
