package charts

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryChartRepo is an in-memory ChartRepo for tests and local runs.
type MemoryChartRepo struct {
	mu   sync.RWMutex
	byID map[string]Chart
}

// NewMemoryChartRepo creates an empty in-memory chart repo.
func NewMemoryChartRepo() *MemoryChartRepo {
	return &MemoryChartRepo{byID: make(map[string]Chart)}
}

// Create stores a new chart row.
func (r *MemoryChartRepo) Create(ctx context.Context, chart Chart) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[chart.ID] = chart
	return nil
}

// GetByID fetches a chart by ID.
func (r *MemoryChartRepo) GetByID(ctx context.Context, id string) (Chart, error) {
	if err := ctx.Err(); err != nil {
		return Chart{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	chart, ok := r.byID[id]
	if !ok {
		return Chart{}, ErrChartNotFound
	}
	return chart, nil
}

// List returns charts newest first.
func (r *MemoryChartRepo) List(ctx context.Context, limit, offset int) ([]Chart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Chart, 0, len(r.byID))
	for _, chart := range r.byID {
		all = append(all, chart)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// UpdateStatus sets the chart status and error message.
func (r *MemoryChartRepo) UpdateStatus(ctx context.Context, id string, status Status, errorMessage *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	chart, ok := r.byID[id]
	if !ok {
		return ErrChartNotFound
	}
	chart.Status = status
	chart.ErrorMessage = errorMessage
	chart.UpdatedAt = time.Now().UTC()
	r.byID[id] = chart
	return nil
}

// UpdateReviewState sets the chart-level review aggregate.
func (r *MemoryChartRepo) UpdateReviewState(ctx context.Context, id string, needsReview bool, reviewedBy *string, reviewedAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	chart, ok := r.byID[id]
	if !ok {
		return ErrChartNotFound
	}
	chart.NeedsReview = needsReview
	chart.ReviewedBy = reviewedBy
	chart.ReviewedAt = reviewedAt
	chart.UpdatedAt = time.Now().UTC()
	r.byID[id] = chart
	return nil
}

// SetTemplate records which template the chart was last processed with.
func (r *MemoryChartRepo) SetTemplate(ctx context.Context, id string, templateID *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	chart, ok := r.byID[id]
	if !ok {
		return ErrChartNotFound
	}
	chart.TemplateID = templateID
	chart.UpdatedAt = time.Now().UTC()
	r.byID[id] = chart
	return nil
}

// MemoryResultRepo is an in-memory ResultRepo for tests and local runs.
// Documents are stored as serialized JSON so reads exercise the same codec
// path as the Postgres repo.
type MemoryResultRepo struct {
	mu         sync.RWMutex
	byChartID  map[string][]byte
	confidence map[string]float64
}

// NewMemoryResultRepo creates an empty in-memory result repo.
func NewMemoryResultRepo() *MemoryResultRepo {
	return &MemoryResultRepo{
		byChartID:  make(map[string][]byte),
		confidence: make(map[string]float64),
	}
}

// Replace upserts the whole result document for a chart.
func (r *MemoryResultRepo) Replace(ctx context.Context, chartID string, doc *ResultDocument, overallConfidence float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byChartID[chartID] = payload
	r.confidence[chartID] = overallConfidence
	return nil
}

// GetByChartID fetches the result document for a chart.
func (r *MemoryResultRepo) GetByChartID(ctx context.Context, chartID string) (*ResultDocument, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	payload, ok := r.byChartID[chartID]
	confidence := r.confidence[chartID]
	r.mu.RUnlock()
	if !ok {
		return nil, 0, ErrResultNotFound
	}
	var doc ResultDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, 0, err
	}
	return &doc, confidence, nil
}

var (
	_ ChartRepo  = (*MemoryChartRepo)(nil)
	_ ResultRepo = (*MemoryResultRepo)(nil)
)
