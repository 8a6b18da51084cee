package templates

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"chart-backend/internal/shared/telemetry"
	"chart-backend/internal/similarity"
)

// Service owns template CRUD and the threshold lookups consumed by the
// extraction orchestrator.
type Service struct {
	Repo Repo
}

// Create validates, normalizes and stores a new template.
func (s *Service) Create(ctx context.Context, t Template) (Template, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return Template{}, ErrNameRequired
	}
	if len(t.Items) == 0 {
		return Template{}, ErrNoItems
	}

	now := time.Now().UTC()
	t.ID = uuid.NewString()
	if t.Type == "" {
		t.Type = "custom"
	}
	t.IsActive = true
	t.CreatedAt = now
	t.UpdatedAt = now
	for i := range t.Items {
		t.Items[i].ID = uuid.NewString()
		normalizeItem(&t.Items[i], i)
	}

	if err := s.Repo.Create(ctx, t); err != nil {
		return Template{}, err
	}
	telemetry.Info("template.created", map[string]any{
		"template_id": t.ID,
		"name":        t.Name,
		"items":       len(t.Items),
	})
	return t, nil
}

// Get fetches a template by ID.
func (s *Service) Get(ctx context.Context, id string) (Template, error) {
	return s.Repo.GetByID(ctx, id)
}

// ListActive lists active templates.
func (s *Service) ListActive(ctx context.Context) ([]Template, error) {
	return s.Repo.ListActive(ctx)
}

// Update validates and replaces an existing template.
func (s *Service) Update(ctx context.Context, t Template) (Template, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return Template{}, ErrNameRequired
	}
	if len(t.Items) == 0 {
		return Template{}, ErrNoItems
	}
	for i := range t.Items {
		if t.Items[i].ID == "" {
			t.Items[i].ID = uuid.NewString()
		}
		normalizeItem(&t.Items[i], i)
	}
	t.UpdatedAt = time.Now().UTC()

	if err := s.Repo.Update(ctx, t); err != nil {
		return Template{}, err
	}
	telemetry.Info("template.updated", map[string]any{
		"template_id": t.ID,
		"items":       len(t.Items),
	})
	return t, nil
}

// Delete soft-deletes a template.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.Repo.Deactivate(ctx, id); err != nil {
		return err
	}
	telemetry.Info("template.deactivated", map[string]any{"template_id": id})
	return nil
}

// FieldSpecs returns the template name and its enabled items in display
// order, each carrying the thresholds the scorer should apply.
func (s *Service) FieldSpecs(ctx context.Context, id string) (string, []FieldSpec, error) {
	t, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return "", nil, err
	}

	items := append([]Item(nil), t.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].DisplayOrder < items[j].DisplayOrder
	})

	var specs []FieldSpec
	for _, item := range items {
		if !item.Enabled {
			continue
		}
		specs = append(specs, FieldSpec{
			Name: item.Name,
			Thresholds: similarity.Thresholds{
				Text:   item.TextThreshold,
				Vector: item.VectorThreshold,
			},
		})
	}
	return t.Name, specs, nil
}

func normalizeItem(item *Item, position int) {
	item.Name = strings.TrimSpace(item.Name)
	if item.DisplayOrder == 0 {
		item.DisplayOrder = position
	}
	if item.TextThreshold <= 0 {
		item.TextThreshold = similarity.DefaultTextThreshold
	}
	if item.VectorThreshold <= 0 {
		item.VectorThreshold = similarity.DefaultVectorThreshold
	}
}
