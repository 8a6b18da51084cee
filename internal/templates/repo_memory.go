package templates

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repo for tests and local runs.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Template
}

// NewMemoryRepo creates an empty in-memory repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Template)}
}

// Create stores a new template.
func (r *MemoryRepo) Create(ctx context.Context, t Template) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = cloneTemplate(t)
	return nil
}

// GetByID fetches a template by ID.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	return cloneTemplate(t), nil
}

// ListActive returns active templates sorted by creation time.
func (r *MemoryRepo) ListActive(ctx context.Context) ([]Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Template
	for _, t := range r.byID {
		if t.IsActive {
			out = append(out, cloneTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update replaces a stored template.
func (r *MemoryRepo) Update(ctx context.Context, t Template) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[t.ID]; !ok {
		return ErrNotFound
	}
	r.byID[t.ID] = cloneTemplate(t)
	return nil
}

// Deactivate soft-deletes a template.
func (r *MemoryRepo) Deactivate(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	t.IsActive = false
	r.byID[id] = t
	return nil
}

func cloneTemplate(t Template) Template {
	out := t
	out.Items = append([]Item(nil), t.Items...)
	return out
}

var _ Repo = (*MemoryRepo)(nil)
