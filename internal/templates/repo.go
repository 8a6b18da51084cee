package templates

import "context"

// Repo persists extraction templates and their items.
type Repo interface {
	Create(ctx context.Context, t Template) error
	GetByID(ctx context.Context, id string) (Template, error)
	ListActive(ctx context.Context) ([]Template, error)
	Update(ctx context.Context, t Template) error
	Deactivate(ctx context.Context, id string) error
}
