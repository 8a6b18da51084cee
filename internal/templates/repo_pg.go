package templates

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a template and its items in one transaction.
func (r *PGRepo) Create(ctx context.Context, t Template) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const query = `
INSERT INTO extraction_templates (id, name, description, template_type, created_by, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(ctx, query,
		t.ID,
		t.Name,
		nullString(t.Description),
		t.Type,
		t.CreatedBy,
		t.IsActive,
		t.CreatedAt,
		t.UpdatedAt,
	); err != nil {
		return err
	}

	if err := insertItems(ctx, tx, t.ID, t.Items); err != nil {
		return err
	}
	return tx.Commit()
}

// GetByID fetches a template with its items.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Template, error) {
	const query = `
SELECT id, name, description, template_type, created_by, is_active, created_at, updated_at
FROM extraction_templates
WHERE id = $1`
	t, err := scanTemplate(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, ErrNotFound
		}
		return Template{}, err
	}

	items, err := r.itemsFor(ctx, t.ID)
	if err != nil {
		return Template{}, err
	}
	t.Items = items
	return t, nil
}

// ListActive returns active templates with their items.
func (r *PGRepo) ListActive(ctx context.Context) ([]Template, error) {
	const query = `
SELECT id, name, description, template_type, created_by, is_active, created_at, updated_at
FROM extraction_templates
WHERE is_active = TRUE
ORDER BY created_at ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		items, err := r.itemsFor(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

// Update replaces template metadata and items in one transaction.
func (r *PGRepo) Update(ctx context.Context, t Template) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const query = `
UPDATE extraction_templates
SET name = $2, description = $3, template_type = $4, is_active = $5, updated_at = $6
WHERE id = $1`
	res, err := tx.ExecContext(ctx, query,
		t.ID,
		t.Name,
		nullString(t.Description),
		t.Type,
		t.IsActive,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM extraction_template_items WHERE template_id = $1`, t.ID); err != nil {
		return err
	}
	if err := insertItems(ctx, tx, t.ID, t.Items); err != nil {
		return err
	}
	return tx.Commit()
}

// Deactivate soft-deletes a template.
func (r *PGRepo) Deactivate(ctx context.Context, id string) error {
	const query = `
UPDATE extraction_templates
SET is_active = FALSE, updated_at = $2
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) itemsFor(ctx context.Context, templateID string) ([]Item, error) {
	const query = `
SELECT id, name, enabled, display_order, description, text_threshold, vector_threshold
FROM extraction_template_items
WHERE template_id = $1
ORDER BY display_order ASC, name ASC`
	rows, err := r.DB.QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var description sql.NullString
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.Enabled,
			&item.DisplayOrder,
			&description,
			&item.TextThreshold,
			&item.VectorThreshold,
		); err != nil {
			return nil, err
		}
		if description.Valid {
			item.Description = &description.String
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func insertItems(ctx context.Context, tx *sql.Tx, templateID string, items []Item) error {
	const query = `
INSERT INTO extraction_template_items (id, template_id, name, enabled, display_order, description, text_threshold, vector_threshold)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, query,
			item.ID,
			templateID,
			item.Name,
			item.Enabled,
			item.DisplayOrder,
			nullString(item.Description),
			item.TextThreshold,
			item.VectorThreshold,
		); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (Template, error) {
	var t Template
	var description sql.NullString
	if err := row.Scan(
		&t.ID,
		&t.Name,
		&description,
		&t.Type,
		&t.CreatedBy,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return Template{}, err
	}
	if description.Valid {
		t.Description = &description.String
	}
	return t, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

var _ Repo = (*PGRepo)(nil)
