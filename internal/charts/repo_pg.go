package charts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGChartRepo implements ChartRepo using Postgres.
type PGChartRepo struct {
	DB *sql.DB
}

// Create inserts a new chart row.
func (r *PGChartRepo) Create(ctx context.Context, chart Chart) error {
	const query = `
INSERT INTO charts (
	id, file_name, storage_key, mime_type, size_bytes, uploaded_by,
	status, error_message, needs_review, reviewed_by, reviewed_at, template_id,
	created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.DB.ExecContext(ctx, query,
		chart.ID,
		chart.FileName,
		chart.StorageKey,
		nullableString(chart.MimeType),
		chart.SizeBytes,
		chart.UploadedBy,
		string(chart.Status),
		chart.ErrorMessage,
		chart.NeedsReview,
		chart.ReviewedBy,
		chart.ReviewedAt,
		chart.TemplateID,
		chart.CreatedAt,
		chart.UpdatedAt,
	)
	return err
}

// GetByID fetches a chart by ID.
func (r *PGChartRepo) GetByID(ctx context.Context, id string) (Chart, error) {
	const query = `
SELECT id, file_name, storage_key, mime_type, size_bytes, uploaded_by,
	status, error_message, needs_review, reviewed_by, reviewed_at, template_id,
	created_at, updated_at
FROM charts
WHERE id = $1`
	chart, err := scanChart(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chart{}, ErrChartNotFound
		}
		return Chart{}, err
	}
	return chart, nil
}

// List returns charts newest first.
func (r *PGChartRepo) List(ctx context.Context, limit, offset int) ([]Chart, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT id, file_name, storage_key, mime_type, size_bytes, uploaded_by,
	status, error_message, needs_review, reviewed_by, reviewed_at, template_id,
	created_at, updated_at
FROM charts
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`
	rows, err := r.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chart
	for rows.Next() {
		chart, err := scanChart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chart)
	}
	return out, rows.Err()
}

// UpdateStatus sets the chart status and error message.
func (r *PGChartRepo) UpdateStatus(ctx context.Context, id string, status Status, errorMessage *string) error {
	const query = `
UPDATE charts
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, id, string(status), errorMessage, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateReviewState sets the chart-level review aggregate.
func (r *PGChartRepo) UpdateReviewState(ctx context.Context, id string, needsReview bool, reviewedBy *string, reviewedAt *time.Time) error {
	const query = `
UPDATE charts
SET needs_review = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $5
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, id, needsReview, reviewedBy, reviewedAt, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetTemplate records which template the chart was last processed with.
func (r *PGChartRepo) SetTemplate(ctx context.Context, id string, templateID *string) error {
	const query = `
UPDATE charts
SET template_id = $2, updated_at = $3
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, id, templateID, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// PGResultRepo implements ResultRepo using Postgres, one JSONB document per
// chart.
type PGResultRepo struct {
	DB *sql.DB
}

// Replace upserts the whole result document for a chart.
func (r *PGResultRepo) Replace(ctx context.Context, chartID string, doc *ResultDocument, overallConfidence float64) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO extraction_results (chart_id, document, overall_confidence, created_at, updated_at)
VALUES ($1, $2, $3, now(), now())
ON CONFLICT (chart_id)
DO UPDATE SET document = EXCLUDED.document, overall_confidence = EXCLUDED.overall_confidence, updated_at = now()`
	_, err = r.DB.ExecContext(ctx, query, chartID, payload, overallConfidence)
	return err
}

// GetByChartID fetches the result document for a chart.
func (r *PGResultRepo) GetByChartID(ctx context.Context, chartID string) (*ResultDocument, float64, error) {
	const query = `
SELECT document, overall_confidence
FROM extraction_results
WHERE chart_id = $1`
	var payload []byte
	var confidence float64
	err := r.DB.QueryRowContext(ctx, query, chartID).Scan(&payload, &confidence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrResultNotFound
		}
		return nil, 0, err
	}
	var doc ResultDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, 0, err
	}
	return &doc, confidence, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrChartNotFound
	}
	return nil
}

type chartScanner interface {
	Scan(dest ...any) error
}

func scanChart(row chartScanner) (Chart, error) {
	var chart Chart
	var mimeType, errorMessage, reviewedBy, templateID sql.NullString
	var reviewedAt sql.NullTime
	var status string
	if err := row.Scan(
		&chart.ID,
		&chart.FileName,
		&chart.StorageKey,
		&mimeType,
		&chart.SizeBytes,
		&chart.UploadedBy,
		&status,
		&errorMessage,
		&chart.NeedsReview,
		&reviewedBy,
		&reviewedAt,
		&templateID,
		&chart.CreatedAt,
		&chart.UpdatedAt,
	); err != nil {
		return Chart{}, err
	}
	chart.Status = Status(status)
	if mimeType.Valid {
		chart.MimeType = mimeType.String
	}
	if errorMessage.Valid {
		chart.ErrorMessage = &errorMessage.String
	}
	if reviewedBy.Valid {
		chart.ReviewedBy = &reviewedBy.String
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		chart.ReviewedAt = &t
	}
	if templateID.Valid {
		chart.TemplateID = &templateID.String
	}
	return chart, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ ChartRepo  = (*PGChartRepo)(nil)
	_ ResultRepo = (*PGResultRepo)(nil)
)
