package charts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"chart-backend/internal/shared/metrics"
	"chart-backend/internal/shared/storage/object"
	"chart-backend/internal/shared/telemetry"
	"chart-backend/internal/similarity"
	"chart-backend/internal/templates"
	"chart-backend/internal/vision"
)

const defaultReviewer = "system"

// Service orchestrates the chart lifecycle: upload, the two-stage extraction
// run, result access, and review updates.
type Service struct {
	Charts    ChartRepo
	Results   ResultRepo
	Templates *templates.Service
	Vision    vision.Client
	Store     object.ObjectStore
	Cache     *StatusCache
	Retry     RetryPolicy
	Queue     *Dispatcher
}

// Upload stores the image, creates the chart row in PENDING and enqueues an
// extraction run. A saturated queue leaves the chart PENDING; it can be
// picked up again via reprocess.
func (s *Service) Upload(ctx context.Context, uploadedBy, fileName string, r io.Reader, templateID *string) (Chart, error) {
	if strings.TrimSpace(uploadedBy) == "" {
		uploadedBy = "anonymous"
	}
	if templateID != nil {
		if _, err := s.Templates.Get(ctx, *templateID); err != nil {
			return Chart{}, err
		}
	}

	storageKey, sizeBytes, mimeType, err := s.Store.Save(ctx, uploadedBy, fileName, r)
	if err != nil {
		return Chart{}, fmt.Errorf("store chart image: %w", err)
	}

	now := time.Now().UTC()
	chart := Chart{
		ID:         uuid.NewString(),
		FileName:   fileName,
		StorageKey: storageKey,
		MimeType:   mimeType,
		SizeBytes:  sizeBytes,
		UploadedBy: uploadedBy,
		Status:     StatusPending,
		TemplateID: templateID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Charts.Create(ctx, chart); err != nil {
		return Chart{}, err
	}

	telemetry.Info("chart.uploaded", map[string]any{
		"chart_id":   chart.ID,
		"file_name":  fileName,
		"size_bytes": sizeBytes,
		"mime_type":  mimeType,
	})

	if err := s.enqueue(chart.ID, templateID); err != nil {
		telemetry.Warn("chart.enqueue_failed", map[string]any{
			"chart_id": chart.ID,
			"error":    err.Error(),
		})
	}
	return chart, nil
}

// Status returns the chart row, serving terminal states from cache.
func (s *Service) Status(ctx context.Context, chartID string) (Chart, error) {
	if s.Cache != nil {
		if chart, ok := s.Cache.GetStatus(chartID); ok {
			return chart, nil
		}
	}
	chart, err := s.Charts.GetByID(ctx, chartID)
	if err != nil {
		return Chart{}, err
	}
	if s.Cache != nil {
		s.Cache.PutStatus(chart)
	}
	return chart, nil
}

// List returns chart rows newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Chart, error) {
	return s.Charts.List(ctx, limit, offset)
}

// Result returns the extraction result document and the overall confidence,
// serving finished results from cache.
func (s *Service) Result(ctx context.Context, chartID string) (*ResultDocument, float64, error) {
	if s.Cache != nil {
		if doc, confidence, ok := s.Cache.GetResult(chartID); ok {
			return doc, confidence, nil
		}
	}
	chart, err := s.Charts.GetByID(ctx, chartID)
	if err != nil {
		return nil, 0, err
	}
	doc, confidence, err := s.Results.GetByChartID(ctx, chartID)
	if err != nil {
		return nil, 0, err
	}
	if s.Cache != nil && chart.Status.Terminal() && chart.Status != StatusFailed {
		s.Cache.PutResult(chartID, doc, confidence)
	}
	return doc, confidence, nil
}

// ReviewItems returns the unified field records for a chart.
func (s *Service) ReviewItems(ctx context.Context, chartID string) ([]FieldRecord, error) {
	doc, _, err := s.Result(ctx, chartID)
	if err != nil {
		return nil, err
	}
	return doc.Unify(), nil
}

// UpdateField applies a reviewer's patch to one field, persists the whole
// document, then recomputes and persists the chart-level aggregate. The
// chart row is only touched after the field write succeeded.
func (s *Service) UpdateField(ctx context.Context, chartID, name string, upd FieldUpdate) (FieldRecord, Chart, error) {
	if _, err := s.Charts.GetByID(ctx, chartID); err != nil {
		return FieldRecord{}, Chart{}, err
	}
	doc, confidence, err := s.Results.GetByChartID(ctx, chartID)
	if err != nil {
		return FieldRecord{}, Chart{}, err
	}

	if strings.TrimSpace(upd.ReviewedBy) == "" {
		upd.ReviewedBy = defaultReviewer
	}
	if upd.ReviewedAt.IsZero() {
		upd.ReviewedAt = time.Now().UTC()
	}

	rec, err := doc.ApplyUpdate(name, upd)
	if err != nil {
		return FieldRecord{}, Chart{}, err
	}
	if err := s.Results.Replace(ctx, chartID, doc, confidence); err != nil {
		return FieldRecord{}, Chart{}, err
	}

	records := doc.Unify()
	needsReview, reviewedBy := RecomputeAggregate(records)
	var reviewedAt *time.Time
	if !needsReview {
		reviewedAt = latestReviewStamp(records)
	}
	if err := s.Charts.UpdateReviewState(ctx, chartID, needsReview, reviewedBy, reviewedAt); err != nil {
		return FieldRecord{}, Chart{}, err
	}

	s.cacheInvalidate(chartID)
	metrics.IncFieldUpdate()
	telemetry.Info("chart.field_updated", map[string]any{
		"chart_id":     chartID,
		"item_name":    name,
		"reviewed_by":  upd.ReviewedBy,
		"needs_review": needsReview,
	})

	chart, err := s.Charts.GetByID(ctx, chartID)
	if err != nil {
		return FieldRecord{}, Chart{}, err
	}
	return rec, chart, nil
}

// ConvertFormat folds a legacy-layout document into the canonical array
// layout in storage. The returned bool is a success flag: an already-
// canonical document is a successful no-op.
func (s *Service) ConvertFormat(ctx context.Context, chartID string) (bool, error) {
	if _, err := s.Charts.GetByID(ctx, chartID); err != nil {
		return false, err
	}
	doc, confidence, err := s.Results.GetByChartID(ctx, chartID)
	if err != nil {
		return false, err
	}
	if !doc.ToCanonical() {
		return true, nil
	}
	if err := s.Results.Replace(ctx, chartID, doc, confidence); err != nil {
		return false, err
	}
	s.cacheInvalidate(chartID)
	telemetry.Info("chart.converted", map[string]any{"chart_id": chartID})
	return true, nil
}

// Reprocess resets the chart to PENDING and enqueues a fresh run. With a
// template ID the association is updated and the run uses that template;
// without one the run keeps the chart's existing association, falling back
// to the default field set only when the chart never had one.
func (s *Service) Reprocess(ctx context.Context, chartID string, templateID *string) (Chart, error) {
	if _, err := s.Charts.GetByID(ctx, chartID); err != nil {
		return Chart{}, err
	}
	if templateID != nil {
		if _, err := s.Templates.Get(ctx, *templateID); err != nil {
			return Chart{}, err
		}
		if err := s.Charts.SetTemplate(ctx, chartID, templateID); err != nil {
			return Chart{}, err
		}
	}

	s.cacheInvalidate(chartID)
	if err := s.Charts.UpdateStatus(ctx, chartID, StatusPending, nil); err != nil {
		return Chart{}, err
	}
	if err := s.enqueue(chartID, templateID); err != nil {
		return Chart{}, err
	}
	telemetry.Info("chart.reprocess", map[string]any{
		"chart_id":    chartID,
		"template_id": templateID,
	})
	return s.Charts.GetByID(ctx, chartID)
}

// Run executes one extraction run to a terminal status. It is the job body
// handed to the dispatcher.
func (s *Service) Run(ctx context.Context, job Job) {
	started := time.Now()
	metrics.IncExtractionStarted()

	chart, err := s.Charts.GetByID(ctx, job.ChartID)
	if err != nil {
		telemetry.Error("chart.run.load_failed", map[string]any{
			"chart_id": job.ChartID,
			"error":    err.Error(),
		})
		return
	}
	// A job without an explicit template falls back to the chart's stored
	// association, so reprocessing keeps the original field set and
	// thresholds.
	if job.TemplateID == nil {
		job.TemplateID = chart.TemplateID
	}
	if err := s.Charts.UpdateStatus(ctx, job.ChartID, StatusProcessing, nil); err != nil {
		telemetry.Error("chart.run.status_failed", map[string]any{
			"chart_id": job.ChartID,
			"error":    err.Error(),
		})
		return
	}
	s.logStatus(job.ChartID, StatusProcessing)

	if s.Vision == nil {
		s.failRun(ctx, job.ChartID, ErrorCodeExtraction, vision.ErrNotConfigured, started)
		return
	}

	var fieldNames []string
	thresholds := make(map[string]similarity.Thresholds)
	var templateName *string
	if job.TemplateID != nil {
		name, specs, err := s.Templates.FieldSpecs(ctx, *job.TemplateID)
		if err != nil {
			s.failRun(ctx, job.ChartID, ErrorCodeInternal, fmt.Errorf("load template: %w", err), started)
			return
		}
		templateName = &name
		for _, spec := range specs {
			fieldNames = append(fieldNames, spec.Name)
			thresholds[spec.Name] = spec.Thresholds
		}
	}

	image, err := s.fetchImage(ctx, chart)
	if err != nil {
		s.failRun(ctx, job.ChartID, ErrorCodeFetch, err, started)
		return
	}

	client := newRetryingVision(s.Vision, s.Retry, job.ChartID)

	raws, err := client.ExtractFields(ctx, image, fieldNames)
	if err != nil {
		s.failRun(ctx, job.ChartID, classifyVisionError(err, ErrorCodeExtraction), err, started)
		return
	}
	if len(raws) == 0 {
		names := fieldNames
		if len(names) == 0 {
			names = DefaultFieldNames
		}
		for _, name := range names {
			raws = append(raws, vision.RawField{Name: name})
		}
		telemetry.Warn("chart.extract.empty", map[string]any{
			"chart_id": job.ChartID,
			"fields":   len(names),
		})
	}

	degraded := false
	interps, interpErr := client.Interpret(ctx, raws)
	if interpErr != nil {
		// Stage two exhausted its retries: keep the raw text as the
		// interpretation stand-in and finish PARTIAL_SUCCESS instead of
		// throwing away a usable raw pass.
		degraded = true
		telemetry.Warn("chart.interpret.degraded", map[string]any{
			"chart_id": job.ChartID,
			"error":    interpErr.Error(),
		})
	}

	records, overall := buildRecords(raws, interps, degraded, thresholds)

	doc := &ResultDocument{
		ReviewItems:      records,
		RawItems:         make(map[string]string, len(records)),
		InterpretedItems: make(map[string]string, len(records)),
		TemplateID:       job.TemplateID,
		TemplateName:     templateName,
	}
	for _, rec := range records {
		if rec.RawText != nil {
			doc.RawItems[rec.ItemName] = *rec.RawText
		}
		if rec.InterpretedText != nil {
			doc.InterpretedItems[rec.ItemName] = *rec.InterpretedText
		}
	}

	if err := s.Results.Replace(ctx, job.ChartID, doc, overall); err != nil {
		s.failRun(ctx, job.ChartID, ErrorCodeInternal, fmt.Errorf("persist result: %w", err), started)
		return
	}

	anyError := degraded
	for _, rec := range records {
		if rec.ErrorOccurred {
			anyError = true
			break
		}
	}
	finalStatus := StatusCompleted
	if anyError {
		finalStatus = StatusPartialSuccess
	}

	var errMsg *string
	if degraded {
		msg := ErrorCodeInterpretation + ": " + sanitizeError(interpErr)
		errMsg = &msg
	}
	if err := s.Charts.UpdateStatus(ctx, job.ChartID, finalStatus, errMsg); err != nil {
		telemetry.Error("chart.run.status_failed", map[string]any{
			"chart_id": job.ChartID,
			"error":    err.Error(),
		})
		return
	}

	needsReview, _ := RecomputeAggregate(records)
	if finalStatus == StatusPartialSuccess {
		needsReview = true
	}
	if err := s.Charts.UpdateReviewState(ctx, job.ChartID, needsReview, nil, nil); err != nil {
		telemetry.Error("chart.run.review_state_failed", map[string]any{
			"chart_id": job.ChartID,
			"error":    err.Error(),
		})
	}

	s.cacheInvalidate(job.ChartID)
	s.logStatus(job.ChartID, finalStatus)
	durationMs := float64(time.Since(started).Milliseconds())
	metrics.ObserveExtractionDurationMs(durationMs)
	if finalStatus == StatusPartialSuccess {
		metrics.IncExtractionPartial()
	} else {
		metrics.IncExtractionCompleted()
	}
	telemetry.Info("chart.run.finished", map[string]any{
		"chart_id":           job.ChartID,
		"status":             string(finalStatus),
		"fields":             len(records),
		"needs_review":       needsReview,
		"overall_confidence": overall,
		"duration_ms":        durationMs,
	})
}

// buildRecords scores the union of the raw and interpreted field names. Raw
// order is kept; interpretation-only names follow. A field the interpreter
// dropped keeps its raw text as the interpretation and is marked errored, as
// is every field of a degraded run.
func buildRecords(raws []vision.RawField, interps []vision.InterpretedField, degraded bool, thresholds map[string]similarity.Thresholds) ([]FieldRecord, float64) {
	rawMap := make(map[string]string, len(raws))
	order := make([]string, 0, len(raws))
	for _, f := range raws {
		if _, ok := rawMap[f.Name]; !ok {
			order = append(order, f.Name)
		}
		rawMap[f.Name] = f.Text
	}

	interpMap := make(map[string]string, len(interps))
	if !degraded {
		for _, f := range interps {
			if _, ok := interpMap[f.Name]; ok {
				continue
			}
			interpMap[f.Name] = f.Text
			if _, ok := rawMap[f.Name]; !ok {
				order = append(order, f.Name)
			}
		}
	}

	records := make([]FieldRecord, 0, len(order))
	var vectorSum float64
	for _, name := range order {
		var rawPtr *string
		if text, ok := rawMap[name]; ok {
			value := text
			rawPtr = &value
		}

		var interpPtr *string
		errorOccurred := degraded
		if text, ok := interpMap[name]; ok && !degraded {
			value := text
			interpPtr = &value
		} else {
			interpPtr = rawPtr
			errorOccurred = true
		}

		text, vector := similarity.Score(rawPtr, interpPtr)
		th, ok := thresholds[name]
		if !ok {
			th = similarity.DefaultThresholds()
		}
		textScore := text
		vectorScore := vector
		records = append(records, FieldRecord{
			ItemName:              name,
			RawText:               rawPtr,
			InterpretedText:       interpPtr,
			TextSimilarityScore:   &textScore,
			VectorSimilarityScore: &vectorScore,
			NeedsReview:           similarity.ShouldReview(&textScore, &vectorScore, errorOccurred, th),
			ErrorOccurred:         errorOccurred,
		})
		vectorSum += vector
	}

	overall := 1.0
	if len(records) > 0 {
		overall = vectorSum / float64(len(records))
	}
	return records, overall
}

func (s *Service) fetchImage(ctx context.Context, chart Chart) (vision.Image, error) {
	rc, err := s.Store.Open(ctx, chart.StorageKey)
	if err != nil {
		return vision.Image{}, fmt.Errorf("open chart image: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return vision.Image{}, fmt.Errorf("read chart image: %w", err)
	}
	return vision.Image{Data: data, MIMEType: chart.MimeType}, nil
}

func (s *Service) failRun(ctx context.Context, chartID, code string, err error, started time.Time) {
	msg := code + ": " + sanitizeError(err)
	if updateErr := s.Charts.UpdateStatus(ctx, chartID, StatusFailed, &msg); updateErr != nil {
		telemetry.Error("chart.run.status_failed", map[string]any{
			"chart_id": chartID,
			"error":    updateErr.Error(),
		})
	}
	s.cacheInvalidate(chartID)
	metrics.IncExtractionFailed()
	metrics.ObserveExtractionDurationMs(float64(time.Since(started).Milliseconds()))
	s.logStatus(chartID, StatusFailed)
	telemetry.Error("chart.run.failed", map[string]any{
		"chart_id": chartID,
		"code":     code,
		"error":    sanitizeError(err),
	})
}

func (s *Service) enqueue(chartID string, templateID *string) error {
	job := Job{ChartID: chartID, TemplateID: templateID}
	if s.Queue == nil {
		go s.Run(context.Background(), job)
		return nil
	}
	return s.Queue.Enqueue(job)
}

func (s *Service) cacheInvalidate(chartID string) {
	if s.Cache != nil {
		s.Cache.Invalidate(chartID)
	}
}

func (s *Service) logStatus(chartID string, status Status) {
	telemetry.Info("chart.status", map[string]any{
		"chart_id": chartID,
		"status":   string(status),
	})
}

func classifyVisionError(err error, fallback string) string {
	if errors.Is(err, vision.ErrMalformedResponse) {
		return ErrorCodeMalformed
	}
	return fallback
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	// Truncate on a rune boundary; provider errors often carry Japanese text.
	if runes := []rune(msg); len(runes) > 300 {
		msg = string(runes[:300])
	}
	return msg
}

func latestReviewStamp(records []FieldRecord) *time.Time {
	var latest *time.Time
	for i := range records {
		at := records[i].ReviewedAt
		if at == nil {
			continue
		}
		if latest == nil || !at.Before(*latest) {
			latest = at
		}
	}
	return latest
}
