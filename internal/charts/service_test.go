package charts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"chart-backend/internal/shared/storage/object"
	"chart-backend/internal/similarity"
	"chart-backend/internal/templates"
	"chart-backend/internal/vision"
)

// memStore is an in-memory object store for tests.
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Save(ctx context.Context, uploaderID, fileName string, r io.Reader) (string, int64, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, "", err
	}
	key := uploaderID + "/" + fileName
	s.objects[key] = data
	return key, int64(len(data)), "image/png", nil
}

func (s *memStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	data, ok := s.objects[storageKey]
	if !ok {
		return nil, fmt.Errorf("object %s not found", storageKey)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

var _ object.ObjectStore = (*memStore)(nil)

// staticVision returns fixed payloads and records the field names requested.
type staticVision struct {
	raws           []vision.RawField
	interps        []vision.InterpretedField
	requestedNames []string
}

func (v *staticVision) ExtractFields(ctx context.Context, image vision.Image, fieldNames []string) ([]vision.RawField, error) {
	v.requestedNames = fieldNames
	return v.raws, nil
}

func (v *staticVision) Interpret(ctx context.Context, fields []vision.RawField) ([]vision.InterpretedField, error) {
	return v.interps, nil
}

// echoVision interprets every raw field as-is.
type echoVision struct {
	raws []vision.RawField
}

func (v *echoVision) ExtractFields(ctx context.Context, image vision.Image, fieldNames []string) ([]vision.RawField, error) {
	return v.raws, nil
}

func (v *echoVision) Interpret(ctx context.Context, fields []vision.RawField) ([]vision.InterpretedField, error) {
	out := make([]vision.InterpretedField, 0, len(fields))
	for _, f := range fields {
		out = append(out, vision.InterpretedField{Name: f.Name, Text: f.Text})
	}
	return out, nil
}

// failingExtract fails stage one with a fixed error.
type failingExtract struct {
	err error
}

func (v *failingExtract) ExtractFields(ctx context.Context, image vision.Image, fieldNames []string) ([]vision.RawField, error) {
	return nil, v.err
}

func (v *failingExtract) Interpret(ctx context.Context, fields []vision.RawField) ([]vision.InterpretedField, error) {
	return nil, v.err
}

// failingInterpret succeeds stage one and fails stage two, counting calls.
type failingInterpret struct {
	raws           []vision.RawField
	err            error
	interpretCalls int
}

func (v *failingInterpret) ExtractFields(ctx context.Context, image vision.Image, fieldNames []string) ([]vision.RawField, error) {
	return v.raws, nil
}

func (v *failingInterpret) Interpret(ctx context.Context, fields []vision.RawField) ([]vision.InterpretedField, error) {
	v.interpretCalls++
	return nil, v.err
}

func newTestService(t *testing.T, client vision.Client) (*Service, *MemoryChartRepo, *MemoryResultRepo, *memStore) {
	t.Helper()
	chartRepo := NewMemoryChartRepo()
	resultRepo := NewMemoryResultRepo()
	store := newMemStore()
	svc := &Service{
		Charts:    chartRepo,
		Results:   resultRepo,
		Templates: &templates.Service{Repo: templates.NewMemoryRepo()},
		Vision:    client,
		Store:     store,
		Cache:     NewStatusCache(),
		Retry:     RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}
	return svc, chartRepo, resultRepo, store
}

func seedChart(t *testing.T, svc *Service, store *memStore, id string) Chart {
	t.Helper()
	key := "uploader/" + id + ".png"
	store.objects[key] = []byte("fake image bytes")
	now := time.Now().UTC()
	chart := Chart{
		ID:         id,
		FileName:   id + ".png",
		StorageKey: key,
		MimeType:   "image/png",
		SizeBytes:  16,
		UploadedBy: "uploader",
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := svc.Charts.Create(context.Background(), chart); err != nil {
		t.Fatalf("seed chart: %v", err)
	}
	return chart
}

func TestRunCompletesChart(t *testing.T) {
	client := &echoVision{raws: []vision.RawField{
		{Name: "主訴", Text: "頭痛"},
		{Name: "現病歴", Text: "3日前から"},
	}}
	svc, chartRepo, resultRepo, store := newTestService(t, client)
	chart := seedChart(t, svc, store, "chart-1")

	svc.Run(context.Background(), Job{ChartID: chart.ID})

	got, err := chartRepo.GetByID(context.Background(), chart.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (error: %v)", got.Status, got.ErrorMessage)
	}
	if got.NeedsReview {
		t.Fatal("identical interpretation must not need review")
	}

	doc, confidence, err := resultRepo.GetByChartID(context.Background(), chart.ID)
	if err != nil {
		t.Fatalf("GetByChartID: %v", err)
	}
	if len(doc.ReviewItems) != 2 {
		t.Fatalf("expected 2 records, got %d", len(doc.ReviewItems))
	}
	if confidence != 1.0 {
		t.Fatalf("expected overall confidence 1.0, got %v", confidence)
	}
	if doc.RawItems["主訴"] != "頭痛" {
		t.Fatalf("raw items not persisted: %v", doc.RawItems)
	}
	rec := FindByName(doc.ReviewItems, "主訴")
	if rec.TextSimilarityScore == nil || *rec.TextSimilarityScore != 1.0 {
		t.Fatalf("unexpected text score %v", rec.TextSimilarityScore)
	}
}

func TestRunDriftedInterpretationFlagsReview(t *testing.T) {
	client := &staticVision{
		raws:    []vision.RawField{{Name: "身体所見", Text: "120/80mmHg"}},
		interps: []vision.InterpretedField{{Name: "身体所見", Text: "血圧は正常範囲内"}},
	}
	svc, chartRepo, resultRepo, store := newTestService(t, client)
	chart := seedChart(t, svc, store, "chart-2")

	svc.Run(context.Background(), Job{ChartID: chart.ID})

	got, _ := chartRepo.GetByID(context.Background(), chart.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("drift is not an error, expected COMPLETED, got %s", got.Status)
	}
	if !got.NeedsReview {
		t.Fatal("drifted interpretation must flag the chart for review")
	}

	doc, _, _ := resultRepo.GetByChartID(context.Background(), chart.ID)
	rec := FindByName(doc.ReviewItems, "身体所見")
	if !rec.NeedsReview {
		t.Fatal("record must need review")
	}
	if rec.ErrorOccurred {
		t.Fatal("drift must not be marked as an error")
	}
}

func TestRunInterpretFailureDegradesToPartialSuccess(t *testing.T) {
	client := &failingInterpret{
		raws: []vision.RawField{
			{Name: "主訴", Text: "腹痛"},
			{Name: "内服薬", Text: "ロキソニン"},
		},
		err: errors.New("model overloaded"),
	}
	svc, chartRepo, resultRepo, store := newTestService(t, client)
	chart := seedChart(t, svc, store, "chart-3")

	svc.Run(context.Background(), Job{ChartID: chart.ID})

	got, _ := chartRepo.GetByID(context.Background(), chart.ID)
	if got.Status != StatusPartialSuccess {
		t.Fatalf("expected PARTIAL_SUCCESS, got %s", got.Status)
	}
	if !got.NeedsReview {
		t.Fatal("partial success must force needs_review")
	}
	if got.ErrorMessage == nil || !strings.HasPrefix(*got.ErrorMessage, ErrorCodeInterpretation) {
		t.Fatalf("expected %s error message, got %v", ErrorCodeInterpretation, got.ErrorMessage)
	}

	doc, _, _ := resultRepo.GetByChartID(context.Background(), chart.ID)
	for _, rec := range doc.ReviewItems {
		if !rec.ErrorOccurred {
			t.Fatalf("record %s must be marked errored", rec.ItemName)
		}
		if rec.InterpretedText == nil || rec.RawText == nil || *rec.InterpretedText != *rec.RawText {
			t.Fatalf("record %s must keep raw text as interpretation stand-in", rec.ItemName)
		}
		if !rec.NeedsReview {
			t.Fatalf("record %s must need review", rec.ItemName)
		}
	}
}

func TestRunExtractFailureFailsChart(t *testing.T) {
	svc, chartRepo, _, store := newTestService(t, &failingExtract{err: errors.New("boom")})
	chart := seedChart(t, svc, store, "chart-4")

	svc.Run(context.Background(), Job{ChartID: chart.ID})

	got, _ := chartRepo.GetByID(context.Background(), chart.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.ErrorMessage == nil || !strings.HasPrefix(*got.ErrorMessage, ErrorCodeExtraction) {
		t.Fatalf("expected %s error message, got %v", ErrorCodeExtraction, got.ErrorMessage)
	}
}

func TestRunMalformedResponseCode(t *testing.T) {
	err := fmt.Errorf("gemini extract: %w: unexpected token", vision.ErrMalformedResponse)
	svc, chartRepo, _, store := newTestService(t, &failingExtract{err: err})
	chart := seedChart(t, svc, store, "chart-5")

	svc.Run(context.Background(), Job{ChartID: chart.ID})

	got, _ := chartRepo.GetByID(context.Background(), chart.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.ErrorMessage == nil || !strings.HasPrefix(*got.ErrorMessage, ErrorCodeMalformed) {
		t.Fatalf("expected %s error message, got %v", ErrorCodeMalformed, got.ErrorMessage)
	}
}

func TestRunEmptyExtractionSubstitutesDefaultFields(t *testing.T) {
	svc, chartRepo, resultRepo, store := newTestService(t, &echoVision{})
	chart := seedChart(t, svc, store, "chart-6")

	svc.Run(context.Background(), Job{ChartID: chart.ID})

	got, _ := chartRepo.GetByID(context.Background(), chart.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (error: %v)", got.Status, got.ErrorMessage)
	}

	doc, confidence, _ := resultRepo.GetByChartID(context.Background(), chart.ID)
	if len(doc.ReviewItems) != len(DefaultFieldNames) {
		t.Fatalf("expected %d default records, got %d", len(DefaultFieldNames), len(doc.ReviewItems))
	}
	for _, name := range DefaultFieldNames {
		if FindByName(doc.ReviewItems, name) == nil {
			t.Fatalf("missing default field %s", name)
		}
	}
	if confidence != 1.0 {
		t.Fatalf("empty-for-empty fields agree perfectly, got confidence %v", confidence)
	}
}

func TestRunMissingImageFails(t *testing.T) {
	svc, chartRepo, _, _ := newTestService(t, &echoVision{})
	now := time.Now().UTC()
	chart := Chart{ID: "chart-7", StorageKey: "missing/key.png", Status: StatusPending, UploadedBy: "u", CreatedAt: now, UpdatedAt: now}
	if err := svc.Charts.Create(context.Background(), chart); err != nil {
		t.Fatalf("Create: %v", err)
	}

	svc.Run(context.Background(), Job{ChartID: chart.ID})

	got, _ := chartRepo.GetByID(context.Background(), chart.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.ErrorMessage == nil || !strings.HasPrefix(*got.ErrorMessage, ErrorCodeFetch) {
		t.Fatalf("expected %s error message, got %v", ErrorCodeFetch, got.ErrorMessage)
	}
}

func TestRunWithoutVisionClientFails(t *testing.T) {
	svc, chartRepo, _, store := newTestService(t, nil)
	chart := seedChart(t, svc, store, "chart-8")

	svc.Run(context.Background(), Job{ChartID: chart.ID})

	got, _ := chartRepo.GetByID(context.Background(), chart.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
}

func TestRunWithTemplateAppliesThresholdsAndNames(t *testing.T) {
	// One trailing character differs: the scores clear the 0.8/0.7 defaults
	// but not the template's 0.99.
	client := &staticVision{
		raws:    []vision.RawField{{Name: "主訴", Text: "右膝の痛みが三日前から続いている"}},
		interps: []vision.InterpretedField{{Name: "主訴", Text: "右膝の痛みが三日前から続いていた"}},
	}
	svc, chartRepo, resultRepo, store := newTestService(t, client)
	chart := seedChart(t, svc, store, "chart-9")

	created, err := svc.Templates.Create(context.Background(), templates.Template{
		Name: "整形外科",
		Items: []templates.Item{
			{Name: "主訴", Enabled: true, TextThreshold: 0.99, VectorThreshold: 0.99},
		},
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	svc.Run(context.Background(), Job{ChartID: chart.ID, TemplateID: &created.ID})

	if len(client.requestedNames) != 1 || client.requestedNames[0] != "主訴" {
		t.Fatalf("template field names must be passed to the provider, got %v", client.requestedNames)
	}

	got, _ := chartRepo.GetByID(context.Background(), chart.ID)
	if !got.NeedsReview {
		t.Fatal("near-identical text must still fail a 0.99 template threshold")
	}

	doc, _, _ := resultRepo.GetByChartID(context.Background(), chart.ID)
	rec := FindByName(doc.ReviewItems, "主訴")
	if rec.TextSimilarityScore == nil || *rec.TextSimilarityScore < similarity.DefaultTextThreshold {
		t.Fatalf("score must clear the default threshold, got %v", rec.TextSimilarityScore)
	}
	if doc.TemplateID == nil || *doc.TemplateID != created.ID {
		t.Fatalf("result document must record the template, got %v", doc.TemplateID)
	}
	if doc.TemplateName == nil || *doc.TemplateName != "整形外科" {
		t.Fatalf("result document must record the template name, got %v", doc.TemplateName)
	}
}

func TestRunWithoutJobTemplateUsesChartAssociation(t *testing.T) {
	client := &staticVision{
		raws:    []vision.RawField{{Name: "血圧", Text: "120/80"}},
		interps: []vision.InterpretedField{{Name: "血圧", Text: "120/80"}},
	}
	svc, chartRepo, resultRepo, store := newTestService(t, client)
	chart := seedChart(t, svc, store, "chart-16")

	created, err := svc.Templates.Create(context.Background(), templates.Template{
		Name:  "バイタル",
		Items: []templates.Item{{Name: "血圧", Enabled: true}},
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if err := chartRepo.SetTemplate(context.Background(), chart.ID, &created.ID); err != nil {
		t.Fatalf("SetTemplate: %v", err)
	}

	// No template on the job: the chart's stored association applies.
	svc.Run(context.Background(), Job{ChartID: chart.ID})

	if len(client.requestedNames) != 1 || client.requestedNames[0] != "血圧" {
		t.Fatalf("run must use the chart's associated template fields, got %v", client.requestedNames)
	}

	doc, _, err := resultRepo.GetByChartID(context.Background(), chart.ID)
	if err != nil {
		t.Fatalf("GetByChartID: %v", err)
	}
	if doc.TemplateID == nil || *doc.TemplateID != created.ID {
		t.Fatalf("document must keep the template association, got %v", doc.TemplateID)
	}
	if doc.TemplateName == nil || *doc.TemplateName != "バイタル" {
		t.Fatalf("document must keep the template name, got %v", doc.TemplateName)
	}
}

func TestUpdateFieldClearsChartAggregate(t *testing.T) {
	svc, chartRepo, resultRepo, store := newTestService(t, nil)
	chart := seedChart(t, svc, store, "chart-10")

	doc := &ResultDocument{ReviewItems: []FieldRecord{
		{ItemName: "主訴", InterpretedText: strPtr("頭痛"), NeedsReview: true},
		{ItemName: "現病歴", InterpretedText: strPtr("数日前から"), NeedsReview: true},
	}}
	if err := resultRepo.Replace(context.Background(), chart.ID, doc, 0.9); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := chartRepo.UpdateReviewState(context.Background(), chart.ID, true, nil, nil); err != nil {
		t.Fatalf("UpdateReviewState: %v", err)
	}

	// First update: the chart stays in review because of the second field.
	_, got, err := svc.UpdateField(context.Background(), chart.ID, "主訴", FieldUpdate{ReviewedBy: "dr.a"})
	if err != nil {
		t.Fatalf("UpdateField: %v", err)
	}
	if !got.NeedsReview {
		t.Fatal("chart must stay in review while a field is outstanding")
	}

	// Second update, empty reviewer: defaults to "system" and clears the chart.
	rec, got, err := svc.UpdateField(context.Background(), chart.ID, "現病歴", FieldUpdate{})
	if err != nil {
		t.Fatalf("UpdateField: %v", err)
	}
	if rec.ReviewedBy == nil || *rec.ReviewedBy != "system" {
		t.Fatalf("empty reviewer must default to system, got %v", rec.ReviewedBy)
	}
	if got.NeedsReview {
		t.Fatal("chart must be cleared after the last field is reviewed")
	}
	if got.ReviewedBy == nil || *got.ReviewedBy != "system" {
		t.Fatalf("chart reviewer must come from the latest field stamp, got %v", got.ReviewedBy)
	}
	if got.ReviewedAt == nil {
		t.Fatal("chart reviewed_at must be set once cleared")
	}
}

func TestUpdateFieldErrors(t *testing.T) {
	svc, _, resultRepo, store := newTestService(t, nil)

	if _, _, err := svc.UpdateField(context.Background(), "missing", "主訴", FieldUpdate{}); !errors.Is(err, ErrChartNotFound) {
		t.Fatalf("expected ErrChartNotFound, got %v", err)
	}

	chart := seedChart(t, svc, store, "chart-11")
	if _, _, err := svc.UpdateField(context.Background(), chart.ID, "主訴", FieldUpdate{}); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}

	doc := &ResultDocument{ReviewItems: []FieldRecord{{ItemName: "主訴"}}}
	if err := resultRepo.Replace(context.Background(), chart.ID, doc, 1.0); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, _, err := svc.UpdateField(context.Background(), chart.ID, "無い項目", FieldUpdate{}); !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestConvertFormatFoldsLegacyDocument(t *testing.T) {
	svc, _, resultRepo, store := newTestService(t, nil)
	chart := seedChart(t, svc, store, "chart-12")

	doc := &ResultDocument{Legacy: map[string]FieldRecord{
		"主訴":  {ItemName: "主訴", RawText: strPtr("頭痛")},
		"既往歴": {ItemName: "既往歴", RawText: strPtr("なし")},
	}}
	if err := resultRepo.Replace(context.Background(), chart.ID, doc, 0.8); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	changed, err := svc.ConvertFormat(context.Background(), chart.ID)
	if err != nil {
		t.Fatalf("ConvertFormat: %v", err)
	}
	if !changed {
		t.Fatal("legacy document must report a conversion")
	}

	stored, confidence, err := resultRepo.GetByChartID(context.Background(), chart.ID)
	if err != nil {
		t.Fatalf("GetByChartID: %v", err)
	}
	if len(stored.ReviewItems) != 2 || len(stored.Legacy) != 0 {
		t.Fatalf("stored document not canonical: items=%d legacy=%d", len(stored.ReviewItems), len(stored.Legacy))
	}
	if confidence != 0.8 {
		t.Fatalf("conversion must not touch confidence, got %v", confidence)
	}

	changed, err = svc.ConvertFormat(context.Background(), chart.ID)
	if err != nil {
		t.Fatalf("ConvertFormat second call: %v", err)
	}
	if !changed {
		t.Fatal("a no-op conversion is still a success")
	}
}

func TestConvertFormatCanonicalDocumentSucceeds(t *testing.T) {
	svc, _, resultRepo, store := newTestService(t, nil)
	chart := seedChart(t, svc, store, "chart-17")

	doc := &ResultDocument{ReviewItems: []FieldRecord{{ItemName: "主訴", RawText: strPtr("頭痛")}}}
	if err := resultRepo.Replace(context.Background(), chart.ID, doc, 1.0); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	ok, err := svc.ConvertFormat(context.Background(), chart.ID)
	if err != nil {
		t.Fatalf("ConvertFormat: %v", err)
	}
	if !ok {
		t.Fatal("converting an already-canonical document must report success")
	}
}

func TestReprocessResetsToPending(t *testing.T) {
	svc, chartRepo, _, store := newTestService(t, nil)
	// Unstarted dispatcher: jobs buffer without running, keeping the test
	// deterministic.
	svc.Queue = NewDispatcher(func(ctx context.Context, job Job) {})
	chart := seedChart(t, svc, store, "chart-13")
	if err := chartRepo.UpdateStatus(context.Background(), chart.ID, StatusCompleted, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, err := svc.Reprocess(context.Background(), chart.ID, nil)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("expected PENDING after reprocess, got %s", got.Status)
	}
}

func TestReprocessUnknownTemplate(t *testing.T) {
	svc, _, _, store := newTestService(t, nil)
	chart := seedChart(t, svc, store, "chart-14")

	missing := "does-not-exist"
	if _, err := svc.Reprocess(context.Background(), chart.ID, &missing); !errors.Is(err, templates.ErrNotFound) {
		t.Fatalf("expected templates.ErrNotFound, got %v", err)
	}
}

func TestStatusServesTerminalFromCache(t *testing.T) {
	svc, chartRepo, _, store := newTestService(t, nil)
	chart := seedChart(t, svc, store, "chart-15")
	if err := chartRepo.UpdateStatus(context.Background(), chart.ID, StatusCompleted, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	first, err := svc.Status(context.Background(), chart.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if first.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", first.Status)
	}

	// Mutate the row behind the cache; the cached terminal state is served.
	if err := chartRepo.UpdateStatus(context.Background(), chart.ID, StatusFailed, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	second, err := svc.Status(context.Background(), chart.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if second.Status != StatusCompleted {
		t.Fatalf("expected cached COMPLETED, got %s", second.Status)
	}
}

func TestSanitizeErrorTruncatesOnRuneBoundary(t *testing.T) {
	long := errors.New(strings.Repeat("解釈処理に失敗しました。", 50))
	got := sanitizeError(long)
	if !utf8.ValidString(got) {
		t.Fatal("truncated message must stay valid UTF-8")
	}
	if utf8.RuneCountInString(got) != 300 {
		t.Fatalf("expected 300 runes, got %d", utf8.RuneCountInString(got))
	}

	short := errors.New("短いエラー")
	if sanitizeError(short) != "短いエラー" {
		t.Fatalf("short messages must pass through, got %q", sanitizeError(short))
	}
	if sanitizeError(nil) != "" {
		t.Fatal("nil error must sanitize to empty")
	}
}

func TestUploadCreatesPendingChart(t *testing.T) {
	svc, chartRepo, _, _ := newTestService(t, nil)
	svc.Queue = NewDispatcher(func(ctx context.Context, job Job) {})

	chart, err := svc.Upload(context.Background(), "", "karte.png", bytes.NewReader([]byte("image")), nil)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if chart.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", chart.Status)
	}
	if chart.UploadedBy != "anonymous" {
		t.Fatalf("empty uploader must default to anonymous, got %q", chart.UploadedBy)
	}

	stored, err := chartRepo.GetByID(context.Background(), chart.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.StorageKey == "" {
		t.Fatal("chart must record its storage key")
	}
}
