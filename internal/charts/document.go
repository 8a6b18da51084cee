package charts

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Reserved top-level keys of the result document. Any other top-level key is
// a legacy map entry: a field record stored under its field name, without the
// item_name property.
const (
	keyReviewItems      = "review_items"
	keyRawItems         = "raw_items"
	keyInterpretedItems = "interpreted_items"
	keyTemplateID       = "template_id"
	keyTemplateName     = "template_name"
)

// ResultDocument is the extraction result for one chart. The array layout
// (ReviewItems) is canonical; Legacy holds map-layout entries carried over
// from documents written before the array layout existed. Both layouts
// round-trip through the JSON codec without loss.
type ResultDocument struct {
	ReviewItems      []FieldRecord
	RawItems         map[string]string
	InterpretedItems map[string]string
	TemplateID       *string
	TemplateName     *string
	Legacy           map[string]FieldRecord
}

// legacyFieldRecord is a FieldRecord as stored in the legacy map layout,
// where the field name is the JSON key rather than a property.
type legacyFieldRecord struct {
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

func (r legacyFieldRecord) toRecord(name string) FieldRecord {
	return FieldRecord{
		ItemName:              name,
		RawText:               r.RawText,
		InterpretedText:       r.InterpretedText,
		TextSimilarityScore:   r.TextSimilarityScore,
		VectorSimilarityScore: r.VectorSimilarityScore,
		NeedsReview:           r.NeedsReview,
		ReviewComment:         r.ReviewComment,
		ReviewedBy:            r.ReviewedBy,
		ReviewedAt:            r.ReviewedAt,
		ErrorOccurred:         r.ErrorOccurred,
	}
}

func toLegacyRecord(rec FieldRecord) legacyFieldRecord {
	return legacyFieldRecord{
		RawText:               rec.RawText,
		InterpretedText:       rec.InterpretedText,
		TextSimilarityScore:   rec.TextSimilarityScore,
		VectorSimilarityScore: rec.VectorSimilarityScore,
		NeedsReview:           rec.NeedsReview,
		ReviewComment:         rec.ReviewComment,
		ReviewedBy:            rec.ReviewedBy,
		ReviewedAt:            rec.ReviewedAt,
		ErrorOccurred:         rec.ErrorOccurred,
	}
}

// UnmarshalJSON decodes either document layout. Reserved keys populate the
// typed fields; every other top-level key becomes a legacy entry.
func (d *ResultDocument) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}

	*d = ResultDocument{}
	for key, raw := range top {
		switch key {
		case keyReviewItems:
			if err := json.Unmarshal(raw, &d.ReviewItems); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		case keyRawItems:
			if err := json.Unmarshal(raw, &d.RawItems); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		case keyInterpretedItems:
			if err := json.Unmarshal(raw, &d.InterpretedItems); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		case keyTemplateID:
			if err := json.Unmarshal(raw, &d.TemplateID); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		case keyTemplateName:
			if err := json.Unmarshal(raw, &d.TemplateName); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		default:
			var rec legacyFieldRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode legacy field %q: %w", key, err)
			}
			if d.Legacy == nil {
				d.Legacy = make(map[string]FieldRecord)
			}
			d.Legacy[key] = rec.toRecord(key)
		}
	}
	return nil
}

// MarshalJSON writes the document back preserving whichever layout(s) it
// holds. Legacy entries are emitted under their field names without
// item_name.
func (d ResultDocument) MarshalJSON() ([]byte, error) {
	top := make(map[string]any, len(d.Legacy)+5)
	if d.ReviewItems != nil {
		top[keyReviewItems] = d.ReviewItems
	}
	if d.RawItems != nil {
		top[keyRawItems] = d.RawItems
	}
	if d.InterpretedItems != nil {
		top[keyInterpretedItems] = d.InterpretedItems
	}
	if d.TemplateID != nil {
		top[keyTemplateID] = d.TemplateID
	}
	if d.TemplateName != nil {
		top[keyTemplateName] = d.TemplateName
	}
	for name, rec := range d.Legacy {
		top[name] = toLegacyRecord(rec)
	}
	return json.Marshal(top)
}

// Unify returns every field record in the document. Array records come
// first, in stored order, and are authoritative; legacy entries shadowed by
// an array record of the same name are skipped. Legacy-only entries follow
// in name order so the output is deterministic.
func (d *ResultDocument) Unify() []FieldRecord {
	out := append([]FieldRecord(nil), d.ReviewItems...)
	if len(d.Legacy) == 0 {
		return out
	}

	seen := make(map[string]struct{}, len(d.ReviewItems))
	for _, rec := range d.ReviewItems {
		seen[rec.ItemName] = struct{}{}
	}

	names := make([]string, 0, len(d.Legacy))
	for name := range d.Legacy {
		if _, ok := seen[name]; ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, d.Legacy[name])
	}
	return out
}

// FindByName returns a pointer to the record with the given item name, or
// nil if absent.
func FindByName(records []FieldRecord, name string) *FieldRecord {
	for i := range records {
		if records[i].ItemName == name {
			return &records[i]
		}
	}
	return nil
}

// FieldUpdate is a reviewer's patch of a single field. Nil members leave the
// current value untouched; applying an update always clears needs_review and
// stamps the reviewer.
type FieldUpdate struct {
	InterpretedText *string
	ReviewComment   *string
	ReviewedBy      string
	ReviewedAt      time.Time
}

// ApplyUpdate patches the named field in place. The array layout is
// consulted first; a legacy-only field is patched in the map and the patched
// record is mirrored into review_items so later readers see it in the
// canonical layout. Returns the patched record, or ErrFieldNotFound when the
// name exists in neither layout.
func (d *ResultDocument) ApplyUpdate(name string, upd FieldUpdate) (FieldRecord, error) {
	if rec := FindByName(d.ReviewItems, name); rec != nil {
		applyFieldUpdate(rec, upd)
		return *rec, nil
	}

	rec, ok := d.Legacy[name]
	if !ok {
		return FieldRecord{}, ErrFieldNotFound
	}
	applyFieldUpdate(&rec, upd)
	d.Legacy[name] = rec
	d.ReviewItems = append(d.ReviewItems, rec)
	return rec, nil
}

func applyFieldUpdate(rec *FieldRecord, upd FieldUpdate) {
	if upd.InterpretedText != nil {
		rec.InterpretedText = upd.InterpretedText
	}
	if upd.ReviewComment != nil {
		rec.ReviewComment = upd.ReviewComment
	}
	rec.NeedsReview = false
	reviewedBy := upd.ReviewedBy
	reviewedAt := upd.ReviewedAt
	rec.ReviewedBy = &reviewedBy
	rec.ReviewedAt = &reviewedAt
}

// ToCanonical folds legacy entries into the array layout. Legacy entries
// shadowed by an array record of the same name are dropped outright, the
// array being authoritative. Reserved keys are untouched. Returns whether
// the document changed; calling it again is a no-op.
func (d *ResultDocument) ToCanonical() bool {
	if len(d.Legacy) == 0 {
		return false
	}

	names := make([]string, 0, len(d.Legacy))
	for name := range d.Legacy {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if FindByName(d.ReviewItems, name) != nil {
			continue
		}
		d.ReviewItems = append(d.ReviewItems, d.Legacy[name])
	}
	if d.ReviewItems == nil {
		d.ReviewItems = []FieldRecord{}
	}
	d.Legacy = nil
	return true
}
