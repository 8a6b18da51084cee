package charts

// RecomputeAggregate derives the chart-level review state from its field
// records. needsReview is true while any record still needs review. Once all
// records are cleared, reviewedBy is taken from the record with the latest
// reviewed_at stamp, last-seen winning ties; records without a stamp are
// skipped.
func RecomputeAggregate(records []FieldRecord) (needsReview bool, reviewedBy *string) {
	for _, rec := range records {
		if rec.NeedsReview {
			needsReview = true
		}
	}
	if needsReview {
		return true, nil
	}

	var latest *FieldRecord
	for i := range records {
		rec := &records[i]
		if rec.ReviewedAt == nil {
			continue
		}
		if latest == nil || !rec.ReviewedAt.Before(*latest.ReviewedAt) {
			latest = rec
		}
	}
	if latest != nil {
		reviewedBy = latest.ReviewedBy
	}
	return false, reviewedBy
}
