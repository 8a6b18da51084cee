package charts

import "errors"

var (
	ErrChartNotFound  = errors.New("chart not found")
	ErrResultNotFound = errors.New("extraction result not found")
	ErrFieldNotFound  = errors.New("field not found")
	ErrQueueFull      = errors.New("extraction queue is full")
	ErrQueueClosed    = errors.New("extraction queue is closed")
)

const (
	ErrorCodeFetch          = "FETCH_FAILURE"
	ErrorCodeExtraction     = "EXTRACTION_FAILURE"
	ErrorCodeInterpretation = "INTERPRETATION_FAILURE"
	ErrorCodeMalformed      = "MALFORMED_RESPONSE"
	ErrorCodeInternal       = "INTERNAL_ERROR"
)
