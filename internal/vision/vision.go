// Package vision defines the contract for the two-stage chart reading
// pipeline: a raw pass that transcribes field values off the chart image, and
// an interpretation pass that normalizes the transcriptions into clinical
// wording.
package vision

import (
	"context"
	"errors"
)

var (
	// ErrMalformedResponse indicates the model replied with something that
	// could not be decoded as the expected JSON shape.
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrEmptyResponse indicates the model returned no usable candidates.
	ErrEmptyResponse = errors.New("empty model response")
	// ErrNotConfigured indicates no provider client was wired in.
	ErrNotConfigured = errors.New("vision client not configured")
)

// Image is a chart scan handed to the provider as-is.
type Image struct {
	Data     []byte
	MIMEType string
}

// RawField is a stage-one transcription of a single chart field.
type RawField struct {
	Name string `json:"item_name"`
	Text string `json:"raw_text"`
}

// InterpretedField is a stage-two normalization of a raw field.
type InterpretedField struct {
	Name string `json:"item_name"`
	Text string `json:"interpreted_text"`
}

// Client is implemented by vision-language providers.
//
// ExtractFields transcribes the requested fields from the image; with no
// field names it transcribes whatever fields the provider can identify.
// Interpret rewrites raw transcriptions into normalized clinical wording.
type Client interface {
	ExtractFields(ctx context.Context, image Image, fieldNames []string) ([]RawField, error)
	Interpret(ctx context.Context, fields []RawField) ([]InterpretedField, error)
}
