package templates

import "errors"

var (
	ErrNotFound     = errors.New("template not found")
	ErrNameRequired = errors.New("template name is required")
	ErrNoItems      = errors.New("template has no items")
)
