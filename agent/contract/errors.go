package contract

import "errors"

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrCatalogMismatch        = errors.New("action is not in catalog")
	ErrValidation             = errors.New("validation failed")
	ErrCompletion             = errors.New("completion failed")
	ErrSchemaViolation        = errors.New("model response violates schema")
	ErrIterationBoundExceeded = errors.New("max iterations exceeded")
	ErrCancelled              = errors.New("run cancelled")
	ErrPromptMissing          = errors.New("required prompt is missing")
)
