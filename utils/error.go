package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

var (
	// ErrRateUnavailable means the rate source had no value for a pair.
	ErrRateUnavailable = errors.New("exchange rate unavailable")
	// ErrTemplateNotFound is returned before anything is written.
	ErrTemplateNotFound = errors.New("invoice template not found")
	// ErrTemplateCapacity means the retained items do not fit between the two blocks.
	ErrTemplateCapacity = errors.New("too many invoice items for template")
	// ErrInvoiceInProgress means another issuer holds the reservation lock.
	ErrInvoiceInProgress = errors.New("invoice is already being issued for this reservation")
)

// ValidationError rejects a malformed value; the receiver is left unchanged.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func NewValidationError(field string, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ExportIOError wraps a failure to write the exported workbook.
type ExportIOError struct {
	Path string
	Err  error
}

func (e *ExportIOError) Error() string {
	return fmt.Sprintf("export to %s: %v", e.Path, e.Err)
}

func (e *ExportIOError) Unwrap() error {
	return e.Err
}
