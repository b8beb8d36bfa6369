package ocr

import (
	"context"
	"errors"
	"fmt"
)

// Common OCR processing errors
var (
	// ErrImageTooLarge is returned when the encoded page exceeds the request size limit.
	ErrImageTooLarge = errors.New("page image exceeds the maximum size (20MB)")

	// ErrInvalidImage is returned when the page cannot be encoded or is rejected as unreadable.
	ErrInvalidImage = errors.New("invalid or corrupted page image")

	// ErrOCRFailed is returned when the Google API fails to process the page.
	ErrOCRFailed = errors.New("OCR processing failed")

	// ErrMissingCredentials is returned when no usable Google Cloud credentials were found.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials")

	// ErrInvalidConfiguration is returned when a backend is missing required settings.
	ErrInvalidConfiguration = errors.New("invalid OCR configuration")

	// ErrUnknownBackend is returned by New for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown OCR backend")
)

// OCRError wraps errors with additional context about the OCR processing failure.
type OCRError struct {
	// Op is the operation that failed (e.g., "ExtractText", "NewGoogleVisionOCRService").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// NewOCRError creates a new OCRError with the specified operation and underlying error.
func NewOCRError(op string, err error, details string) *OCRError {
	return &OCRError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}

	return NewOCRError(op, err, details)
}

// apiError wraps a failed API call in kind, keeping err in the chain. When ctx ended
// first, its error is kept too, so a timeout is not mistaken for a rejected request.
func apiError(ctx context.Context, kind, err error) error {
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		return fmt.Errorf("%w: %w: %w", kind, cerr, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}
