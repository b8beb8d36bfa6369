// Package ocr provides text extraction from page images using Google Cloud.
//
// Two backends are available: Cloud Vision document text detection (the default) and a
// Document AI OCR processor. Both receive one page at a time, encoded as PNG, and return
// the page text in reading order.
//
// Credentials are taken from the same JSON file Drive uses (layout.credentials). When no
// file is configured the Google application default credentials are used.
//
// Cloud Vision API limitations:
//   - Maximum image size: 20MB per request
//   - Language hints are optional; detection is automatic without them
package ocr

import (
	"context"
	"image"
	"time"
)

// OCRService defines the interface for OCR text extraction services.
type OCRService interface {
	// ExtractText returns the text found on one page image.
	ExtractText(ctx context.Context, img image.Image) (string, error)

	// ExtractTextWithMetadata returns the text with confidence and timing details.
	ExtractTextWithMetadata(ctx context.Context, img image.Image) (*OCRResult, error)

	// Close releases the underlying client.
	Close() error
}

// OCRResult contains the results of OCR processing with metadata.
type OCRResult struct {
	// Text is the extracted text content of the page, in reading order.
	Text string `json:"text"`

	// Confidence is the average confidence score across all detected text (0.0 to 1.0).
	Confidence float32 `json:"confidence"`

	// LanguageCodes contains the detected languages on the page.
	LanguageCodes []string `json:"language_codes,omitempty"`

	// ProcessedAt is the timestamp when the OCR processing completed.
	ProcessedAt time.Time `json:"processed_at"`

	// ProcessingDuration is how long the OCR processing took.
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// Options configures a backend.
type Options struct {
	CredentialsFile string   // Service account JSON; empty uses application default credentials
	LanguageHints   []string // BCP-47 hints passed to Vision
	ProjectID       string   // Document AI only
	Location        string   // Document AI only, e.g. "us" or "eu"
	ProcessorID     string   // Document AI only
	Timeout         time.Duration
}

// New creates the backend named by backend ("vision" or "documentai").
func New(ctx context.Context, backend string, opts Options) (OCRService, error) {
	switch backend {
	case "", "vision":
		return NewGoogleVisionOCRService(ctx, opts)
	case "documentai":
		return NewDocumentAIOCRService(ctx, opts)
	default:
		return nil, NewOCRError("New", ErrUnknownBackend, backend)
	}
}
