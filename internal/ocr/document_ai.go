package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"kartka/internal/logger"
)

// documentProcessor is the part of the Document AI client this package uses.
type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAIOCRService implements OCRService with a Document AI OCR processor.
type DocumentAIOCRService struct {
	client        documentProcessor
	processorName string
	timeout       time.Duration
	log           zerolog.Logger
}

// NewDocumentAIOCRService creates a Document AI backend for opts.ProcessorID.
func NewDocumentAIOCRService(ctx context.Context, opts Options) (OCRService, error) {
	const op = "NewDocumentAIOCRService"

	if opts.ProjectID == "" || opts.ProcessorID == "" {
		return nil, WrapOCRError(op, ErrInvalidConfiguration, "project_id and processor_id are required")
	}
	if opts.Location == "" {
		opts.Location = "us"
	}

	// Processors live behind a regional endpoint.
	clientOptions := []option.ClientOption{
		option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", opts.Location)),
	}
	if opts.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", opts.Location))
	}

	return newDocumentAIOCRService(client, opts), nil
}

func newDocumentAIOCRService(client documentProcessor, opts Options) *DocumentAIOCRService {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &DocumentAIOCRService{
		client:        client,
		processorName: fmt.Sprintf("projects/%s/locations/%s/processors/%s", opts.ProjectID, opts.Location, opts.ProcessorID),
		timeout:       timeout,
		log:           logger.WithComponent("ocr-documentai"),
	}
}

// ExtractText extracts the text of one page.
func (p *DocumentAIOCRService) ExtractText(ctx context.Context, img image.Image) (string, error) {
	result, err := p.ExtractTextWithMetadata(ctx, img)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// ExtractTextWithMetadata sends one page to the processor.
func (p *DocumentAIOCRService) ExtractTextWithMetadata(ctx context.Context, img image.Image) (*OCRResult, error) {
	const op = "ExtractTextWithMetadata"
	startTime := time.Now()

	content, err := encodePNG(op, img)
	if err != nil {
		return nil, err
	}

	processCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.ProcessDocument(processCtx, &documentaipb.ProcessRequest{
		Name: p.processorName,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: "image/png",
			},
		},
	})
	if err != nil {
		return nil, p.handleProcessingError(processCtx, op, err)
	}
	if resp.GetDocument() == nil {
		return nil, WrapOCRError(op, ErrOCRFailed, "no document in response")
	}

	doc := resp.GetDocument()
	var confidenceSum float32
	var confidenceCount int
	languageSet := make(map[string]bool)
	for _, page := range doc.GetPages() {
		if c := page.GetLayout().GetConfidence(); c > 0 {
			confidenceSum += c
			confidenceCount++
		}
		for _, lang := range page.GetDetectedLanguages() {
			if lang.GetLanguageCode() != "" {
				languageSet[lang.GetLanguageCode()] = true
			}
		}
	}

	result := &OCRResult{Text: doc.GetText()}
	if confidenceCount > 0 {
		result.Confidence = confidenceSum / float32(confidenceCount)
	}
	for lang := range languageSet {
		result.LanguageCodes = append(result.LanguageCodes, lang)
	}
	result.ProcessedAt = time.Now()
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)

	p.log.Debug().
		Int("text_length", len(result.Text)).
		Dur("duration", result.ProcessingDuration).
		Msg("Page text extracted")

	return result, nil
}

// handleProcessingError converts Document AI errors to OCR errors.
func (p *DocumentAIOCRService) handleProcessingError(ctx context.Context, op string, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED"), strings.Contains(errStr, "Unauthenticated"):
		return NewOCRError(op, apiError(ctx, ErrMissingCredentials, err), "insufficient permissions for Document AI")
	case strings.Contains(errStr, "NOT_FOUND"):
		return NewOCRError(op, apiError(ctx, ErrInvalidConfiguration, err), fmt.Sprintf("processor not found: %s", p.processorName))
	case strings.Contains(errStr, "INVALID_ARGUMENT"):
		return NewOCRError(op, apiError(ctx, ErrInvalidImage, err), "page rejected by Document AI")
	default:
		return NewOCRError(op, apiError(ctx, ErrOCRFailed, err), "Document AI call failed")
	}
}

// Close closes the underlying Document AI client.
func (p *DocumentAIOCRService) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
