package ocr

import (
	"context"
	"fmt"
	"image"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"kartka/internal/logger"
)

// imageAnnotator is the part of the Vision client this package uses.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// GoogleVisionOCRService implements OCRService using Google Cloud Vision API.
type GoogleVisionOCRService struct {
	client        imageAnnotator
	languageHints []string
	timeout       time.Duration
	log           zerolog.Logger
}

// NewGoogleVisionOCRService creates a Vision backend. opts.CredentialsFile is used when
// set, otherwise application default credentials.
func NewGoogleVisionOCRService(ctx context.Context, opts Options) (OCRService, error) {
	const op = "NewGoogleVisionOCRService"

	var clientOptions []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, clientOptions...)
	if err != nil {
		if len(clientOptions) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials file and no application default credentials")
		}
		return nil, WrapOCRError(op, err, "failed to create client")
	}

	return newGoogleVisionOCRService(client, opts), nil
}

func newGoogleVisionOCRService(client imageAnnotator, opts Options) *GoogleVisionOCRService {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &GoogleVisionOCRService{
		client:        client,
		languageHints: opts.LanguageHints,
		timeout:       timeout,
		log:           logger.WithComponent("ocr-vision"),
	}
}

// ExtractText extracts the text of one page.
func (g *GoogleVisionOCRService) ExtractText(ctx context.Context, img image.Image) (string, error) {
	result, err := g.ExtractTextWithMetadata(ctx, img)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// ExtractTextWithMetadata extracts the text of one page with confidence and languages.
func (g *GoogleVisionOCRService) ExtractTextWithMetadata(ctx context.Context, img image.Image) (*OCRResult, error) {
	const op = "ExtractTextWithMetadata"
	startTime := time.Now()

	content, err := encodePNG(op, img)
	if err != nil {
		return nil, err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: content},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}
	if len(g.languageHints) > 0 {
		req.Requests[0].ImageContext = &visionpb.ImageContext{LanguageHints: g.languageHints}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.BatchAnnotateImages(callCtx, req)
	if err != nil {
		return nil, NewOCRError(op, apiError(callCtx, ErrOCRFailed, err), "Vision API call failed")
	}
	if len(resp.GetResponses()) == 0 {
		return nil, WrapOCRError(op, ErrOCRFailed, "no response from Vision API")
	}

	imgResp := resp.GetResponses()[0]
	if imgResp.GetError() != nil {
		return nil, WrapOCRError(op, ErrInvalidImage, fmt.Sprintf("Vision API error: %s", imgResp.GetError().GetMessage()))
	}

	result := processVisionResponse(imgResp)
	result.ProcessedAt = time.Now()
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)

	g.log.Debug().
		Int("text_length", len(result.Text)).
		Float32("confidence", result.Confidence).
		Dur("duration", result.ProcessingDuration).
		Msg("Page text extracted")

	return result, nil
}

// processVisionResponse collects text, confidence and languages. A page without any
// text is not an error: blank pages are common in scanned letters.
func processVisionResponse(resp *visionpb.AnnotateImageResponse) *OCRResult {
	annotation := resp.GetFullTextAnnotation()
	if annotation == nil {
		return &OCRResult{}
	}

	var confidenceSum float32
	var confidenceCount int
	languageSet := make(map[string]bool)

	for _, page := range annotation.GetPages() {
		for _, lang := range page.GetProperty().GetDetectedLanguages() {
			if lang.GetLanguageCode() != "" {
				languageSet[lang.GetLanguageCode()] = true
			}
		}
		for _, block := range page.GetBlocks() {
			if block.GetConfidence() > 0 {
				confidenceSum += block.GetConfidence()
				confidenceCount++
			}
		}
	}

	var avgConfidence float32
	if confidenceCount > 0 {
		avgConfidence = confidenceSum / float32(confidenceCount)
	}

	var languages []string
	for lang := range languageSet {
		languages = append(languages, lang)
	}

	return &OCRResult{
		Text:          annotation.GetText(),
		Confidence:    avgConfidence,
		LanguageCodes: languages,
	}
}

// Close closes the underlying Vision client.
func (g *GoogleVisionOCRService) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
