package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	statuspb "google.golang.org/genproto/googleapis/rpc/status"
)

type fakeAnnotator struct {
	req    *visionpb.BatchAnnotateImagesRequest
	resp   *visionpb.BatchAnnotateImagesResponse
	err    error
	closed bool
}

func (f *fakeAnnotator) BatchAnnotateImages(_ context.Context, req *visionpb.BatchAnnotateImagesRequest, _ ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeAnnotator) Close() error {
	f.closed = true
	return nil
}

type fakeProcessor struct {
	req  *documentaipb.ProcessRequest
	resp *documentaipb.ProcessResponse
	err  error
}

func (f *fakeProcessor) ProcessDocument(_ context.Context, req *documentaipb.ProcessRequest, _ ...gax.CallOption) (*documentaipb.ProcessResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeProcessor) Close() error { return nil }

func testPage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		img.SetGray(x, 10, color.Gray{Y: 0})
	}
	return img
}

func TestVisionExtractText(t *testing.T) {
	fake := &fakeAnnotator{
		resp: &visionpb.BatchAnnotateImagesResponse{
			Responses: []*visionpb.AnnotateImageResponse{{
				FullTextAnnotation: &visionpb.TextAnnotation{
					Text: "Hello\nWorld\n",
					Pages: []*visionpb.Page{{
						Property: &visionpb.TextAnnotation_TextProperty{
							DetectedLanguages: []*visionpb.TextAnnotation_DetectedLanguage{{LanguageCode: "en"}},
						},
						Blocks: []*visionpb.Block{{Confidence: 0.9}, {Confidence: 0.7}},
					}},
				},
			}},
		},
	}
	svc := newGoogleVisionOCRService(fake, Options{LanguageHints: []string{"pl"}})

	result, err := svc.ExtractTextWithMetadata(context.Background(), testPage())
	require.NoError(t, err)

	assert.Equal(t, "Hello\nWorld\n", result.Text)
	assert.InDelta(t, 0.8, result.Confidence, 0.001)
	assert.Equal(t, []string{"en"}, result.LanguageCodes)

	require.Len(t, fake.req.GetRequests(), 1)
	sent := fake.req.GetRequests()[0]
	assert.Equal(t, visionpb.Feature_DOCUMENT_TEXT_DETECTION, sent.GetFeatures()[0].GetType())
	assert.Equal(t, []string{"pl"}, sent.GetImageContext().GetLanguageHints())
	assert.NotEmpty(t, sent.GetImage().GetContent())

	require.NoError(t, svc.Close())
	assert.True(t, fake.closed)
}

func TestVisionBlankPageIsEmptyText(t *testing.T) {
	fake := &fakeAnnotator{
		resp: &visionpb.BatchAnnotateImagesResponse{
			Responses: []*visionpb.AnnotateImageResponse{{}},
		},
	}
	svc := newGoogleVisionOCRService(fake, Options{})

	text, err := svc.ExtractText(context.Background(), testPage())
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Nil(t, fake.req.GetRequests()[0].GetImageContext())
}

func TestVisionErrors(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeAnnotator
		want error
	}{
		{
			name: "transport failure",
			fake: &fakeAnnotator{err: errors.New("unavailable")},
			want: ErrOCRFailed,
		},
		{
			name: "empty response",
			fake: &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{}},
			want: ErrOCRFailed,
		},
		{
			name: "per-image error",
			fake: &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
				Responses: []*visionpb.AnnotateImageResponse{{Error: &statuspb.Status{Code: 3, Message: "bad image data"}}},
			}},
			want: ErrInvalidImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newGoogleVisionOCRService(tt.fake, Options{})
			_, err := svc.ExtractText(context.Background(), testPage())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var ocrErr *OCRError
			require.ErrorAs(t, err, &ocrErr)
			assert.Equal(t, "ExtractTextWithMetadata", ocrErr.Op)
		})
	}
}

func TestVisionKeepsCause(t *testing.T) {
	cause := errors.New("rpc error: code = Unavailable")
	svc := newGoogleVisionOCRService(&fakeAnnotator{err: cause}, Options{})

	_, err := svc.ExtractText(context.Background(), testPage())
	assert.ErrorIs(t, err, ErrOCRFailed)
	assert.ErrorIs(t, err, cause)
}

func TestTimeoutStaysVisible(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	rpcErr := errors.New("rpc error: code = DeadlineExceeded desc = context deadline exceeded")

	t.Run("vision", func(t *testing.T) {
		svc := newGoogleVisionOCRService(&fakeAnnotator{err: rpcErr}, Options{})
		_, err := svc.ExtractText(ctx, testPage())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.ErrorIs(t, err, ErrOCRFailed)
	})

	t.Run("documentai", func(t *testing.T) {
		svc := newDocumentAIOCRService(&fakeProcessor{err: rpcErr}, Options{ProjectID: "p", Location: "us", ProcessorID: "x"})
		_, err := svc.ExtractText(ctx, testPage())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, ErrMissingCredentials)
	})
}

func TestNilImageRejected(t *testing.T) {
	svc := newGoogleVisionOCRService(&fakeAnnotator{}, Options{})
	_, err := svc.ExtractText(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestDocumentAIExtractText(t *testing.T) {
	fake := &fakeProcessor{
		resp: &documentaipb.ProcessResponse{
			Document: &documentaipb.Document{
				Text: "Faktura\n",
				Pages: []*documentaipb.Document_Page{{
					Layout:            &documentaipb.Document_Page_Layout{Confidence: 0.95},
					DetectedLanguages: []*documentaipb.Document_Page_DetectedLanguage{{LanguageCode: "pl"}},
				}},
			},
		},
	}
	svc := newDocumentAIOCRService(fake, Options{ProjectID: "p", Location: "eu", ProcessorID: "x"})

	result, err := svc.ExtractTextWithMetadata(context.Background(), testPage())
	require.NoError(t, err)
	assert.Equal(t, "Faktura\n", result.Text)
	assert.InDelta(t, 0.95, result.Confidence, 0.001)
	assert.Equal(t, []string{"pl"}, result.LanguageCodes)

	assert.Equal(t, "projects/p/locations/eu/processors/x", fake.req.GetName())
	assert.Equal(t, "image/png", fake.req.GetRawDocument().GetMimeType())
}

func TestDocumentAIErrorMapping(t *testing.T) {
	tests := []struct {
		err  string
		want error
	}{
		{"rpc error: code = PermissionDenied desc = PERMISSION_DENIED", ErrMissingCredentials},
		{"rpc error: code = NotFound desc = NOT_FOUND", ErrInvalidConfiguration},
		{"rpc error: code = InvalidArgument desc = INVALID_ARGUMENT", ErrInvalidImage},
		{"connection reset", ErrOCRFailed},
	}

	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			svc := newDocumentAIOCRService(&fakeProcessor{err: errors.New(tt.err)}, Options{ProjectID: "p", Location: "us", ProcessorID: "x"})
			_, err := svc.ExtractText(context.Background(), testPage())
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), "tesseract", Options{})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNewDocumentAIRequiresProcessor(t *testing.T) {
	_, err := NewDocumentAIOCRService(context.Background(), Options{ProjectID: "p"})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestWrapOCRErrorKeepsExisting(t *testing.T) {
	inner := NewOCRError("Inner", ErrOCRFailed, "first")
	wrapped := WrapOCRError("Outer", inner, "second")
	assert.Same(t, inner, wrapped)
	assert.Nil(t, WrapOCRError("Outer", nil, ""))
	assert.Equal(t, "ocr: Inner failed: first: OCR processing failed", inner.Error())
}
