package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// MaxImageSizeBytes is the largest encoded page accepted by the Google APIs.
const MaxImageSizeBytes = 20 * 1024 * 1024

// encodePNG encodes a page for upload and enforces the request size limit.
func encodePNG(op string, img image.Image) ([]byte, error) {
	if img == nil {
		return nil, NewOCRError(op, ErrInvalidImage, "nil image")
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, NewOCRError(op, ErrInvalidImage, err.Error())
	}
	if buf.Len() > MaxImageSizeBytes {
		return nil, NewOCRError(op, ErrImageTooLarge, fmt.Sprintf("encoded size: %d bytes", buf.Len()))
	}
	return buf.Bytes(), nil
}
