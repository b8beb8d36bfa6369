package ocr_test

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"log"
	"os"
	"time"

	"kartka/internal/ocr"
)

// Example demonstrates extracting the text of one scanned page.
func Example() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	service, err := ocr.New(ctx, "vision", ocr.Options{
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		LanguageHints:   []string{"pl", "en"},
	})
	if err != nil {
		log.Fatalf("Failed to create OCR service: %v", err)
	}
	defer service.Close()

	f, err := os.Open("page-1.jpg")
	if err != nil {
		log.Fatalf("Failed to open page: %v", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		log.Fatalf("Failed to decode page: %v", err)
	}

	text, err := service.ExtractText(ctx, img)
	if err != nil {
		log.Fatalf("Failed to extract text: %v", err)
	}

	fmt.Printf("Extracted text (%d characters):\n%s\n", len(text), text)
}

// Example_documentAI demonstrates the Document AI backend with metadata.
func Example_documentAI() {
	ctx := context.Background()

	service, err := ocr.New(ctx, "documentai", ocr.Options{
		ProjectID:   "my-project",
		Location:    "eu",
		ProcessorID: "abc123",
	})
	if err != nil {
		log.Fatalf("Failed to create OCR service: %v", err)
	}
	defer service.Close()

	img := image.NewGray(image.Rect(0, 0, 850, 1100))
	result, err := service.ExtractTextWithMetadata(ctx, img)
	if err != nil {
		log.Fatalf("Failed to extract text: %v", err)
	}

	fmt.Printf("Confidence: %.2f\n", result.Confidence)
	fmt.Printf("Languages: %v\n", result.LanguageCodes)
	fmt.Printf("Took: %v\n", result.ProcessingDuration)
}
