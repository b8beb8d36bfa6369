// Package packager combines page images into one PDF and turns stored PDFs back into
// page images.
package packager

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"kartka/internal/logger"
)

// ErrEmptyInput is returned when there is nothing to package.
var ErrEmptyInput = errors.New("no pages to package")

// PDF writes one page per image, each page sized to its image.
type PDF struct {
	TempDir string // parent for the scratch directory; empty uses os.TempDir
	log     zerolog.Logger
}

// NewPDF creates a packager.
func NewPDF(tempDir string) *PDF {
	return &PDF{
		TempDir: tempDir,
		log:     logger.WithComponent("packager"),
	}
}

// Package returns the PDF bytes for images, page N holding image N.
func (p *PDF) Package(ctx context.Context, images []image.Image) ([]byte, error) {
	const op = "packager.Package"

	if len(images) == 0 {
		return nil, ErrEmptyInput
	}

	workDir, err := os.MkdirTemp(p.TempDir, "kartka-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create temp dir: %w", op, err)
	}
	defer os.RemoveAll(workDir)

	paths := make([]string, 0, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if img == nil {
			return nil, fmt.Errorf("%s: page %d has no image", op, i+1)
		}
		path := filepath.Join(workDir, fmt.Sprintf("page-%04d.png", i+1))
		if err := writePNG(path, ToRGB(img)); err != nil {
			return nil, fmt.Errorf("%s: page %d: %w", op, i+1, err)
		}
		paths = append(paths, path)
	}

	out := filepath.Join(workDir, "document.pdf")
	conf := model.NewDefaultConfiguration()
	if err := api.ImportImagesFile(paths, out, pdfcpu.DefaultImportConfig(), conf); err != nil {
		return nil, fmt.Errorf("%s: failed to combine pages: %w", op, err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read result: %w", op, err)
	}

	p.log.Debug().Int("pages", len(images)).Int("bytes", len(data)).Msg("PDF packaged")
	return data, nil
}

// ToRGB returns img as an opaque RGBA image. Transparent areas end up white, the
// colour of paper.
func ToRGB(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Opaque() {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
