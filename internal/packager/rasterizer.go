package packager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// ErrMissingPageImage is returned when a page has no embedded image to rebuild it from.
var ErrMissingPageImage = errors.New("page has no embedded image")

// DefaultDPI is the resolution pages are rendered at for re-extraction.
const DefaultDPI = 100

const pointsPerInch = 72.0

// Rasterizer turns a stored PDF back into grayscale page images.
//
// Scanned documents are one image per page, so the page image is the embedded image,
// scaled down to DPI when it is larger than the page at that resolution.
type Rasterizer struct {
	DPI float64
}

type pageImage struct {
	page int
	img  image.Image
}

// Rasterize returns one grayscale image per page, in page order. A page without an
// embedded image fails the whole document with ErrMissingPageImage.
func (r Rasterizer) Rasterize(ctx context.Context, data []byte) ([]image.Image, error) {
	const op = "packager.Rasterize"

	dpi := r.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	dims, err := api.PageDims(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read page sizes: %w", op, err)
	}

	// Keep the largest image of each page; smaller ones are logos or stamps.
	byPage := make(map[int]image.Image)
	digest := func(mi model.Image, _ bool, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, _, err := image.Decode(mi)
		if err != nil {
			return fmt.Errorf("page %d: cannot decode %s image: %w", mi.PageNr, mi.FileType, err)
		}
		if prev, ok := byPage[mi.PageNr]; ok && area(prev) >= area(img) {
			return nil
		}
		byPage[mi.PageNr] = img
		return nil
	}

	if err := api.ExtractImages(bytes.NewReader(data), nil, digest, conf); err != nil {
		return nil, fmt.Errorf("%s: failed to extract page images: %w", op, err)
	}

	var missing []string
	for nr := 1; nr <= len(dims); nr++ {
		if _, ok := byPage[nr]; !ok {
			missing = append(missing, strconv.Itoa(nr))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w: pages %s of %d", op, ErrMissingPageImage, strings.Join(missing, ","), len(dims))
	}

	pages := make([]pageImage, 0, len(byPage))
	for nr, img := range byPage {
		pages = append(pages, pageImage{page: nr, img: img})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].page < pages[j].page })

	out := make([]image.Image, 0, len(pages))
	for _, p := range pages {
		maxW, maxH := 0, 0
		if p.page-1 < len(dims) {
			maxW = int(math.Round(dims[p.page-1].Width / pointsPerInch * dpi))
			maxH = int(math.Round(dims[p.page-1].Height / pointsPerInch * dpi))
		}
		out = append(out, toGray(p.img, maxW, maxH))
	}
	return out, nil
}

// toGray converts img to grayscale, shrinking it to fit maxW x maxH when both are set.
func toGray(img image.Image, maxW, maxH int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxW > 0 && maxH > 0 && (w > maxW || h > maxH) {
		scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
		w = max(1, int(float64(w)*scale))
		h = max(1, int(float64(h)*scale))
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
		return dst
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

func area(img image.Image) int {
	return img.Bounds().Dx() * img.Bounds().Dy()
}
