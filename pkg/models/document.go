package models

import (
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	// Scanners commonly emit TIFF; BMP and WebP show up from phone apps.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DocumentNameLayout names freshly ingested documents after the ingestion minute.
const DocumentNameLayout = "2006-01-02-1504"

// DocumentExtension is appended to every generated document name.
const DocumentExtension = ".pdf"

// Page is one page image of a document. A page is either backed by an in-memory image
// or by a file that is decoded on first use.
type Page struct {
	Path  string      // Source file, empty for in-memory pages
	Image image.Image // Decoded image, nil until loaded or after Release
}

// NewImagePage wraps an already decoded image.
func NewImagePage(img image.Image) *Page {
	return &Page{Image: img}
}

// NewFilePage creates a page that decodes path lazily.
func NewFilePage(path string) *Page {
	return &Page{Path: path}
}

// Load returns the decoded image, decoding the backing file if necessary.
func (p *Page) Load() (image.Image, error) {
	if p.Image != nil {
		return p.Image, nil
	}
	if p.Path == "" {
		return nil, fmt.Errorf("page has neither an image nor a path")
	}

	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode page image %s: %w", p.Path, err)
	}
	p.Image = img
	return img, nil
}

// Release drops the decoded image so its buffer can be collected. File-backed pages
// can be loaded again.
func (p *Page) Release() {
	p.Image = nil
}

// Document is the unit of ingestion. Transcript, RemoteID and CreatedAt are filled in
// by the pipeline; a field that is already set is never derived again.
type Document struct {
	Pages      []*Page
	Name       string
	Transcript string
	RemoteID   string
	CreatedAt  time.Time
}

// NewDocument creates a document named after now.
func NewDocument(now time.Time, pages []*Page) *Document {
	return &Document{
		Pages: pages,
		Name:  now.Format(DocumentNameLayout) + DocumentExtension,
	}
}

// HasTranscript reports whether text extraction already ran.
func (d *Document) HasTranscript() bool { return d.Transcript != "" }

// IsUploaded reports whether the document already has a remote copy.
func (d *Document) IsUploaded() bool { return d.RemoteID != "" }

// Ready reports whether the document can be indexed without further work.
func (d *Document) Ready() bool {
	return d.HasTranscript() && d.IsUploaded() && !d.CreatedAt.IsZero()
}

// Lines returns the transcript lines worth indexing: blank and whitespace-only lines
// are dropped, the rest are returned unchanged.
func (d *Document) Lines() []string {
	var lines []string
	for _, line := range strings.Split(d.Transcript, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// PagePaths returns the backing file of every file-backed page, in page order.
func (d *Document) PagePaths() []string {
	var paths []string
	for _, p := range d.Pages {
		if p.Path != "" {
			paths = append(paths, p.Path)
		}
	}
	return paths
}
