// Package pipeline ingests documents: text extraction, packaging, upload and indexing,
// and rebuilds the search index from the documents in remote storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"kartka/internal/logger"
	"kartka/internal/packager"
	"kartka/internal/recordid"
	"kartka/pkg/models"
	"kartka/pkg/services"
)

// DocumentMimeType is the content type of uploaded documents.
const DocumentMimeType = "application/pdf"

// Pipeline holds the collaborators of one ingestion run.
type Pipeline struct {
	Extractor  services.TextExtractor
	Store      services.RemoteStore
	Index      services.SearchIndex
	Packager   services.Packager
	Rasterizer services.Rasterizer

	FolderID   string // remote root folder
	Collection string
	Bucket     string

	Workers        int // pages extracted at once, default 4
	HydrateWorkers int // documents rehydrated at once, default 1

	Now      func() time.Time
	Observer Observer
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) emit(ev Event) {
	if p.Observer != nil {
		p.Observer(ev)
	}
}

// Ingest fills in whatever doc is missing, in order: transcript, remote copy, creation
// time, then pushes every transcript line to the index. Fields already set are reused, so
// calling Ingest again after a failure resumes where the last call stopped.
func (p *Pipeline) Ingest(ctx context.Context, doc *models.Document) error {
	log := logger.WithDocument("pipeline", doc.Name)

	if doc.Ready() {
		log.Debug().Str("remote_id", doc.RemoteID).Msg("Transcript and remote copy present, indexing only")
		return p.index(ctx, doc)
	}

	var converted []image.Image
	if !doc.HasTranscript() {
		transcript, conv, err := p.extract(ctx, doc)
		if err != nil {
			return &StepError{Op: StepExtract, Kind: ErrExtraction, Document: doc.Name, Err: err}
		}
		doc.Transcript = transcript
		converted = conv
		log.Debug().Int("pages", len(doc.Pages)).Int("chars", len(transcript)).Msg("Transcript extracted")
	}

	if !doc.IsUploaded() {
		if converted == nil {
			var err error
			if converted, err = convertPages(doc); err != nil {
				return &StepError{Op: StepPackage, Kind: ErrPackaging, Document: doc.Name, Err: err}
			}
		}

		data, err := p.Packager.Package(ctx, converted)
		if err != nil {
			return &StepError{Op: StepPackage, Kind: ErrPackaging, Document: doc.Name, Err: err}
		}

		id, err := p.Store.Upload(ctx, p.FolderID, doc.Name, data, DocumentMimeType)
		if err != nil {
			return &StepError{Op: StepUpload, Kind: ErrUpload, Document: doc.Name, Err: err}
		}
		doc.RemoteID = id
		p.emit(Event{Kind: EventUploaded, Document: doc.Name, RemoteID: id})
	}

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = p.now()
	}

	return p.index(ctx, doc)
}

// extract runs text extraction over the pages with a bounded number of workers. Each
// page writes its own slot, so the transcript keeps page order whatever the completion
// order. Unless doc is already uploaded, the RGB copies needed for packaging are returned.
func (p *Pipeline) extract(ctx context.Context, doc *models.Document) (string, []image.Image, error) {
	texts := make([]string, len(doc.Pages))
	var converted []image.Image
	if !doc.IsUploaded() {
		converted = make([]image.Image, len(doc.Pages))
	}

	workers := p.Workers
	if workers < 1 {
		workers = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, page := range doc.Pages {
		g.Go(func() error {
			img, err := page.Load()
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}

			text, err := p.Extractor.ExtractText(gctx, img)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			texts[i] = text

			if converted != nil {
				converted[i] = packager.ToRGB(img)
			}
			// Drop the decoded buffer unless packaging may still need to reload it.
			if page.Path != "" || converted == nil {
				page.Release()
			}

			p.emit(Event{Kind: EventPageExtracted, Document: doc.Name, Page: i + 1, Pages: len(doc.Pages)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	for _, text := range texts {
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), converted, nil
}

// convertPages reloads and converts every page when extraction ran in an earlier call.
func convertPages(doc *models.Document) ([]image.Image, error) {
	converted := make([]image.Image, 0, len(doc.Pages))
	for i, page := range doc.Pages {
		img, err := page.Load()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		converted = append(converted, packager.ToRGB(img))
		if page.Path != "" {
			page.Release()
		}
	}
	return converted, nil
}

// index pushes every non-blank transcript line under the document's record identifier.
// A failed line does not stop the others; nothing pushed is taken back.
func (p *Pipeline) index(ctx context.Context, doc *models.Document) error {
	id := recordid.Encode(doc.CreatedAt, doc.RemoteID)
	lines := doc.Lines()

	var errs []error
	pushed := 0
	for _, line := range lines {
		if err := p.Index.Push(ctx, p.Collection, p.Bucket, id, line); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		pushed++
	}

	if len(errs) > 0 {
		return &StepError{
			Op:       StepIndex,
			Kind:     ErrIndexPush,
			Document: doc.Name,
			Err:      fmt.Errorf("%d of %d lines not pushed: %w", len(lines)-pushed, len(lines), errors.Join(errs...)),
		}
	}

	p.emit(Event{Kind: EventIndexed, Document: doc.Name, RemoteID: doc.RemoteID, Lines: pushed})
	return nil
}
