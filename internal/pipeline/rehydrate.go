package pipeline

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"kartka/internal/logger"
	"kartka/pkg/models"
)

// Failure is one document that could not be rehydrated.
type Failure struct {
	Entry models.RemoteEntry
	Err   error
}

// Report summarizes a rehydration.
type Report struct {
	Listed    int
	Processed int
	Failures  []Failure
}

// RehydrateAll replays every document in the remote root folder through Ingest, so only
// extraction and indexing run. A failing document is recorded in the report and the
// others carry on; only a listing failure stops the walk, returning ErrRemoteList along
// with what was done so far.
func (p *Pipeline) RehydrateAll(ctx context.Context) (Report, error) {
	log := logger.WithComponent("rehydrate")

	workers := p.HydrateWorkers
	if workers < 1 {
		workers = 1
	}

	var (
		mu       sync.Mutex
		report   Report
		failures = make(map[int]Failure)
		g        errgroup.Group
	)
	g.SetLimit(workers)

	var listErr error
	position := 0
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			listErr = err
			break
		}

		entries, next, err := p.Store.ListPage(ctx, p.FolderID, token)
		if err != nil {
			listErr = &StepError{Op: StepList, Kind: ErrRemoteList, Err: err}
			break
		}
		p.emit(Event{Kind: EventListed, Count: len(entries)})

		for _, entry := range entries {
			pos := position
			position++

			g.Go(func() error {
				err := p.RehydrateOne(ctx, entry)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures[pos] = Failure{Entry: entry, Err: err}
					log.Warn().Err(err).Str("document", entry.Name).Str("remote_id", entry.ID).Msg("Rehydration failed")
					p.emit(Event{Kind: EventDocumentFailed, Document: entry.Name, RemoteID: entry.ID, Err: err})
					return nil
				}
				report.Processed++
				p.emit(Event{Kind: EventDocumentDone, Document: entry.Name, RemoteID: entry.ID})
				return nil
			})
		}

		if next == "" {
			break
		}
		token = next
	}
	g.Wait()

	report.Listed = position
	positions := make([]int, 0, len(failures))
	for pos := range failures {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	for _, pos := range positions {
		report.Failures = append(report.Failures, failures[pos])
	}

	log.Info().
		Int("listed", report.Listed).
		Int("processed", report.Processed).
		Int("failed", len(report.Failures)).
		Msg("Rehydration finished")

	return report, listErr
}

// RehydrateOne downloads one remote document and indexes its text again.
func (p *Pipeline) RehydrateOne(ctx context.Context, entry models.RemoteEntry) error {
	data, err := p.Store.Download(ctx, entry.ID)
	if err != nil {
		return &StepError{Op: StepDownload, Kind: ErrDownload, Document: entry.Name, Err: err}
	}

	images, err := p.Rasterizer.Rasterize(ctx, data)
	if err != nil {
		return &StepError{Op: StepDecode, Kind: ErrDecode, Document: entry.Name, Err: err}
	}

	pages := make([]*models.Page, len(images))
	for i, img := range images {
		pages[i] = models.NewImagePage(img)
	}

	return p.Ingest(ctx, &models.Document{
		Pages:     pages,
		Name:      entry.Name,
		RemoteID:  entry.ID,
		CreatedAt: entry.CreatedTime,
	})
}
