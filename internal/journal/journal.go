// Package journal keeps documents whose ingestion failed so they can be retried.
package journal

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/timshannon/badgerhold/v4"

	"kartka/internal/logger"
	"kartka/pkg/models"
)

// Origin tells how a journaled document entered the pipeline.
type Origin string

const (
	OriginIngest  Origin = "ingest"
	OriginHydrate Origin = "hydrate"
)

// ErrNotFound is returned for an unknown entry id.
var ErrNotFound = errors.New("journal entry not found")

// Entry is the saved state of a failed document.
type Entry struct {
	ID         string
	Origin     Origin
	Name       string
	PagePaths  []string
	Transcript string
	RemoteID   string
	CreatedAt  time.Time // document creation time, zero until known
	Step       string    // step that failed last
	Error      string
	Attempts   int
	RecordedAt time.Time
	UpdatedAt  time.Time
}

// Journal is a badger store of entries.
type Journal struct {
	store *badgerhold.Store
	log   zerolog.Logger
}

// Open opens or creates the journal in dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", dir, err)
	}

	return &Journal{store: store, log: logger.WithComponent("journal")}, nil
}

// Save inserts or updates e. A new entry gets an id and a recording time.
func (j *Journal) Save(e *Entry) error {
	now := time.Now()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = now
	}
	e.UpdatedAt = now

	if err := j.store.Upsert(e.ID, e); err != nil {
		return fmt.Errorf("failed to save journal entry %s: %w", e.ID, err)
	}
	j.log.Debug().Str("id", e.ID).Str("document", e.Name).Str("step", e.Step).Msg("Journal entry saved")
	return nil
}

// Record saves a new failure. A hydrate failure of a remote document that is already
// journaled updates that entry instead of adding a second one.
func (j *Journal) Record(e *Entry) error {
	if e.ID == "" && e.Origin == OriginHydrate && e.RemoteID != "" {
		var prev Entry
		err := j.store.FindOne(&prev, badgerhold.Where("RemoteID").Eq(e.RemoteID).And("Origin").Eq(OriginHydrate))
		switch {
		case err == nil:
			e.ID = prev.ID
			e.RecordedAt = prev.RecordedAt
			e.Attempts = prev.Attempts + 1
		case !errors.Is(err, badgerhold.ErrNotFound):
			return fmt.Errorf("failed to look up journal entry for %s: %w", e.RemoteID, err)
		}
	}
	return j.Save(e)
}

// Get returns the entry with id.
func (j *Journal) Get(id string) (*Entry, error) {
	var e Entry
	if err := j.store.Get(id, &e); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &e, nil
}

// List returns every entry, oldest first.
func (j *Journal) List() ([]Entry, error) {
	var entries []Entry
	if err := j.store.Find(&entries, nil); err != nil {
		return nil, fmt.Errorf("failed to list journal: %w", err)
	}
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].RecordedAt.Before(entries[b].RecordedAt)
	})
	return entries, nil
}

// Delete removes the entry with id.
func (j *Journal) Delete(id string) error {
	if err := j.store.Delete(id, &Entry{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	return nil
}

// Close closes the store.
func (j *Journal) Close() error {
	if j.store != nil {
		return j.store.Close()
	}
	return nil
}

// FromDocument captures the state of doc after a failed step.
func FromDocument(origin Origin, doc *models.Document, step string, err error) *Entry {
	e := &Entry{
		Origin:     origin,
		Name:       doc.Name,
		PagePaths:  doc.PagePaths(),
		Transcript: doc.Transcript,
		RemoteID:   doc.RemoteID,
		CreatedAt:  doc.CreatedAt,
		Step:       step,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// FromRemote captures a remote document that failed to rehydrate.
func FromRemote(entry models.RemoteEntry, step string, err error) *Entry {
	e := &Entry{
		Origin:    OriginHydrate,
		Name:      entry.Name,
		RemoteID:  entry.ID,
		CreatedAt: entry.CreatedTime,
		Step:      step,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Document rebuilds the document of an ingest entry, keeping every field already derived.
func (e *Entry) Document() *models.Document {
	pages := make([]*models.Page, len(e.PagePaths))
	for i, path := range e.PagePaths {
		pages[i] = models.NewFilePage(path)
	}
	return &models.Document{
		Pages:      pages,
		Name:       e.Name,
		Transcript: e.Transcript,
		RemoteID:   e.RemoteID,
		CreatedAt:  e.CreatedAt,
	}
}

// Remote returns the remote entry of a hydrate entry.
func (e *Entry) Remote() models.RemoteEntry {
	return models.RemoteEntry{ID: e.RemoteID, Name: e.Name, CreatedTime: e.CreatedAt}
}

// Update records another failed attempt.
func (e *Entry) Update(doc *models.Document, step string, err error) {
	if doc != nil {
		e.Transcript = doc.Transcript
		e.RemoteID = doc.RemoteID
		e.CreatedAt = doc.CreatedAt
	}
	e.Step = step
	e.Attempts++
	if err != nil {
		e.Error = err.Error()
	}
}
