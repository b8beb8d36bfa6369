package cmd

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kartka/internal/journal"
	"kartka/internal/pipeline"
	"kartka/internal/recordid"
	"kartka/pkg/models"
)

var created = time.Date(2023, 3, 1, 9, 0, 0, 0, time.UTC)

type stubExtractor struct{ text string }

func (s stubExtractor) ExtractText(context.Context, image.Image) (string, error) { return s.text, nil }

type memStore struct {
	mu        sync.Mutex
	uploads   int
	downloads map[string][]byte
}

func (m *memStore) FindOrCreateRoot(context.Context, string) (string, error) { return "root", nil }

func (m *memStore) Upload(context.Context, string, string, []byte, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	return "uploaded-1", nil
}

func (m *memStore) ListPage(context.Context, string, string) ([]models.RemoteEntry, string, error) {
	return nil, "", nil
}

func (m *memStore) Download(_ context.Context, id string) ([]byte, error) {
	data, ok := m.downloads[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

type memIndex struct {
	mu     sync.Mutex
	down   bool
	pushes map[string][]string
}

func (m *memIndex) Push(_ context.Context, _, _, id, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("index down")
	}
	if m.pushes == nil {
		m.pushes = map[string][]string{}
	}
	m.pushes[id] = append(m.pushes[id], line)
	return nil
}

func (m *memIndex) Query(context.Context, string, string, string) ([]string, error)   { return nil, nil }
func (m *memIndex) Suggest(context.Context, string, string, string) ([]string, error) { return nil, nil }
func (m *memIndex) Ping(context.Context) error                                       { return nil }
func (m *memIndex) Close() error                                                     { return nil }

type stubPackager struct{}

func (stubPackager) Package(context.Context, []image.Image) ([]byte, error) {
	return []byte("%PDF-1.7"), nil
}

type stubRasterizer struct{}

func (stubRasterizer) Rasterize(context.Context, []byte) ([]image.Image, error) {
	return []image.Image{image.NewGray(image.Rect(0, 0, 4, 4))}, nil
}

func newRetryFixture(t *testing.T) (*pipeline.Pipeline, *journal.Journal, *memStore, *memIndex) {
	t.Helper()
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	store := &memStore{downloads: map[string][]byte{}}
	idx := &memIndex{}
	p := &pipeline.Pipeline{
		Extractor:  stubExtractor{text: "Hello"},
		Store:      store,
		Index:      idx,
		Packager:   stubPackager{},
		Rasterizer: stubRasterizer{},
		FolderID:   "root",
		Collection: "kartka",
		Bucket:     "letters",
		Workers:    2,
		Now:        func() time.Time { return created },
	}
	return p, j, store, idx
}

func writePage(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 8, 8))))
}

func TestRetryEntriesRecoversBothOrigins(t *testing.T) {
	p, j, store, idx := newRetryFixture(t)

	// Uploaded but not indexed.
	doc := &models.Document{
		Name:       "2023-03-01-0900.pdf",
		Pages:      []*models.Page{models.NewFilePage("/scans/gone.png")},
		Transcript: "Dear Sir\n",
		RemoteID:   "remote-1",
		CreatedAt:  created,
	}
	require.NoError(t, j.Save(journal.FromDocument(journal.OriginIngest, doc, pipeline.StepIndex, errors.New("index down"))))

	remote := models.RemoteEntry{ID: "remote-2", Name: "2023-02-01-0800.pdf", CreatedTime: created}
	store.downloads["remote-2"] = []byte("%PDF-1.7")
	require.NoError(t, j.Record(journal.FromRemote(remote, pipeline.StepDownload, errors.New("timeout"))))

	entries, err := j.List()
	require.NoError(t, err)

	failed := retryEntries(context.Background(), p, j, entries, zerolog.Nop())
	assert.Zero(t, failed)
	assert.Zero(t, store.uploads, "nothing is uploaded again")

	assert.Equal(t, []string{"Dear Sir"}, idx.pushes[recordid.Encode(created, "remote-1")])
	assert.Equal(t, []string{"Hello"}, idx.pushes[recordid.Encode(created, "remote-2")])

	left, err := j.List()
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRetryEntriesSavesProgressOfFailures(t *testing.T) {
	p, j, store, idx := newRetryFixture(t)
	page := filepath.Join(t.TempDir(), "page-1.png")
	writePage(t, page)

	doc := models.NewDocument(created, []*models.Page{models.NewFilePage(page)})
	entry := journal.FromDocument(journal.OriginIngest, doc, pipeline.StepExtract, errors.New("vision down"))
	require.NoError(t, j.Save(entry))

	idx.down = true
	entries, err := j.List()
	require.NoError(t, err)
	assert.Equal(t, 1, retryEntries(context.Background(), p, j, entries, zerolog.Nop()))

	saved, err := j.Get(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepIndex, saved.Step)
	assert.Equal(t, 1, saved.Attempts)
	assert.Equal(t, "uploaded-1", saved.RemoteID)
	assert.Equal(t, "Hello\n", saved.Transcript)
	assert.Contains(t, saved.Error, "index down")

	idx.down = false
	entries, err = j.List()
	require.NoError(t, err)
	assert.Zero(t, retryEntries(context.Background(), p, j, entries, zerolog.Nop()))
	assert.Equal(t, 1, store.uploads, "the stored copy is reused")
	assert.Equal(t, []string{"Hello"}, idx.pushes[recordid.Encode(created, "uploaded-1")])

	_, err = j.Get(entry.ID)
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestPendingEntriesByID(t *testing.T) {
	_, j, _, _ := newRetryFixture(t)

	a := journal.FromRemote(models.RemoteEntry{ID: "r1"}, pipeline.StepDownload, errors.New("x"))
	b := journal.FromRemote(models.RemoteEntry{ID: "r2"}, pipeline.StepDownload, errors.New("x"))
	require.NoError(t, j.Save(a))
	require.NoError(t, j.Save(b))

	all, err := pendingEntries(j, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := pendingEntries(j, []string{b.ID})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "r2", one[0].RemoteID)

	_, err = pendingEntries(j, []string{"unknown"})
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestIngestFilesJournalsAbsolutePaths(t *testing.T) {
	p, j, _, idx := newRetryFixture(t)
	idx.down = true

	dir := t.TempDir()
	writePage(t, filepath.Join(dir, "page-1.png"))
	t.Chdir(dir)

	a := &app{pipeline: p, journal: j, log: zerolog.Nop()}
	_, err := ingestFiles(context.Background(), a, []string{"page-1.png"}, zerolog.Nop())
	require.Error(t, err)

	entries, err := j.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].PagePaths, 1)

	path := entries[0].PagePaths[0]
	assert.True(t, filepath.IsAbs(path), path)
	assert.Equal(t, "page-1.png", filepath.Base(path))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
