package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kartka/pkg/models"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSaveListDelete(t *testing.T) {
	j := openTest(t)

	doc := models.NewDocument(time.Date(2023, 6, 1, 14, 30, 0, 0, time.UTC), []*models.Page{
		models.NewFilePage("/scans/a.png"),
		models.NewFilePage("/scans/b.png"),
	})
	doc.Transcript = "Hello\n"

	first := FromDocument(OriginIngest, doc, "upload", errors.New("drive unavailable"))
	require.NoError(t, j.Save(first))
	require.NotEmpty(t, first.ID)

	second := FromRemote(models.RemoteEntry{ID: "remote-7", Name: "old.pdf"}, "download", errors.New("timeout"))
	require.NoError(t, j.Save(second))

	entries, err := j.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID, "oldest first")
	assert.Equal(t, OriginIngest, entries[0].Origin)
	assert.Equal(t, []string{"/scans/a.png", "/scans/b.png"}, entries[0].PagePaths)
	assert.Equal(t, "Hello\n", entries[0].Transcript)
	assert.Equal(t, "upload", entries[0].Step)
	assert.Equal(t, "drive unavailable", entries[0].Error)
	assert.Equal(t, OriginHydrate, entries[1].Origin)

	require.NoError(t, j.Delete(first.ID))
	entries, err = j.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "remote-7", entries[0].RemoteID)
}

func TestUpdateKeepsIdentity(t *testing.T) {
	j := openTest(t)

	e := FromDocument(OriginIngest, models.NewDocument(time.Now(), nil), "extract", errors.New("boom"))
	require.NoError(t, j.Save(e))
	recorded := e.RecordedAt

	doc := e.Document()
	doc.Transcript = "text\n"
	doc.RemoteID = "remote-1"
	e.Update(doc, "index", errors.New("sonic down"))
	require.NoError(t, j.Save(e))

	got, err := j.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "index", got.Step)
	assert.Equal(t, "remote-1", got.RemoteID)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.RecordedAt.Equal(recorded))
}

func TestEntryRoundTripsDocument(t *testing.T) {
	created := time.Date(2023, 3, 1, 9, 0, 0, 0, time.UTC)
	e := &Entry{
		Name:       "2023-03-01-0900.pdf",
		PagePaths:  []string{"/scans/1.tif"},
		Transcript: "t\n",
		RemoteID:   "r1",
		CreatedAt:  created,
	}

	doc := e.Document()
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, "/scans/1.tif", doc.Pages[0].Path)
	assert.True(t, doc.Ready())

	remote := e.Remote()
	assert.Equal(t, models.RemoteEntry{ID: "r1", Name: "2023-03-01-0900.pdf", CreatedTime: created}, remote)
}

func TestMissingEntry(t *testing.T) {
	j := openTest(t)

	_, err := j.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, j.Delete("nope"), ErrNotFound)
}

func TestRecordKeepsOneEntryPerRemoteDocument(t *testing.T) {
	j := openTest(t)
	remote := models.RemoteEntry{ID: "remote-7", Name: "2023-03-01-0900.pdf"}

	first := FromRemote(remote, "download", errors.New("timeout"))
	require.NoError(t, j.Record(first))

	second := FromRemote(remote, "decode", errors.New("page has no embedded image"))
	require.NoError(t, j.Record(second))
	assert.Equal(t, first.ID, second.ID)

	other := FromRemote(models.RemoteEntry{ID: "remote-8"}, "download", errors.New("timeout"))
	require.NoError(t, j.Record(other))

	ingest := FromDocument(OriginIngest, models.NewDocument(time.Now(), nil), "upload", errors.New("boom"))
	require.NoError(t, j.Record(ingest))
	again := FromDocument(OriginIngest, models.NewDocument(time.Now(), nil), "upload", errors.New("boom"))
	require.NoError(t, j.Record(again))

	entries, err := j.List()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	got, err := j.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "decode", got.Step)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.RecordedAt.Equal(first.RecordedAt))
}
