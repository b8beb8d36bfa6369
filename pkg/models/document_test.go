package models

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocumentName(t *testing.T) {
	doc := NewDocument(time.Date(2024, time.February, 3, 8, 5, 0, 0, time.UTC), nil)
	assert.Equal(t, "2024-02-03-0805.pdf", doc.Name)
	assert.False(t, doc.Ready())
}

func TestLinesDropsBlankLines(t *testing.T) {
	doc := &Document{Transcript: "Hello\n\n   \n\tWorld  \r\n\n"}
	assert.Equal(t, []string{"Hello", "\tWorld  "}, doc.Lines())
}

func TestReady(t *testing.T) {
	doc := &Document{Transcript: "x\n", RemoteID: "id"}
	assert.False(t, doc.Ready())
	doc.CreatedAt = time.Now()
	assert.True(t, doc.Ready())
}

func TestFilePageLoadAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.png")
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.White)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	page := NewFilePage(path)
	loaded, err := page.Load()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), loaded.Bounds())

	page.Release()
	assert.Nil(t, page.Image)

	again, err := page.Load()
	require.NoError(t, err)
	assert.Equal(t, loaded.Bounds(), again.Bounds())
}

func TestLoadWithoutSource(t *testing.T) {
	_, err := (&Page{}).Load()
	assert.Error(t, err)
}
