package services

import (
	"context"
	"image"

	"kartka/pkg/models"
)

// TextExtractor turns one page image into text.
type TextExtractor interface {
	ExtractText(ctx context.Context, img image.Image) (string, error)
}

// RemoteStore is the remote copy of every ingested document.
type RemoteStore interface {
	// FindOrCreateRoot returns the id of the named root folder, creating it if needed.
	FindOrCreateRoot(ctx context.Context, name string) (string, error)

	// Upload stores data as name inside folderID and returns the new object id.
	Upload(ctx context.Context, folderID, name string, data []byte, mimeType string) (string, error)

	// ListPage returns one page of the folder listing. An empty next token ends the listing.
	ListPage(ctx context.Context, folderID, pageToken string) ([]models.RemoteEntry, string, error)

	// Download returns the content of an object.
	Download(ctx context.Context, id string) ([]byte, error)

	// Ping checks that the store is reachable with the configured credentials.
	Ping(ctx context.Context) error
}

// SearchIndex stores transcript lines under record identifiers.
type SearchIndex interface {
	Push(ctx context.Context, collection, bucket, id, line string) error
	Query(ctx context.Context, collection, bucket, text string) ([]string, error)
	Suggest(ctx context.Context, collection, bucket, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Packager combines page images, in order, into one document file.
type Packager interface {
	Package(ctx context.Context, images []image.Image) ([]byte, error)
}

// Rasterizer turns a stored document file back into page images, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte) ([]image.Image, error)
}
