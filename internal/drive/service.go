// Package drive stores documents in a Google Drive folder.
package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"kartka/internal/logger"
	"kartka/internal/retry"
	"kartka/pkg/models"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Options configures the Drive client.
type Options struct {
	CredentialsFile   string
	TokenPath         string
	RequestsPerSecond float64
	Retry             retry.Policy

	// Set by tests to talk to a local server.
	HTTPClient *http.Client
	Endpoint   string
}

// Service handles Google Drive operations
type Service struct {
	files   *drive.Service
	limiter *rate.Limiter
	policy  retry.Policy
	log     zerolog.Logger
}

// NewDriveService creates a Drive client.
func NewDriveService(ctx context.Context, opts Options) (*Service, error) {
	const op = "NewDriveService"

	client := opts.HTTPClient
	if client == nil {
		var err error
		client, err = NewHTTPClient(ctx, opts.CredentialsFile, opts.TokenPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	clientOptions := []option.ClientOption{option.WithHTTPClient(client)}
	if opts.Endpoint != "" {
		clientOptions = append(clientOptions, option.WithEndpoint(opts.Endpoint))
	}

	files, err := drive.NewService(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create drive service: %w", op, err)
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	policy := opts.Retry
	if policy.Attempts == 0 {
		policy = retry.DefaultPolicy()
	}

	return &Service{
		files:   files,
		limiter: rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		policy:  policy,
		log:     logger.WithComponent("drive"),
	}, nil
}

// call paces and retries fn.
func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return retry.Permanent(err)
		}
		s.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("Drive call failed, retrying")
		return err
	})
	if err != nil {
		return wrapError(op, err)
	}
	return nil
}

// FindOrCreateRoot returns the id of the folder called name, creating it when absent.
func (s *Service) FindOrCreateRoot(ctx context.Context, name string) (string, error) {
	const op = "FindOrCreateRoot"

	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(name), folderMimeType)

	var found *drive.FileList
	err := s.call(ctx, op, func(ctx context.Context) error {
		var err error
		found, err = s.files.Files.List().
			Q(q).
			Spaces("drive").
			Fields("files(id, name)").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return "", err
	}
	if len(found.Files) > 0 {
		s.log.Debug().Str("folder", name).Str("id", found.Files[0].Id).Msg("Found root folder")
		return found.Files[0].Id, nil
	}

	s.log.Info().Str("folder", name).Msg("No root folder found, creating it")

	var created *drive.File
	err = s.call(ctx, op, func(ctx context.Context) error {
		var err error
		created, err = s.files.Files.Create(&drive.File{Name: name, MimeType: folderMimeType}).
			Fields("id").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// Upload stores data as name inside folderID and returns the new file id.
//
// Create is not idempotent: a request can fail after Drive stored the file. Before each
// retry the folder is searched for a file with the same name and size, and its id is
// returned instead of uploading a second copy.
func (s *Service) Upload(ctx context.Context, folderID, name string, data []byte, mimeType string) (string, error) {
	const op = "Upload"

	var id string
	attempt := 0
	err := s.call(ctx, op, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			existing, err := s.findUpload(ctx, folderID, name, int64(len(data)))
			if err != nil {
				return err
			}
			if existing != "" {
				s.log.Warn().Str("name", name).Str("id", existing).Msg("Failed upload was stored, reusing it")
				id = existing
				return nil
			}
		}

		created, err := s.files.Files.Create(&drive.File{Name: name, Parents: []string{folderID}}).
			Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
			Fields("id").
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		id = created.Id
		return nil
	})
	if err != nil {
		return "", err
	}

	s.log.Info().Str("name", name).Str("id", id).Int("bytes", len(data)).Msg("Uploaded document")
	return id, nil
}

// findUpload returns the id of a file called name of the given size in folderID, or "".
func (s *Service) findUpload(ctx context.Context, folderID, name string, size int64) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(name), escapeQuery(folderID))
	found, err := s.files.Files.List().
		Q(q).
		Spaces("drive").
		Fields("files(id, size)").
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	for _, f := range found.Files {
		if f.Size == size {
			return f.Id, nil
		}
	}
	return "", nil
}

// ListPage returns one page of the files in folderID and the token of the next page,
// empty on the last one.
func (s *Service) ListPage(ctx context.Context, folderID, pageToken string) ([]models.RemoteEntry, string, error) {
	const op = "ListPage"

	var list *drive.FileList
	err := s.call(ctx, op, func(ctx context.Context) error {
		call := s.files.Files.List().
			Q(fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))).
			Spaces("drive").
			Fields("nextPageToken, files(id, name, createdTime)").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var err error
		list, err = call.Do()
		return err
	})
	if err != nil {
		return nil, "", err
	}

	entries := make([]models.RemoteEntry, 0, len(list.Files))
	for _, f := range list.Files {
		entry := models.RemoteEntry{ID: f.Id, Name: f.Name}
		if f.CreatedTime != "" {
			if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
				entry.CreatedTime = t
			}
		}
		entries = append(entries, entry)
	}
	return entries, list.NextPageToken, nil
}

// Download returns the content of file id.
func (s *Service) Download(ctx context.Context, id string) ([]byte, error) {
	const op = "Download"

	var data []byte
	err := s.call(ctx, op, func(ctx context.Context) error {
		resp, err := s.files.Files.Get(id).Context(ctx).Download()
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().Str("id", id).Int("bytes", len(data)).Msg("Downloaded document")
	return data, nil
}

// Ping checks that the credentials are accepted.
func (s *Service) Ping(ctx context.Context) error {
	return s.call(ctx, "Ping", func(ctx context.Context) error {
		_, err := s.files.About.Get().Fields("user").Context(ctx).Do()
		return err
	})
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
