package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"kartka/internal/config"
	"kartka/internal/drive"
	"kartka/internal/journal"
	"kartka/internal/ocr"
	"kartka/internal/packager"
	"kartka/internal/pipeline"
	"kartka/internal/retrieval"
	"kartka/internal/search"
	"kartka/pkg/services"
)

// needs selects the collaborators a command builds.
type needs struct {
	ocr     bool
	store   bool
	index   bool
	journal bool
}

var pipelineNeeds = needs{ocr: true, store: true, index: true, journal: true}

// app holds the collaborators of one command run.
type app struct {
	cfg      *config.Config
	ocr      ocr.OCRService
	store    *drive.Service
	index    services.SearchIndex
	journal  *journal.Journal
	pipeline *pipeline.Pipeline
	log      zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, n needs, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	if n.journal {
		j, err := journal.Open(cfg.JournalPath())
		if err != nil {
			return nil, err
		}
		a.journal = j
	}

	if n.index {
		idx, err := search.New(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.index = idx
	}

	if n.store {
		store, err := newStore(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
	}

	if n.ocr {
		svc, err := createOCRService(ctx, cfg, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.ocr = svc
	}

	if n.ocr && n.store && n.index {
		folderID, err := a.store.FindOrCreateRoot(ctx, cfg.Store.RootFolder)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialise Drive folder %s: %w", cfg.Store.RootFolder, err)
		}
		log.Debug().Str("folder", cfg.Store.RootFolder).Str("id", folderID).Msg("Drive folder ready")

		a.pipeline = &pipeline.Pipeline{
			Extractor:      a.ocr,
			Store:          a.store,
			Index:          a.index,
			Packager:       packager.NewPDF(""),
			Rasterizer:     packager.Rasterizer{DPI: cfg.Hydrate.DPI},
			FolderID:       folderID,
			Collection:     cfg.Search.CollectionName,
			Bucket:         cfg.Search.BucketName,
			Workers:        cfg.OCR.Workers,
			HydrateWorkers: cfg.Hydrate.Workers,
		}
	}

	return a, nil
}

// newStore connects to the Drive API with the configured credentials.
func newStore(ctx context.Context, cfg *config.Config) (*drive.Service, error) {
	store, err := drive.NewDriveService(ctx, drive.Options{
		CredentialsFile:   cfg.Layout.Credentials,
		TokenPath:         cfg.TokenPath(),
		RequestsPerSecond: cfg.Store.RequestsPerSecond,
		Retry:             cfg.RetryPolicy(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Google Drive: %w", err)
	}
	return store, nil
}

func (a *app) formatter() retrieval.Formatter {
	return retrieval.Formatter{LinkHost: a.cfg.Store.LinkHost}
}

// Close releases every collaborator that was built.
func (a *app) Close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close search index")
		}
	}
	if a.ocr != nil {
		if err := a.ocr.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close OCR client")
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close journal")
		}
	}
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// createOCRService creates and configures the OCR service
func createOCRService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ocr.OCRService, error) {
	svc, err := ocr.New(ctx, cfg.OCR.Backend, ocr.Options{
		CredentialsFile: ocrCredentials(cfg),
		LanguageHints:   cfg.OCR.LanguageHints,
		ProjectID:       cfg.OCR.ProjectID,
		Location:        cfg.OCR.Location,
		ProcessorID:     cfg.OCR.ProcessorID,
	})
	if err != nil {
		if errors.Is(err, ocr.ErrMissingCredentials) {
			log.Error().Err(err).Msg("Google Cloud credentials validation failed")
			return nil, fmt.Errorf("Google Cloud credentials validation failed. Please verify:\n\n" +
				"1. layout.credentials points to a service account JSON file, or\n" +
				"2. GOOGLE_APPLICATION_CREDENTIALS is set, or\n" +
				"3. gcloud auth application-default login has been run\n\n" +
				"Original error: %w", err)
		}
		log.Error().Err(err).Msg("Failed to create OCR service")
		return nil, fmt.Errorf("failed to create OCR service: %w", err)
	}

	log.Debug().Str("backend", cfg.OCR.Backend).Msg("OCR service created successfully")
	return svc, nil
}

// ocrCredentials uses layout.credentials only when it is a service account key; an
// OAuth client file cannot authorize the Cloud APIs.
func ocrCredentials(cfg *config.Config) string {
	data, err := os.ReadFile(cfg.Layout.Credentials)
	if err != nil || !strings.Contains(string(data), `"service_account"`) {
		return ""
	}
	return cfg.Layout.Credentials
}

// describeFailure maps a pipeline error to a message naming the failed step.
func describeFailure(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("timed out, try increasing --timeout: %w", err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("canceled: %w", err)
	case errors.Is(err, pipeline.ErrExtraction):
		return fmt.Errorf("text extraction failed, check the OCR credentials and the page images: %w", err)
	case errors.Is(err, pipeline.ErrPackaging):
		return fmt.Errorf("could not build the PDF: %w", err)
	case errors.Is(err, pipeline.ErrUpload):
		return fmt.Errorf("upload to Google Drive failed, run 'kartka retry' later: %w", err)
	case errors.Is(err, pipeline.ErrIndexPush):
		return fmt.Errorf("document is stored in Drive but indexing failed, run 'kartka retry' later: %w", err)
	default:
		return err
	}
}
