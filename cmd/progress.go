package cmd

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"kartka/internal/pipeline"
)

// logObserver reports ingestion progress through the logger.
func logObserver(log zerolog.Logger) pipeline.Observer {
	return func(ev pipeline.Event) {
		switch ev.Kind {
		case pipeline.EventPageExtracted:
			log.Info().Str("document", ev.Document).Msgf("Page %d/%d transcribed", ev.Page, ev.Pages)
		case pipeline.EventUploaded:
			log.Info().Str("document", ev.Document).Str("remote_id", ev.RemoteID).Msg("Uploaded to Drive")
		case pipeline.EventIndexed:
			log.Info().Str("document", ev.Document).Int("lines", ev.Lines).Msg("Indexed")
		}
	}
}

// hydrateProgress renders rehydration as a progress bar that grows as the listing
// reveals more documents.
type hydrateProgress struct {
	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	listed int
	log    zerolog.Logger
}

func newHydrateProgress(log zerolog.Logger) *hydrateProgress {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Rehydrating"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &hydrateProgress{bar: bar, log: log}
}

func (h *hydrateProgress) observe(ev pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Kind {
	case pipeline.EventListed:
		h.listed += ev.Count
		h.bar.ChangeMax(h.listed)
	case pipeline.EventDocumentDone:
		h.bar.Describe(ev.Document)
		_ = h.bar.Add(1)
	case pipeline.EventDocumentFailed:
		h.log.Debug().Err(ev.Err).Str("document", ev.Document).Msg("Document failed")
		_ = h.bar.Add(1)
	}
}

func (h *hydrateProgress) finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.bar.Finish()
}
