package pipeline

// EventKind identifies a progress event.
type EventKind int

const (
	EventPageExtracted EventKind = iota
	EventUploaded
	EventIndexed
	EventListed
	EventDocumentDone
	EventDocumentFailed
)

func (k EventKind) String() string {
	switch k {
	case EventPageExtracted:
		return "page_extracted"
	case EventUploaded:
		return "uploaded"
	case EventIndexed:
		return "indexed"
	case EventListed:
		return "listed"
	case EventDocumentDone:
		return "document_done"
	case EventDocumentFailed:
		return "document_failed"
	default:
		return "unknown"
	}
}

// Event describes progress of an ingestion or rehydration.
type Event struct {
	Kind     EventKind
	Document string
	RemoteID string
	Page     int   // 1-based, EventPageExtracted
	Pages    int   // page count, EventPageExtracted
	Lines    int   // pushed lines, EventIndexed
	Count    int   // entries in the listed page, EventListed
	Err      error // EventDocumentFailed
}

// Observer receives progress events. It may be called from several goroutines at once.
type Observer func(Event)
