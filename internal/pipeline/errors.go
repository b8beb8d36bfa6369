package pipeline

import (
	"errors"
	"fmt"
)

// Step failures. A *StepError matches its kind with errors.Is.
var (
	ErrExtraction = errors.New("text extraction failed")
	ErrPackaging  = errors.New("packaging failed")
	ErrUpload     = errors.New("upload failed")
	ErrIndexPush  = errors.New("index push failed")
	ErrRemoteList = errors.New("remote listing failed")
	ErrDownload   = errors.New("download failed")
	ErrDecode     = errors.New("decoding document failed")
)

// Step names, as recorded in StepError.Op.
const (
	StepExtract  = "extract"
	StepPackage  = "package"
	StepUpload   = "upload"
	StepIndex    = "index"
	StepList     = "list"
	StepDownload = "download"
	StepDecode   = "decode"
)

// StepError reports which step failed for which document.
type StepError struct {
	Op       string // one of the Step* names
	Kind     error  // one of the Err* sentinels
	Document string
	Err      error
}

func (e *StepError) Error() string {
	if e.Document == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Document, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *StepError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// FailedStep returns the step name carried by err, or "" when err is not a StepError.
func FailedStep(err error) string {
	var serr *StepError
	if errors.As(err, &serr) {
		return serr.Op
	}
	return ""
}
