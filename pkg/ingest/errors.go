package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/duynguyendang/fiscalxml/pkg/extract"
	"github.com/duynguyendang/fiscalxml/pkg/walker"
)

// ErrorKind classifies what went wrong with a file or a run.
type ErrorKind uint8

const (
	DetectionFailure ErrorKind = iota + 1
	MissingField
	MalformedStructure
	ArchiveRead
	Unreadable
	SymlinkLoop
	TooLarge
	StoreWriteFailure
	RunAborted
)

var errorKindNames = map[ErrorKind]string{
	DetectionFailure:   "DetectionFailure",
	MissingField:       "MissingField",
	MalformedStructure: "MalformedStructure",
	ArchiveRead:        "ArchiveReadError",
	Unreadable:         "Unreadable",
	SymlinkLoop:        "SymlinkLoop",
	TooLarge:           "TooLarge",
	StoreWriteFailure:  "StoreWriteFailure",
	RunAborted:         "RunAborted",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ErrorKind) UnmarshalText(b []byte) error {
	for kind, name := range errorKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", b)
}

// Fatal reports whether the kind ends a run.
func (k ErrorKind) Fatal() bool {
	return k == StoreWriteFailure || k == RunAborted
}

// FileError is one entry of a run's error list.
type FileError struct {
	SourcePath string    `json:"sourcePath"`
	Kind       ErrorKind `json:"errorKind"`
	Message    string    `json:"message"`
}

func (e FileError) Error() string {
	if e.SourcePath == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.SourcePath, e.Kind, e.Message)
}

// RunError is returned by Run when the run could not complete.
type RunError struct {
	Kind ErrorKind
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("ingest run failed (%s): %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// ErrRunInProgress is returned when Run is called on a busy pipeline.
var ErrRunInProgress = errors.New("an import run is already in progress")

// classify maps a per-file failure to its kind.
func classify(err error) ErrorKind {
	var warn *walker.Warning
	if errors.As(err, &warn) {
		switch warn.Kind {
		case walker.ArchiveRead:
			return ArchiveRead
		case walker.SymlinkLoop:
			return SymlinkLoop
		case walker.TooLarge:
			return TooLarge
		default:
			return Unreadable
		}
	}

	var exErr *extract.ExtractionError
	if errors.As(err, &exErr) {
		if exErr.Kind == extract.MissingField {
			return MissingField
		}
		return MalformedStructure
	}
	if errors.Is(err, extract.ErrUnrecognized) {
		return DetectionFailure
	}
	return MalformedStructure
}

func fileError(path string, err error) FileError {
	var warn *walker.Warning
	if errors.As(err, &warn) && path == "" {
		path = warn.Path
	}
	return FileError{SourcePath: path, Kind: classify(err), Message: err.Error()}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
