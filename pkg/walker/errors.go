package walker

import "fmt"

// WarningKind classifies non-fatal walk problems.
type WarningKind uint8

const (
	ArchiveRead WarningKind = iota + 1
	Unreadable
	SymlinkLoop
	TooLarge
)

func (k WarningKind) String() string {
	switch k {
	case ArchiveRead:
		return "archive read failure"
	case Unreadable:
		return "unreadable"
	case SymlinkLoop:
		return "symlink loop"
	case TooLarge:
		return "too large"
	default:
		return "warning"
	}
}

// Warning is a per-file problem. The walk continues after it.
type Warning struct {
	Path string
	Kind WarningKind
	Err  error
}

func (w *Warning) Error() string {
	if w.Err == nil {
		return fmt.Sprintf("%s: %s", w.Kind, w.Path)
	}
	return fmt.Sprintf("%s: %s: %v", w.Kind, w.Path, w.Err)
}

func (w *Warning) Unwrap() error { return w.Err }

// RootError means the root itself could not be walked.
type RootError struct {
	Path string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("cannot read root %s: %v", e.Path, e.Err)
}

func (e *RootError) Unwrap() error { return e.Err }
