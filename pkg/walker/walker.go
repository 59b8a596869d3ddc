// Package walker enumerates fiscal XML payloads from a file, a directory
// tree, or compressed archives found inside them.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxFileSize bounds a single payload, on disk or inside an archive.
const DefaultMaxFileSize = 50 << 20

// DefaultArchiveDepth is how many archives deep the walker descends.
const DefaultArchiveDepth = 3

// Mode selects how the root path is interpreted.
type Mode uint8

const (
	SingleFile Mode = iota
	Directory
	Recursive
)

func (m Mode) String() string {
	switch m {
	case SingleFile:
		return "file"
	case Directory:
		return "dir"
	case Recursive:
		return "recursive"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode accepts file, dir or recursive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file", "single":
		return SingleFile, nil
	case "dir", "directory":
		return Directory, nil
	case "recursive", "tree", "":
		return Recursive, nil
	}
	return SingleFile, fmt.Errorf("unknown walk mode %q", s)
}

// Entry is one payload. Path is the on-disk path, or the synthetic
// "archive!entry" path for archive members.
type Entry struct {
	Path        string
	ArchivePath string
	EntryPath   string
	Data        []byte
}

// Walker produces entries lazily. It holds no state between walks, so
// Entries may be called again to restart.
type Walker struct {
	root           string
	mode           Mode
	maxFileSize    int64
	archiveDepth   int
	followSymlinks bool
	logger         *slog.Logger
}

// Option configures a Walker.
type Option func(*Walker)

func WithMaxFileSize(n int64) Option {
	return func(w *Walker) {
		if n > 0 {
			w.maxFileSize = n
		}
	}
}

func WithArchiveDepth(n int) Option {
	return func(w *Walker) {
		if n > 0 {
			w.archiveDepth = n
		}
	}
}

// WithFollowSymlinks makes the walker descend into symlinked directories,
// reporting links that point back at an ancestor.
func WithFollowSymlinks(follow bool) Option {
	return func(w *Walker) { w.followSymlinks = follow }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Walker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a walker rooted at root.
func New(root string, mode Mode, opts ...Option) *Walker {
	w := &Walker{
		root:         root,
		mode:         mode,
		maxFileSize:  DefaultMaxFileSize,
		archiveDepth: DefaultArchiveDepth,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Root returns the configured root path.
func (w *Walker) Root() string { return w.root }

// Mode returns the configured walk mode.
func (w *Walker) Mode() Mode { return w.mode }

type yieldFunc func(Entry, error) bool

// Entries walks the root. Per-file problems are yielded as *Warning errors
// and the walk continues; a root that cannot be read yields one *RootError
// and ends the sequence. The sequence stops early when ctx is done.
func (w *Walker) Entries(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		info, err := os.Stat(w.root)
		if err != nil {
			yield(Entry{}, &RootError{Path: w.root, Err: err})
			return
		}

		switch w.mode {
		case SingleFile:
			if info.IsDir() {
				yield(Entry{}, &RootError{Path: w.root, Err: errors.New("is a directory")})
				return
			}
			if classify(w.root) == kindNone {
				yield(Entry{}, &RootError{Path: w.root, Err: errors.New("not an xml file or supported archive")})
				return
			}
			w.visitFile(ctx, w.root, info.Size(), yield)
		default:
			if !info.IsDir() {
				yield(Entry{}, &RootError{Path: w.root, Err: errors.New("not a directory")})
				return
			}
			if _, err := os.ReadDir(w.root); err != nil {
				yield(Entry{}, &RootError{Path: w.root, Err: err})
				return
			}
			realRoot, err := filepath.EvalSymlinks(w.root)
			if err != nil {
				realRoot = w.root
			}
			visited := map[string]bool{}
			w.walkTree(ctx, realRoot, w.root, visited, yield)
		}
	}
}

// walkTree walks dir on disk while reporting paths under logical.
func (w *Walker) walkTree(ctx context.Context, dir, logical string, visited map[string]bool, yield yieldFunc) bool {
	cont := true
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			cont = false
			return filepath.SkipAll
		}
		shown := logical + strings.TrimPrefix(path, dir)

		if err != nil {
			if !yield(Entry{}, &Warning{Path: shown, Kind: Unreadable, Err: err}) {
				cont = false
				return filepath.SkipAll
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != dir && w.mode != Recursive {
				return filepath.SkipDir
			}
			visited[path] = true
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !w.followSymlinks {
				return nil
			}
			if !w.visitSymlink(ctx, path, shown, visited, yield) {
				cont = false
				return filepath.SkipAll
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if !yield(Entry{}, &Warning{Path: shown, Kind: Unreadable, Err: err}) {
				cont = false
				return filepath.SkipAll
			}
			return nil
		}
		if !w.visitFile(ctx, shown, info.Size(), yield) {
			cont = false
			return filepath.SkipAll
		}
		return nil
	})
	return cont
}

func (w *Walker) visitSymlink(ctx context.Context, path, shown string, visited map[string]bool, yield yieldFunc) bool {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return yield(Entry{}, &Warning{Path: shown, Kind: Unreadable, Err: err})
	}
	info, err := os.Stat(target)
	if err != nil {
		return yield(Entry{}, &Warning{Path: shown, Kind: Unreadable, Err: err})
	}
	if !info.IsDir() {
		return w.visitFile(ctx, shown, info.Size(), yield)
	}
	if w.mode != Recursive {
		return true
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		parent = filepath.Dir(path)
	}
	if parent == target || strings.HasPrefix(parent+string(filepath.Separator), target+string(filepath.Separator)) {
		return yield(Entry{}, &Warning{Path: shown, Kind: SymlinkLoop, Err: fmt.Errorf("link points to ancestor %s", target)})
	}
	if visited[target] {
		w.logger.Debug("skipping already walked directory", "path", shown, "target", target)
		return true
	}
	return w.walkTree(ctx, target, shown, visited, yield)
}

// visitFile reads an XML file or expands an archive. Other files are ignored.
func (w *Walker) visitFile(ctx context.Context, path string, size int64, yield yieldFunc) bool {
	kind := classify(path)
	switch kind {
	case kindNone:
		return true
	case kindXML:
		if size > w.maxFileSize {
			return yield(Entry{}, &Warning{Path: path, Kind: TooLarge, Err: fmt.Errorf("%d bytes exceeds limit of %d", size, w.maxFileSize)})
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return yield(Entry{}, &Warning{Path: path, Kind: Unreadable, Err: err})
		}
		return yield(Entry{Path: path, Data: data}, nil)
	default:
		f, err := os.Open(path)
		if err != nil {
			return yield(Entry{}, &Warning{Path: path, Kind: Unreadable, Err: err})
		}
		defer f.Close()
		return w.expand(ctx, chain{disk: path, depth: 1}, kind, f, size, yield)
	}
}
