package walker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

type fileKind uint8

const (
	kindNone fileKind = iota
	kindXML
	kindZip
	kindTar
	kindTarGz
	kindGz
	kindTarZst
	kindZst
)

func classify(name string) fileKind {
	n := strings.ToLower(name)
	switch {
	case strings.HasSuffix(n, ".xml"):
		return kindXML
	case strings.HasSuffix(n, ".zip"):
		return kindZip
	case strings.HasSuffix(n, ".tar.gz"), strings.HasSuffix(n, ".tgz"):
		return kindTarGz
	case strings.HasSuffix(n, ".tar.zst"):
		return kindTarZst
	case strings.HasSuffix(n, ".tar"):
		return kindTar
	case strings.HasSuffix(n, ".gz"):
		return kindGz
	case strings.HasSuffix(n, ".zst"):
		return kindZst
	default:
		return kindNone
	}
}

var errTooLarge = errors.New("entry exceeds size limit")

// chain locates an archive member: disk is the outermost archive on disk
// and inner the "!"-joined member path within it.
type chain struct {
	disk  string
	inner string
	depth int
}

func (c chain) path() string {
	if c.inner == "" {
		return c.disk
	}
	return c.disk + "!" + c.inner
}

func (c chain) child(name string) chain {
	inner := name
	if c.inner != "" {
		inner = c.inner + "!" + name
	}
	return chain{disk: c.disk, inner: inner, depth: c.depth}
}

type source interface {
	io.Reader
	io.ReaderAt
}

func (w *Walker) expand(ctx context.Context, c chain, kind fileKind, src source, size int64, yield yieldFunc) bool {
	switch kind {
	case kindZip:
		return w.expandZip(ctx, c, src, size, yield)
	case kindTar:
		return w.expandTar(ctx, c, src, yield)
	case kindTarGz, kindGz:
		gz, err := gzip.NewReader(src)
		if err != nil {
			return w.archiveWarning(c, err, yield)
		}
		defer gz.Close()
		if kind == kindTarGz {
			return w.expandTar(ctx, c, gz, yield)
		}
		name := gz.Name
		if name == "" {
			name = strings.TrimSuffix(path.Base(c.last()), path.Ext(c.last()))
		}
		return w.member(ctx, c, name, gz, -1, yield)
	case kindTarZst, kindZst:
		dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return w.archiveWarning(c, err, yield)
		}
		defer dec.Close()
		if kind == kindTarZst {
			return w.expandTar(ctx, c, dec, yield)
		}
		name := strings.TrimSuffix(path.Base(c.last()), path.Ext(c.last()))
		return w.member(ctx, c, name, dec, -1, yield)
	}
	return true
}

// last returns the name of the innermost archive in the chain.
func (c chain) last() string {
	if c.inner == "" {
		return c.disk
	}
	if i := strings.LastIndex(c.inner, "!"); i >= 0 {
		return c.inner[i+1:]
	}
	return c.inner
}

func (w *Walker) expandZip(ctx context.Context, c chain, src io.ReaderAt, size int64, yield yieldFunc) bool {
	zr, err := zip.NewReader(src, size)
	if err != nil {
		return w.archiveWarning(c, err, yield)
	}
	for _, f := range zr.File {
		if ctx.Err() != nil {
			return false
		}
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			if !w.archiveWarning(c.child(f.Name), err, yield) {
				return false
			}
			continue
		}
		ok := w.member(ctx, c, f.Name, rc, int64(f.UncompressedSize64), yield)
		rc.Close()
		if !ok {
			return false
		}
	}
	return true
}

func (w *Walker) expandTar(ctx context.Context, c chain, r io.Reader, yield yieldFunc) bool {
	tr := tar.NewReader(r)
	for {
		if ctx.Err() != nil {
			return false
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return true
		}
		if err != nil {
			return w.archiveWarning(c, err, yield)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !w.member(ctx, c, hdr.Name, tr, hdr.Size, yield) {
			return false
		}
	}
}

// member yields an XML member or descends into a nested archive.
func (w *Walker) member(ctx context.Context, c chain, name string, r io.Reader, size int64, yield yieldFunc) bool {
	child := c.child(name)
	kind := classify(name)
	if kind == kindNone {
		return true
	}
	if kind != kindXML && c.depth >= w.archiveDepth {
		w.logger.Debug("archive nesting too deep", "path", child.path())
		return true
	}
	if size > w.maxFileSize {
		return yield(Entry{}, &Warning{Path: child.path(), Kind: TooLarge, Err: fmt.Errorf("%d bytes exceeds limit of %d", size, w.maxFileSize)})
	}

	data, err := readLimited(r, w.maxFileSize)
	if errors.Is(err, errTooLarge) {
		return yield(Entry{}, &Warning{Path: child.path(), Kind: TooLarge, Err: err})
	}
	if err != nil {
		return w.archiveWarning(child, err, yield)
	}

	if kind == kindXML {
		return yield(Entry{Path: child.path(), ArchivePath: c.disk, EntryPath: child.inner, Data: data}, nil)
	}
	child.depth = c.depth + 1
	return w.expand(ctx, child, kind, bytes.NewReader(data), int64(len(data)), yield)
}

func (w *Walker) archiveWarning(c chain, err error, yield yieldFunc) bool {
	return yield(Entry{}, &Warning{Path: c.path(), Kind: ArchiveRead, Err: err})
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}
	return data, nil
}
