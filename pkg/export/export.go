// Package export streams query results into spreadsheet, delimited text
// or JSON files.
package export

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// Options tune the rendering of an export.
type Options struct {
	DateLayout string // Go layout for dates in text formats
	Delimiter  rune   // CSV field separator
	BOM        bool   // prefix CSV output with a UTF-8 byte order mark
	Items      bool   // one row per line item
	SheetName  string // XLSX worksheet name
}

// Option configures an export.
type Option func(*Options)

func WithDateLayout(layout string) Option {
	return func(o *Options) {
		if layout != "" {
			o.DateLayout = layout
		}
	}
}

func WithDelimiter(r rune) Option {
	return func(o *Options) {
		if r != 0 {
			o.Delimiter = r
		}
	}
}

func WithBOM(bom bool) Option {
	return func(o *Options) { o.BOM = bom }
}

// WithItems writes one row per line item, repeating document columns.
// Documents without items produce a single row with empty item columns.
func WithItems() Option {
	return func(o *Options) { o.Items = true }
}

func WithSheetName(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.SheetName = name
		}
	}
}

func defaultOptions() Options {
	return Options{
		DateLayout: "2006-01-02",
		Delimiter:  ',',
		SheetName:  "Documents",
	}
}

// rowWriter renders rows of one format.
type rowWriter interface {
	header(titles []string) error
	row(values []any) error
	close() error
	// abort releases resources after a failed write.
	abort()
}

// Export streams docs into dest in the given format and returns the number
// of rows written. The file is assembled under a temporary name next to
// dest and renamed only when everything was written; on failure dest is
// left untouched. An empty sequence yields a header-only file.
func Export(ctx context.Context, docs iter.Seq2[fiscal.Document, error], format Format, cols []Column, dest string, opts ...Option) (int, error) {
	cols, specs, o, err := resolve(cols, opts)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	renamed := false
	defer func() {
		if !renamed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := write(ctx, tmp, docs, format, cols, specs, o)
	if err != nil {
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("failed to move export into place: %w", err)
	}
	renamed = true
	return n, nil
}

// Write streams docs to w. Callers that own the destination, such as an
// HTTP response, use it instead of Export.
func Write(ctx context.Context, w io.Writer, docs iter.Seq2[fiscal.Document, error], format Format, cols []Column, opts ...Option) (int, error) {
	cols, specs, o, err := resolve(cols, opts)
	if err != nil {
		return 0, err
	}
	return write(ctx, w, docs, format, cols, specs, o)
}

func resolve(cols []Column, opts []Option) ([]Column, []field, Options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if len(cols) == 0 {
		cols = DefaultColumns()
		if o.Items {
			cols = DefaultItemColumns()
		}
	}
	specs, err := validateColumns(cols)
	if err != nil {
		return nil, nil, o, err
	}
	if hasItemColumns(cols) {
		o.Items = true
	}
	return cols, specs, o, nil
}

func write(ctx context.Context, w io.Writer, docs iter.Seq2[fiscal.Document, error], format Format, cols []Column, specs []field, o Options) (int, error) {
	var rw rowWriter
	var err error
	switch format {
	case CSV:
		rw, err = newCSVWriter(w, specs, o)
	case JSON:
		rw, err = newJSONWriter(w, cols, specs, o)
	case XLSX:
		rw, err = newXLSXWriter(w, specs, o)
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedFormat, uint8(format))
	}
	if err != nil {
		return 0, err
	}
	done := false
	defer func() {
		if !done {
			rw.abort()
		}
	}()

	titles := make([]string, len(cols))
	for i, c := range cols {
		titles[i] = c.Title()
	}
	if err := rw.header(titles); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	rows := 0
	values := make([]any, len(cols))
	emit := func(r row) error {
		for i, f := range specs {
			values[i] = f.value(r)
		}
		if err := rw.row(values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", rows+1, err)
		}
		rows++
		return nil
	}

	for doc, err := range docs {
		if err != nil {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if o.Items && len(doc.Items) > 0 {
			for i := range doc.Items {
				if err := emit(row{doc: &doc, item: &doc.Items[i]}); err != nil {
					return 0, err
				}
			}
			continue
		}
		if err := emit(row{doc: &doc}); err != nil {
			return 0, err
		}
	}

	done = true
	if err := rw.close(); err != nil {
		return 0, fmt.Errorf("failed to finish %s export: %w", format, err)
	}
	return rows, nil
}
