package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// formatText renders a value for the text formats.
func formatText(k kind, v any, o Options) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(o.DateLayout)
	case decimal.Decimal:
		if k == kindMoney {
			return v.StringFixed(2)
		}
		return v.String()
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

type csvWriter struct {
	w     *csv.Writer
	specs []field
	opts  Options
	cells []string
}

func newCSVWriter(w io.Writer, specs []field, o Options) (*csvWriter, error) {
	// csv.NewWriter reuses bw, so nothing reaches w before the first flush.
	bw := bufio.NewWriter(w)
	if o.BOM {
		if _, err := bw.WriteString("\ufeff"); err != nil {
			return nil, err
		}
	}
	cw := csv.NewWriter(bw)
	cw.Comma = o.Delimiter
	return &csvWriter{w: cw, specs: specs, opts: o, cells: make([]string, len(specs))}, nil
}

func (c *csvWriter) header(titles []string) error {
	return c.w.Write(titles)
}

func (c *csvWriter) row(values []any) error {
	for i, v := range values {
		c.cells[i] = formatText(c.specs[i].kind, v, c.opts)
	}
	return c.w.Write(c.cells)
}

func (c *csvWriter) close() error {
	c.w.Flush()
	return c.w.Error()
}

func (c *csvWriter) abort() {}

// jsonWriter streams an array of objects keyed by field name, in column
// order.
type jsonWriter struct {
	w     *bufio.Writer
	keys  [][]byte
	specs []field
	rows  int
}

func newJSONWriter(w io.Writer, cols []Column, specs []field, _ Options) (*jsonWriter, error) {
	keys := make([][]byte, len(cols))
	for i, c := range cols {
		b, err := json.Marshal(c.Field)
		if err != nil {
			return nil, err
		}
		keys[i] = b
	}
	return &jsonWriter{w: bufio.NewWriter(w), keys: keys, specs: specs}, nil
}

func (j *jsonWriter) header([]string) error {
	_, err := j.w.WriteString("[")
	return err
}

func (j *jsonWriter) row(values []any) error {
	sep := ",\n  {"
	if j.rows == 0 {
		sep = "\n  {"
	}
	j.w.WriteString(sep)
	for i, v := range values {
		if i > 0 {
			j.w.WriteString(", ")
		}
		j.w.Write(j.keys[i])
		j.w.WriteString(": ")
		b, err := jsonValue(j.specs[i].kind, v)
		if err != nil {
			return err
		}
		if _, err := j.w.Write(b); err != nil {
			return err
		}
	}
	j.rows++
	_, err := j.w.WriteString("}")
	return err
}

func (j *jsonWriter) close() error {
	end := "\n]\n"
	if j.rows == 0 {
		end = "]\n"
	}
	if _, err := j.w.WriteString(end); err != nil {
		return err
	}
	return j.w.Flush()
}

func (j *jsonWriter) abort() {}

func jsonValue(k kind, v any) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return []byte("null"), nil
	case time.Time:
		return json.Marshal(v.Format(time.RFC3339))
	case decimal.Decimal:
		if k == kindMoney {
			return []byte(v.StringFixed(2)), nil
		}
		return []byte(v.String()), nil
	}
	return json.Marshal(v)
}
