package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// excelDate translates the Go reference layout into an Excel number format.
var excelDate = strings.NewReplacer(
	"2006", "yyyy",
	"01", "mm",
	"02", "dd",
	"15", "hh",
	"04", "mm",
	"05", "ss",
)

// xlsxWriter writes a single worksheet through excelize's stream writer,
// which spills rows to disk instead of keeping the sheet in memory.
type xlsxWriter struct {
	out    io.Writer
	f      *excelize.File
	sw     *excelize.StreamWriter
	specs  []field
	styles map[kind]int
	bold   int
	next   int
	cells  []any
}

func newXLSXWriter(w io.Writer, specs []field, o Options) (*xlsxWriter, error) {
	f := excelize.NewFile()
	x := &xlsxWriter{out: w, f: f, specs: specs, styles: map[kind]int{}, next: 1, cells: make([]any, len(specs))}
	if err := x.init(o); err != nil {
		f.Close()
		return nil, err
	}
	return x, nil
}

func (x *xlsxWriter) init(o Options) error {
	sheet := o.SheetName
	if err := x.f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	dateFmt := excelDate.Replace(o.DateLayout)
	styles := []struct {
		k     kind
		style *excelize.Style
	}{
		{kindDate, &excelize.Style{CustomNumFmt: &dateFmt}},
		{kindMoney, &excelize.Style{NumFmt: 4}}, // #,##0.00
	}
	for _, s := range styles {
		id, err := x.f.NewStyle(s.style)
		if err != nil {
			return fmt.Errorf("failed to create style: %w", err)
		}
		x.styles[s.k] = id
	}
	bold, err := x.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}
	x.bold = bold

	x.sw, err = x.f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("failed to open stream writer: %w", err)
	}
	for i, spec := range x.specs {
		width := 20.0
		switch spec.kind {
		case kindDate, kindMoney, kindDecimal:
			width = 14
		case kindInt, kindBool:
			width = 8
		}
		if err := x.sw.SetColWidth(i+1, i+1, width); err != nil {
			return err
		}
	}
	return nil
}

func (x *xlsxWriter) header(titles []string) error {
	for i, t := range titles {
		x.cells[i] = excelize.Cell{StyleID: x.bold, Value: t}
	}
	return x.writeRow()
}

func (x *xlsxWriter) row(values []any) error {
	for i, v := range values {
		x.cells[i] = x.cell(x.specs[i].kind, v)
	}
	return x.writeRow()
}

func (x *xlsxWriter) cell(k kind, v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case time.Time:
		return excelize.Cell{StyleID: x.styles[kindDate], Value: v}
	case decimal.Decimal:
		if k == kindMoney {
			return excelize.Cell{StyleID: x.styles[kindMoney], Value: v.InexactFloat64()}
		}
		return v.InexactFloat64()
	}
	return v
}

func (x *xlsxWriter) writeRow() error {
	axis, err := excelize.CoordinatesToCellName(1, x.next)
	if err != nil {
		return err
	}
	if err := x.sw.SetRow(axis, x.cells); err != nil {
		return err
	}
	x.next++
	return nil
}

func (x *xlsxWriter) close() error {
	defer x.f.Close()
	if err := x.sw.Flush(); err != nil {
		return err
	}
	return x.f.Write(x.out)
}

func (x *xlsxWriter) abort() {
	x.f.Close()
}
