package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// ErrUnknownColumn is returned for a column field that does not exist.
var ErrUnknownColumn = errors.New("unknown export column")

// Column selects one field and names its header.
type Column struct {
	Field  string `json:"field" yaml:"field"`
	Header string `json:"header,omitempty" yaml:"header,omitempty"`
}

// Title returns the header, defaulting to the field's display name.
func (c Column) Title() string {
	if c.Header != "" {
		return c.Header
	}
	if f, ok := fields[c.Field]; ok {
		return f.title
	}
	return c.Field
}

type kind uint8

const (
	kindText kind = iota
	kindDate
	kindMoney   // two decimal places
	kindDecimal // quantities, as many places as the document has
	kindInt
	kindBool
)

type row struct {
	doc  *fiscal.Document
	item *fiscal.Item // nil outside item mode or for documents without items
}

type field struct {
	title  string
	kind   kind
	isItem bool
	value  func(r row) any
}

func text(fn func(d *fiscal.Document) string) func(row) any {
	return func(r row) any { return fn(r.doc) }
}

func itemValue(fn func(it *fiscal.Item) any) func(row) any {
	return func(r row) any {
		if r.item == nil {
			return nil
		}
		return fn(r.item)
	}
}

func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}

func timeValue(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

var fields = map[string]field{
	"type":          {title: "Type", value: text(func(d *fiscal.Document) string { return d.Type.String() })},
	"accessKey":     {title: "Access Key", value: text(func(d *fiscal.Document) string { return d.AccessKey })},
	"number":        {title: "Number", value: text(func(d *fiscal.Document) string { return d.Number })},
	"series":        {title: "Series", value: text(func(d *fiscal.Document) string { return d.Series })},
	"issuerId":      {title: "Issuer ID", value: text(func(d *fiscal.Document) string { return d.IssuerID })},
	"issuerName":    {title: "Issuer", value: text(func(d *fiscal.Document) string { return d.IssuerName })},
	"recipientId":   {title: "Recipient ID", value: text(func(d *fiscal.Document) string { return d.RecipientID })},
	"recipientName": {title: "Recipient", value: text(func(d *fiscal.Document) string { return d.RecipientName })},
	"issueDate":     {title: "Issue Date", kind: kindDate, value: func(r row) any { return timeValue(r.doc.IssueDate) }},
	"totalValue":    {title: "Total Value", kind: kindMoney, value: func(r row) any { return nullDecimal(r.doc.TotalValue) }},
	"status":        {title: "Status", value: text(func(d *fiscal.Document) string { return d.Status.String() })},
	"protocol":      {title: "Protocol", value: text(func(d *fiscal.Document) string { return d.Protocol })},
	"referencedKey": {title: "Referenced Key", value: text(func(d *fiscal.Document) string { return d.ReferencedKey })},
	"eventCode":     {title: "Event Code", value: text(func(d *fiscal.Document) string { return d.EventCode })},
	"corrected":     {title: "Corrected", kind: kindBool, value: func(r row) any { return r.doc.Corrected }},
	"itemCount":     {title: "Items", kind: kindInt, value: func(r row) any { return r.doc.ItemCount() }},
	"sourcePath":    {title: "Source", value: text(func(d *fiscal.Document) string { return d.SourcePath })},
	"sources":       {title: "Sources", value: text(func(d *fiscal.Document) string { return strings.Join(d.Sources, " | ") })},
	"rawHash":       {title: "SHA-256", value: text(func(d *fiscal.Document) string { return d.RawHash })},
	"firstSeen":     {title: "First Seen", kind: kindDate, value: func(r row) any { return timeValue(&r.doc.FirstSeen) }},
	"updatedAt":     {title: "Updated At", kind: kindDate, value: func(r row) any { return timeValue(&r.doc.UpdatedAt) }},

	"item.number":      {title: "Item", kind: kindInt, isItem: true, value: itemValue(func(it *fiscal.Item) any { return it.Number })},
	"item.code":        {title: "Product Code", isItem: true, value: itemValue(func(it *fiscal.Item) any { return it.Code })},
	"item.description": {title: "Description", isItem: true, value: itemValue(func(it *fiscal.Item) any { return it.Description })},
	"item.ncm":         {title: "NCM", isItem: true, value: itemValue(func(it *fiscal.Item) any { return it.NCM })},
	"item.cfop":        {title: "CFOP", isItem: true, value: itemValue(func(it *fiscal.Item) any { return it.CFOP })},
	"item.unit":        {title: "Unit", isItem: true, value: itemValue(func(it *fiscal.Item) any { return it.Unit })},
	"item.quantity":    {title: "Quantity", kind: kindDecimal, isItem: true, value: itemValue(func(it *fiscal.Item) any { return nullDecimal(it.Quantity) })},
	"item.unitValue":   {title: "Unit Value", kind: kindDecimal, isItem: true, value: itemValue(func(it *fiscal.Item) any { return nullDecimal(it.UnitValue) })},
	"item.totalValue":  {title: "Item Total", kind: kindMoney, isItem: true, value: itemValue(func(it *fiscal.Item) any { return nullDecimal(it.TotalValue) })},
}

// DefaultColumns is the document-level column set used when none is given.
func DefaultColumns() []Column {
	return columnsOf("type", "accessKey", "number", "series", "issueDate",
		"issuerId", "issuerName", "recipientId", "recipientName",
		"totalValue", "status", "sourcePath")
}

// DefaultItemColumns is the column set for item-level exports.
func DefaultItemColumns() []Column {
	return columnsOf("accessKey", "number", "issueDate", "issuerName",
		"item.number", "item.code", "item.description", "item.ncm", "item.cfop",
		"item.unit", "item.quantity", "item.unitValue", "item.totalValue")
}

func columnsOf(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Field: n}
	}
	return cols
}

// Fields lists every exportable field name.
func Fields() []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	return names
}

// ParseColumns parses "field[:Header],field[:Header],...". Field names
// are matched case-insensitively.
func ParseColumns(spec string) ([]Column, error) {
	var cols []Column
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, header, _ := strings.Cut(part, ":")
		name, ok := canonicalField(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, part)
		}
		cols = append(cols, Column{Field: name, Header: strings.TrimSpace(header)})
	}
	if len(cols) == 0 {
		return nil, errors.New("no columns given")
	}
	return cols, nil
}

func canonicalField(name string) (string, bool) {
	if _, ok := fields[name]; ok {
		return name, true
	}
	for n := range fields {
		if strings.EqualFold(n, name) {
			return n, true
		}
	}
	return "", false
}

func validateColumns(cols []Column) ([]field, error) {
	out := make([]field, len(cols))
	for i, c := range cols {
		f, ok := fields[c.Field]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, c.Field)
		}
		out[i] = f
	}
	return out, nil
}

func hasItemColumns(cols []Column) bool {
	for _, c := range cols {
		if fields[c.Field].isItem {
			return true
		}
	}
	return false
}
