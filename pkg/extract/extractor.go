// Package extract classifies fiscal XML payloads and maps each schema
// family onto the normalized document model.
package extract

import (
	"bytes"
	"fmt"

	"github.com/antchfx/xmlquery"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// Extractor maps one schema family onto fiscal.Document. Implementations are
// pure: the same payload always yields the same document or the same error,
// and no network or disk I/O is performed.
type Extractor interface {
	Type() fiscal.DocumentType
	Extract(payload []byte) (fiscal.Document, error)
}

type treeFunc func(t fiscal.DocumentType, root *xmlquery.Node) (fiscal.Document, error)

type extractor struct {
	typ fiscal.DocumentType
	fn  treeFunc
}

func (e extractor) Type() fiscal.DocumentType { return e.typ }

func (e extractor) Extract(payload []byte) (fiscal.Document, error) {
	root, err := xmlquery.Parse(bytes.NewReader(Clean(payload)))
	if err != nil {
		return fiscal.Document{}, malformed(e.typ, "document", err)
	}
	stripPrefixes(root)
	doc, err := e.fn(e.typ, root)
	if err != nil {
		return fiscal.Document{}, err
	}
	doc.Type = e.typ
	doc.RawHash = fiscal.HashPayload(payload)
	return doc, nil
}

// For returns the extractor for a recognized type.
func For(t fiscal.DocumentType) (Extractor, error) {
	switch t {
	case fiscal.Invoice, fiscal.ConsumerInvoice:
		return extractor{typ: t, fn: extractInvoice}, nil
	case fiscal.FreightManifest:
		return extractor{typ: t, fn: extractFreight}, nil
	case fiscal.ServiceInvoice:
		return extractor{typ: t, fn: extractService}, nil
	case fiscal.TransportManifest:
		return extractor{typ: t, fn: extractTransport}, nil
	case fiscal.CorrectionLetter, fiscal.ExceptionEvent:
		return extractor{typ: t, fn: extractEvent}, nil
	case fiscal.Unrecognized:
		return nil, ErrUnrecognized
	default:
		return nil, fmt.Errorf("%w: type %d", ErrUnrecognized, uint8(t))
	}
}

// Parse detects the payload type and runs the matching extractor.
func Parse(payload []byte) (fiscal.Document, error) {
	ex, err := For(Detect(payload))
	if err != nil {
		return fiscal.Document{}, err
	}
	return ex.Extract(payload)
}
