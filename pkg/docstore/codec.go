package docstore

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/s2"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// schemaVersion is written once per store. Records only ever gain fields,
// so any older version decodes without loss.
const schemaVersion = 1

// record is the persisted form of a document.
type record struct {
	Version int `json:"v"`
	// Seq is the commit sequence of the last write to this record.
	Seq uint64 `json:"seq"`
	// StatusSeq is the commit sequence that last decided Status. Zero means
	// the status came from the document itself on first insert.
	StatusSeq uint64 `json:"statusSeq"`
	fiscal.Document
}

func encodeRecord(r *record) ([]byte, error) {
	r.Version = schemaVersion
	r.ReferenceResolved = false
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", r.Key(), err)
	}
	return s2.Encode(nil, b), nil
}

func decodeRecord(data []byte) (*record, error) {
	b, err := s2.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress record: %w", err)
	}
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &r, nil
}
