package ingest

import (
	"github.com/duynguyendang/fiscalxml/pkg/docstore"
	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// batch accumulates writes for one store transaction. The store applies
// them in order, so a batch commits the same result as writing its
// documents one at a time.
type batch struct {
	writes []docstore.Write
	// last holds the content hash of the latest write per key.
	last map[fiscal.Key]string
}

func newBatch(size int) *batch {
	return &batch{
		writes: make([]docstore.Write, 0, size),
		last:   make(map[fiscal.Key]string, size),
	}
}

// add appends doc. It reports false, dropping doc, when the latest write
// of the same key in the batch has the same content: the store would skip
// it as a duplicate anyway.
func (b *batch) add(doc fiscal.Document, raw []byte) bool {
	k := doc.Key()
	if h, ok := b.last[k]; ok && h == doc.RawHash {
		return false
	}
	b.last[k] = doc.RawHash
	b.writes = append(b.writes, docstore.Write{Document: doc, Raw: raw})
	return true
}

func (b *batch) len() int { return len(b.writes) }

func (b *batch) reset() {
	b.writes = b.writes[:0]
	clear(b.last)
}
