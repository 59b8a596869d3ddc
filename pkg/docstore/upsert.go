package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/s2"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// Write is one document of a batch, optionally with its original payload.
type Write struct {
	Document fiscal.Document
	Raw      []byte
}

// UpsertResult summarizes what a batch did to the store.
type UpsertResult struct {
	// Inserted counts documents with a key not seen before.
	Inserted int
	// Replaced counts documents whose key existed with different content.
	Replaced int
	// Duplicates counts documents identical to what was stored.
	Duplicates int
	// Transitions counts events applied to a document already stored.
	Transitions int
	// Deferred counts events whose referenced document is not stored yet.
	Deferred int
}

// Committed returns the number of documents written.
func (r UpsertResult) Committed() int {
	return r.Inserted + r.Replaced
}

// Upsert writes a batch in a single transaction: either every document of
// the batch becomes visible or none does. Per document:
//   - an unknown key is inserted;
//   - a known key with the same content hash is skipped;
//   - a known key with a different hash replaces the record, keeping the
//     first-seen time and accumulating source paths;
//   - an event applies its transition to the referenced document when it
//     is stored, otherwise the transition resolves when that document
//     appears.
func (s *Store) Upsert(ctx context.Context, batch []Write) (UpsertResult, error) {
	if len(batch) == 0 {
		return UpsertResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return UpsertResult{}, err
	}

	start := time.Now()
	var res UpsertResult
	var touched []fiscal.Key

	err := s.withWriteTxn(func(txn *badger.Txn) error {
		res = UpsertResult{}
		touched = touched[:0]

		seq, err := readUint64(txn, keySequence)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to read sequence: %w", err)
		}
		now := time.Now().UTC()

		for i := range batch {
			seq++
			out, err := s.upsertOne(txn, &batch[i], seq, now)
			if err != nil {
				return err
			}
			touched = append(touched, out.keys...)
			switch out.outcome {
			case outcomeInserted:
				res.Inserted++
			case outcomeReplaced:
				res.Replaced++
			case outcomeDuplicate:
				res.Duplicates++
				continue
			}
			if batch[i].Document.Type.IsEvent() {
				if out.resolved {
					res.Transitions++
				} else {
					res.Deferred++
				}
			}
		}
		return txn.Set(keySequence, encodeUint64(seq))
	})

	s.invalidate(touched)
	if s.recorder != nil {
		s.recorder.ObserveCommit(time.Since(start), res, err)
	}
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to commit batch of %d: %w", len(batch), err)
	}

	s.logger.Debug("batch committed",
		"size", len(batch),
		"inserted", res.Inserted,
		"replaced", res.Replaced,
		"duplicates", res.Duplicates,
		"transitions", res.Transitions,
		"deferred", res.Deferred,
	)
	return res, nil
}

type outcome uint8

const (
	outcomeDuplicate outcome = iota
	outcomeInserted
	outcomeReplaced
)

type writeOutcome struct {
	outcome outcome
	// keys lists the records written: the document itself and, when an
	// event changed it, the referenced document.
	keys []fiscal.Key
	// resolved is set for events whose referenced document is stored.
	resolved bool
}

func (s *Store) upsertOne(txn *badger.Txn, w *Write, seq uint64, now time.Time) (writeOutcome, error) {
	doc := w.Document
	key := doc.Key()
	if !doc.Type.Valid() || doc.AccessKey == "" {
		return writeOutcome{}, fmt.Errorf("invalid document key %s", key)
	}

	existing, found, err := getRecord(txn, key)
	if err != nil {
		return writeOutcome{}, err
	}
	if found && existing.RawHash == doc.RawHash {
		return writeOutcome{outcome: outcomeDuplicate}, nil
	}

	rec := &record{Seq: seq, Document: doc}
	rec.Sources = nil
	rec.UpdatedAt = now
	out := writeOutcome{outcome: outcomeInserted, keys: []fiscal.Key{key}}

	if found {
		out.outcome = outcomeReplaced
		rec.FirstSeen = existing.FirstSeen
		rec.StatusSeq = seq
		rec.Corrected = existing.Corrected || doc.Corrected
		rec.Sources = append(rec.Sources, existing.Sources...)
		if dateStamp(existing.IssueDate) != dateStamp(doc.IssueDate) {
			if err := txn.Delete(encodeDateKey(dateStamp(existing.IssueDate), key)); err != nil {
				return writeOutcome{}, err
			}
		}
	} else {
		rec.FirstSeen = now
	}
	for _, src := range doc.Sources {
		rec.AddSource(src)
	}
	rec.AddSource(doc.SourcePath)

	if err := putRecord(txn, rec); err != nil {
		return writeOutcome{}, err
	}
	if err := txn.Set(encodeDateKey(dateStamp(rec.IssueDate), key), nil); err != nil {
		return writeOutcome{}, err
	}
	if s.cfg.StoreRaw && len(w.Raw) > 0 {
		if err := txn.Set(encodeRawKey(key), s2.Encode(nil, w.Raw)); err != nil {
			return writeOutcome{}, err
		}
	}

	if !doc.Type.IsEvent() {
		return out, nil
	}
	if err := txn.Set(encodeRefKey(doc.ReferencedKey, key), nil); err != nil {
		return writeOutcome{}, err
	}

	base, ok, err := findBase(txn, doc.ReferencedKey)
	if err != nil {
		return writeOutcome{}, err
	}
	if !ok {
		return out, nil
	}
	out.resolved = true

	// Fold in events still resolving lazily before this one so that raising
	// StatusSeq cannot hide them.
	events, err := referencingEvents(txn, base.AccessKey)
	if err != nil {
		return writeOutcome{}, err
	}
	changed := s.applyEvents(base, events)
	if fiscal.TransitionOf(&rec.Document).Apply(&base.Document, &rec.Document) {
		changed = true
	}
	if !changed {
		return out, nil
	}
	base.StatusSeq = seq
	base.Seq = seq
	base.UpdatedAt = now
	if err := putRecord(txn, base); err != nil {
		return writeOutcome{}, err
	}
	out.keys = append(out.keys, base.Key())
	return out, nil
}
