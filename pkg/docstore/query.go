package docstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/s2"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// Sort orders query results. Without a sort the order is unspecified.
type Sort uint8

const (
	SortNone Sort = iota
	SortIssueDateAsc
	SortIssueDateDesc
)

// ParseSort accepts "", "date", "date-asc" or "date-desc".
func ParseSort(s string) (Sort, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return SortNone, nil
	case "date", "date-asc", "asc":
		return SortIssueDateAsc, nil
	case "date-desc", "desc":
		return SortIssueDateDesc, nil
	}
	return SortNone, fmt.Errorf("unknown sort %q", s)
}

// DayLayout is the layout of date-only filter bounds.
const DayLayout = "2006-01-02"

// ParseDayRange parses date-only bounds into an inclusive range covering
// whole days in UTC. Either bound may be empty.
func ParseDayRange(from, to string) (*time.Time, *time.Time, error) {
	var lo, hi *time.Time
	if from != "" {
		t, err := time.Parse(DayLayout, from)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid from date %q", from)
		}
		lo = &t
	}
	if to != "" {
		t, err := time.Parse(DayLayout, to)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid to date %q", to)
		}
		end := t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		hi = &end
	}
	if lo != nil && hi != nil && hi.Before(*lo) {
		return nil, nil, fmt.Errorf("date range %s..%s is empty", from, to)
	}
	return lo, hi, nil
}

// fuzzyThreshold is the minimum Levenshtein similarity for a fuzzy name match.
const fuzzyThreshold = 0.8

// Filter selects documents. Zero values match everything.
type Filter struct {
	Types    []fiscal.DocumentType
	Statuses []fiscal.Status
	// DateFrom and DateTo bound the issue date, both inclusive. Documents
	// without an issue date never match a date bound.
	DateFrom *time.Time
	DateTo   *time.Time
	// Text matches case-insensitively against the access key, number,
	// issuer and recipient ids and names.
	Text string
	// Fuzzy additionally accepts party names similar to Text.
	Fuzzy  bool
	Offset int
	Limit  int
	Sort   Sort
}

func (f *Filter) usesDateIndex() bool {
	return f.DateFrom != nil || f.DateTo != nil || f.Sort != SortNone
}

func (f *Filter) matches(doc *fiscal.Document) bool {
	if len(f.Types) > 0 && !containsType(f.Types, doc.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, doc.Status) {
		return false
	}
	if f.DateFrom != nil || f.DateTo != nil {
		if doc.IssueDate == nil {
			return false
		}
		if f.DateFrom != nil && doc.IssueDate.Before(*f.DateFrom) {
			return false
		}
		if f.DateTo != nil && doc.IssueDate.After(*f.DateTo) {
			return false
		}
	}
	if f.Text != "" && !f.matchesText(doc) {
		return false
	}
	return true
}

func (f *Filter) matchesText(doc *fiscal.Document) bool {
	q := strings.ToLower(strings.TrimSpace(f.Text))
	for _, field := range []string{doc.AccessKey, doc.Number, doc.IssuerID, doc.IssuerName, doc.RecipientID, doc.RecipientName} {
		if field != "" && strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	if !f.Fuzzy {
		return false
	}
	for _, name := range []string{doc.IssuerName, doc.RecipientName} {
		if name != "" && levenshtein.Match(q, strings.ToLower(name), nil) >= fuzzyThreshold {
			return true
		}
	}
	return false
}

func containsType(types []fiscal.DocumentType, t fiscal.DocumentType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func containsStatus(statuses []fiscal.Status, s fiscal.Status) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Query streams matching documents from one snapshot: documents committed
// after the query started are not observed. Statuses are effective
// statuses, with pending events applied. Records are decoded lazily, so
// the result set never has to fit in memory.
func (s *Store) Query(ctx context.Context, f Filter) iter.Seq2[fiscal.Document, error] {
	return func(yield func(fiscal.Document, error) bool) {
		if err := s.requireLoaded(); err != nil {
			yield(fiscal.Document{}, err)
			return
		}

		skipped, emitted := 0, 0
		stopped := false
		emit := func(txn *badger.Txn, rec *record) bool {
			doc, err := s.resolve(txn, rec)
			if err != nil {
				stopped = !yield(fiscal.Document{}, err)
				return !stopped
			}
			if !f.matches(&doc) {
				return true
			}
			if skipped < f.Offset {
				skipped++
				return true
			}
			if !yield(doc, nil) {
				stopped = true
				return false
			}
			emitted++
			return f.Limit <= 0 || emitted < f.Limit
		}

		err := s.withReadTxn(func(txn *badger.Txn) error {
			if f.usesDateIndex() {
				return s.scanByDate(ctx, txn, &f, emit)
			}
			return s.scanRecords(ctx, txn, &f, emit)
		})
		if err != nil && !stopped {
			yield(fiscal.Document{}, err)
		}
	}
}

// scanRecords walks the record prefix, narrowed to the requested types.
func (s *Store) scanRecords(ctx context.Context, txn *badger.Txn, f *Filter, emit func(*badger.Txn, *record) bool) error {
	prefixes := [][]byte{{recordPrefix}}
	if len(f.Types) > 0 {
		prefixes = prefixes[:0]
		for _, t := range f.Types {
			prefixes = append(prefixes, []byte{recordPrefix, byte(t)})
		}
	}

	for _, prefix := range prefixes {
		cont, err := func() (bool, error) {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				select {
				case <-ctx.Done():
					return false, ctx.Err()
				default:
				}
				var rec *record
				err := it.Item().Value(func(val []byte) error {
					var derr error
					rec, derr = decodeRecord(val)
					return derr
				})
				if err != nil {
					return false, err
				}
				if !emit(txn, rec) {
					return false, nil
				}
			}
			return true, nil
		}()
		if err != nil || !cont {
			return err
		}
	}
	return nil
}

// scanByDate walks the issue date index in the requested direction.
func (s *Store) scanByDate(ctx context.Context, txn *badger.Txn, f *Filter, emit func(*badger.Txn, *record) bool) error {
	desc := f.Sort == SortIssueDateDesc
	lo, hi := uint64(0), uint64(noDate)
	if f.DateFrom != nil {
		lo = dateStamp(f.DateFrom)
	}
	if f.DateTo != nil {
		hi = dateStamp(f.DateTo)
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = desc
	opts.Prefix = []byte{datePrefix}
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := encodeDateBound(lo, false)
	if desc {
		seek = encodeDateBound(hi, true)
	}
	prefix := []byte{datePrefix}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		stamp, key := decodeDateKey(it.Item().KeyCopy(nil))
		if stamp < lo || stamp > hi {
			break
		}
		rec, found, err := getRecord(txn, key)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if !emit(txn, rec) {
			return nil
		}
	}
	return nil
}

// resolve produces the effective view of a record: pending events are
// applied to base documents, and events learn whether their target exists.
func (s *Store) resolve(txn *badger.Txn, rec *record) (fiscal.Document, error) {
	if rec.Type.IsEvent() {
		doc := rec.Document
		_, found, err := findBase(txn, doc.ReferencedKey)
		if err != nil {
			return fiscal.Document{}, err
		}
		doc.ReferenceResolved = found
		return doc, nil
	}

	events, err := referencingEvents(txn, rec.AccessKey)
	if err != nil {
		return fiscal.Document{}, err
	}
	view := *rec
	s.applyEvents(&view, events)
	return view.Document, nil
}

// referencingEvents returns the events pointing at accessKey in commit order.
func referencingEvents(txn *badger.Txn, accessKey string) ([]*record, error) {
	prefix := encodeRefPrefix(accessKey)
	var keys []fiscal.Key

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, decodeRefKey(it.Item().KeyCopy(nil), len(prefix)))
	}
	it.Close()

	events := make([]*record, 0, len(keys))
	for _, k := range keys {
		rec, found, err := getRecord(txn, k)
		if err != nil {
			return nil, err
		}
		if found {
			events = append(events, rec)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

// applyEvents overlays events on base according to the status policy.
func (s *Store) applyEvents(base *record, events []*record) bool {
	changed := false
	for _, ev := range events {
		if s.cfg.StatusPolicy != PolicyEventsWin && ev.Seq <= base.StatusSeq {
			continue
		}
		if fiscal.TransitionOf(&ev.Document).Apply(&base.Document, &ev.Document) {
			changed = true
		}
	}
	return changed
}

// Get returns the effective view of one document.
func (s *Store) Get(ctx context.Context, k fiscal.Key) (fiscal.Document, error) {
	if err := s.requireLoaded(); err != nil {
		return fiscal.Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return fiscal.Document{}, err
	}

	var doc fiscal.Document
	err := s.withReadTxn(func(txn *badger.Txn) error {
		rec, err := s.readRecord(txn, k)
		if err != nil {
			return err
		}
		doc, err = s.resolve(txn, rec)
		return err
	})
	return doc, err
}

// readRecord loads a record through the cache.
func (s *Store) readRecord(txn *badger.Txn, k fiscal.Key) (*record, error) {
	item, err := txn.Get(encodeRecordKey(k))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", k, err)
	}
	if s.cache != nil {
		if c, ok := s.cache.Get(k); ok && c.version == item.Version() {
			return c.rec, nil
		}
	}

	var rec *record
	err = item.Value(func(val []byte) error {
		rec, err = decodeRecord(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(k, cachedRecord{version: item.Version(), rec: rec})
	}
	return rec, nil
}

// Raw returns the original payload of a document, if it was kept.
func (s *Store) Raw(ctx context.Context, k fiscal.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.withReadTxn(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeRawKey(k))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: no payload for %s", ErrNotFound, k)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payload: %w", err)
	}

	raw, err := s2.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return raw, nil
}

// Collect drains a query into a slice.
func Collect(seq iter.Seq2[fiscal.Document, error]) ([]fiscal.Document, error) {
	var docs []fiscal.Document
	for doc, err := range seq {
		if err != nil {
			return docs, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
