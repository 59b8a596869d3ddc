package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// Delete removes every document stored under accessKey, whatever its type,
// together with its payload and index entries. Events that referenced a
// deleted document stay stored and become unresolved again.
func (s *Store) Delete(ctx context.Context, accessKey string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var deleted []fiscal.Key
	err := s.withWriteTxn(func(txn *badger.Txn) error {
		deleted = deleted[:0]
		for _, t := range fiscal.AllTypes() {
			k := fiscal.Key{Type: t, AccessKey: accessKey}
			rec, found, err := getRecord(txn, k)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			for _, key := range [][]byte{
				encodeRecordKey(k),
				encodeRawKey(k),
				encodeDateKey(dateStamp(rec.IssueDate), k),
			} {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			if t.IsEvent() {
				if err := txn.Delete(encodeRefKey(rec.ReferencedKey, k)); err != nil {
					return err
				}
			}
			deleted = append(deleted, k)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrReadOnly) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to delete %s: %w", accessKey, err)
	}

	s.invalidate(deleted)
	if len(deleted) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, accessKey)
	}
	s.logger.Info("documents deleted", "accessKey", accessKey, "count", len(deleted))
	return len(deleted), nil
}
