package docstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

const maxConflictRetries = 5

// withReadTxn executes a function within a snapshot read transaction.
func (s *Store) withReadTxn(fn func(*badger.Txn) error) error {
	return s.db.View(fn)
}

// withWriteTxn executes a function within a write transaction, retrying
// when a concurrent writer committed a conflicting change first.
func (s *Store) withWriteTxn(fn func(*badger.Txn) error) error {
	if s.cfg.ReadOnly {
		return ErrReadOnly
	}
	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("write conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("invalid counter length %d", len(val))
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

// getRecord loads a record. found is false when the key does not exist.
func getRecord(txn *badger.Txn, k fiscal.Key) (rec *record, found bool, err error) {
	item, err := txn.Get(encodeRecordKey(k))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get record %s: %w", k, err)
	}
	err = item.Value(func(val []byte) error {
		rec, err = decodeRecord(val)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func putRecord(txn *badger.Txn, rec *record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return txn.Set(encodeRecordKey(rec.Key()), data)
}

// findBase locates the document an event references.
func findBase(txn *badger.Txn, accessKey string) (*record, bool, error) {
	for _, t := range baseTypesFor(accessKey) {
		rec, found, err := getRecord(txn, fiscal.Key{Type: t, AccessKey: accessKey})
		if err != nil || found {
			return rec, found, err
		}
	}
	return nil, false, nil
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error("badger: " + fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn("badger: " + fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug("badger: " + fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug("badger: " + fmt.Sprintf(format, args...))
}
