// Package docstore persists normalized fiscal documents in BadgerDB.
//
// The store is the only shared mutable resource of the application: every
// write goes through Upsert (one transaction per batch) or Delete, and
// every read happens inside a snapshot transaction, so a reader never sees
// part of a batch.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// Recorder receives store measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveCommit(elapsed time.Duration, res UpsertResult, err error)
	SetDocuments(n int)
}

// Store is a BadgerDB-backed document store.
type Store struct {
	db       *badger.DB
	cfg      Config
	cache    *lru.Cache[fiscal.Key, cachedRecord]
	loaded   atomic.Bool
	logger   *slog.Logger
	recorder Recorder
}

// cachedRecord pairs a decoded record with the badger version it was
// decoded from, so a stale entry is detected without reading the value.
type cachedRecord struct {
	version uint64
	rec     *record
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// Open opens or creates a store. Opening never scans existing records;
// call Load before querying.
func Open(cfg *Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Store{cfg: *cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("opening document store",
		"dataDir", cfg.DataDir,
		"inMemory", cfg.InMemory,
		"profile", cfg.Profile,
		"readOnly", cfg.ReadOnly,
	)

	badgerOpts := buildBadgerOptions(cfg)
	badgerOpts.Logger = &badgerLogger{logger: s.logger}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	s.db = db

	if cfg.RecordCacheSize > 0 {
		cache, err := lru.New[fiscal.Key, cachedRecord](cfg.RecordCacheSize)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create record cache: %w", err)
		}
		s.cache = cache
	}

	if !cfg.ReadOnly {
		if err := s.ensureSchema(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// ensureSchema stamps a new store and rejects stores written by a newer
// schema.
func (s *Store) ensureSchema() error {
	return s.withWriteTxn(func(txn *badger.Txn) error {
		v, err := readUint64(txn, keySchemaVersion)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(keySchemaVersion, encodeUint64(schemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		if v > schemaVersion {
			return fmt.Errorf("%w: store has %d, supported %d", ErrSchemaTooNew, v, schemaVersion)
		}
		return nil
	})
}

// Load makes the store queryable. It walks every record once, reporting
// progress as it goes, and warms the record cache. Load is cancellable; a
// cancelled load leaves the store unloaded.
func (s *Store) Load(ctx context.Context, progress fiscal.ProgressFunc) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()
	var p fiscal.Progress

	err := s.withReadTxn(func(txn *badger.Txn) error {
		v, err := readUint64(txn, keySchemaVersion)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		if v > schemaVersion {
			return fmt.Errorf("%w: store has %d, supported %d", ErrSchemaTooNew, v, schemaVersion)
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte{recordPrefix}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.Scanned++

			item := it.Item()
			var rec *record
			err := item.Value(func(val []byte) error {
				var derr error
				rec, derr = decodeRecord(val)
				return derr
			})
			if err != nil {
				p.Errors++
				s.logger.Warn("skipping undecodable record", "key", decodeTypedKey(item.KeyCopy(nil)).String(), "error", err)
			} else {
				p.Extracted++
				p.Committed++
				if s.cache != nil && p.Committed <= s.cfg.RecordCacheSize {
					s.cache.Add(rec.Key(), cachedRecord{version: item.Version(), rec: rec})
				}
			}
			if progress != nil && p.Scanned%100 == 0 {
				progress(p)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if progress != nil {
		progress(p)
	}
	s.loaded.Store(true)
	if s.recorder != nil {
		s.recorder.SetDocuments(p.Committed)
	}
	s.logger.Info("document store loaded",
		"documents", p.Committed,
		"errors", p.Errors,
		"elapsed", time.Since(start),
	)
	return p.Committed, nil
}

// Loaded reports whether Load has completed.
func (s *Store) Loaded() bool {
	return s.loaded.Load()
}

// Count returns the number of stored documents. It does not require Load.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.withReadTxn(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{recordPrefix}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Clear removes every document and index, keeping the store open and loaded.
func (s *Store) Clear(ctx context.Context) error {
	if s.cfg.ReadOnly {
		return ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Warn("clearing document store", "dataDir", s.cfg.DataDir)
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("failed to drop all: %w", err)
	}
	if s.cache != nil {
		s.cache.Purge()
	}
	if s.recorder != nil {
		s.recorder.SetDocuments(0)
	}
	return s.ensureSchema()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info("closing document store", "dataDir", s.cfg.DataDir)
	return s.db.Close()
}

// Config returns a copy of the store configuration.
func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) requireLoaded() error {
	if !s.loaded.Load() {
		return ErrNotLoaded
	}
	return nil
}

func (s *Store) invalidate(keys []fiscal.Key) {
	if s.cache == nil {
		return
	}
	for _, k := range keys {
		s.cache.Remove(k)
	}
}
