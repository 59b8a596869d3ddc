package docstore

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// StatusPolicy decides how events and re-imports of the document they
// reference compete for the effective status.
type StatusPolicy uint8

const (
	// PolicyLastCommitted lets whichever write was committed last decide.
	PolicyLastCommitted StatusPolicy = iota
	// PolicyEventsWin always applies every registered event on top of the
	// document's own status.
	PolicyEventsWin
)

func (p StatusPolicy) String() string {
	if p == PolicyEventsWin {
		return "events-win"
	}
	return "last-committed"
}

// ParseStatusPolicy accepts "last-committed" or "events-win".
func ParseStatusPolicy(s string) (StatusPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last-committed":
		return PolicyLastCommitted, nil
	case "events-win":
		return PolicyEventsWin, nil
	}
	return PolicyLastCommitted, fmt.Errorf("unknown status policy %q", s)
}

// Config holds the configuration for the document store.
type Config struct {
	// DataDir is the directory where BadgerDB will store its data.
	DataDir string

	// InMemory enables in-memory mode (useful for testing).
	InMemory bool

	// BlockCacheSize is the size of the block cache in bytes.
	BlockCacheSize int64

	// IndexCacheSize is the size of the index cache in bytes.
	IndexCacheSize int64

	// RecordCacheSize is the number of decoded records kept in the LRU
	// cache used by Get.
	RecordCacheSize int

	// Compression enables ZSTD compression of SST blocks.
	Compression bool

	// SyncWrites enables synchronous writes. A committed batch survives a
	// crash only when this is set.
	SyncWrites bool

	// MemTableSize is the size of the memtable in bytes. It also bounds the
	// largest batch a single transaction can hold.
	MemTableSize int64

	// Profile specifies the resource profile ("Ingest-Heavy", "Safe-Serving", "Low-Mem").
	Profile string

	// ReadOnly opens the store for queries only.
	ReadOnly bool

	// StoreRaw keeps the original XML payload next to each record.
	StoreRaw bool

	// StatusPolicy resolves events against re-imports.
	StatusPolicy StatusPolicy
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return fmt.Errorf("DataDir must be specified when InMemory is false")
	}
	if c.BlockCacheSize <= 0 {
		return fmt.Errorf("BlockCacheSize must be positive, got %d", c.BlockCacheSize)
	}
	if c.IndexCacheSize <= 0 {
		return fmt.Errorf("IndexCacheSize must be positive, got %d", c.IndexCacheSize)
	}
	if c.RecordCacheSize < 0 {
		return fmt.Errorf("RecordCacheSize must be non-negative, got %d", c.RecordCacheSize)
	}
	if c.MemTableSize < 0 {
		return fmt.Errorf("MemTableSize must be non-negative, got %d", c.MemTableSize)
	}
	switch c.Profile {
	case "", "Ingest-Heavy", "Safe-Serving", "Low-Mem":
	default:
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	return nil
}

// DefaultConfig returns a configuration suited to a desktop workstation.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:         dataDir,
		BlockCacheSize:  256 << 20,
		IndexCacheSize:  64 << 20,
		RecordCacheSize: 10000,
		Compression:     true,
		SyncWrites:      true,
		Profile:         "Ingest-Heavy",
		StoreRaw:        true,
	}
}

// InMemoryConfig returns a configuration for tests and throwaway stores.
func InMemoryConfig() *Config {
	cfg := DefaultConfig("")
	cfg.InMemory = true
	cfg.SyncWrites = false
	return cfg
}

// buildBadgerOptions converts Config to badger.Options based on Profile.
func buildBadgerOptions(cfg *Config) badger.Options {
	opts := badger.DefaultOptions(filepath.Join(cfg.DataDir, "badger"))
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	// Upsert reads the sequence counter and existing records before writing,
	// so concurrent writers must conflict rather than interleave.
	opts.DetectConflicts = true
	opts.ReadOnly = cfg.ReadOnly && !cfg.InMemory
	opts.SyncWrites = cfg.SyncWrites && !cfg.InMemory

	if cfg.Compression {
		opts.Compression = options.ZSTD
	} else {
		opts.Compression = options.None
	}

	switch cfg.Profile {
	case "Low-Mem":
		opts.ValueLogFileSize = 32 << 20
		opts.NumCompactors = 2
		opts.NumMemtables = 2
	case "Safe-Serving":
		opts.ValueLogFileSize = 64 << 20
		opts.NumCompactors = 2
	default:
		opts.ValueLogFileSize = 256 << 20
		opts.NumCompactors = 4
	}

	opts.BlockCacheSize = cfg.BlockCacheSize
	opts.IndexCacheSize = cfg.IndexCacheSize
	if cfg.MemTableSize > 0 {
		opts.MemTableSize = cfg.MemTableSize
	}
	return opts
}
