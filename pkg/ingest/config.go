package ingest

import (
	"fmt"
	"runtime"
	"time"
)

// Config holds the tuning knobs of a pipeline.
type Config struct {
	// Workers is the number of concurrent Detect+Extract workers.
	Workers int
	// BatchSize is the maximum number of documents per store transaction.
	BatchSize int
	// FlushInterval commits a partial batch when it has been waiting this
	// long. Zero disables time-based flushes.
	FlushInterval time.Duration
	// QueueSize bounds the entries waiting for a worker. Together with
	// Workers it bounds the payloads held in memory.
	QueueSize int
}

// DefaultConfig sizes the worker pool to the available parallelism.
func DefaultConfig() Config {
	return Config{
		Workers:       runtime.GOMAXPROCS(0),
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
		QueueSize:     64,
	}
}

// Validate checks if the configuration is valid and returns an error if not.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("Workers must be positive, got %d", c.Workers)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BatchSize must be positive, got %d", c.BatchSize)
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("FlushInterval must be non-negative, got %s", c.FlushInterval)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QueueSize must be positive, got %d", c.QueueSize)
	}
	return nil
}
