package docstore

import "errors"

var (
	// ErrNotLoaded is returned by queries issued before Load completed.
	ErrNotLoaded = errors.New("store not loaded")

	// ErrNotFound is returned when no document matches the key.
	ErrNotFound = errors.New("document not found")

	// ErrSchemaTooNew is returned when the store was written by a newer
	// version of the program.
	ErrSchemaTooNew = errors.New("store schema is newer than supported")

	// ErrReadOnly is returned by writes to a store opened read-only.
	ErrReadOnly = errors.New("store is read-only")
)
