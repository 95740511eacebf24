package core

import "errors"

var (
	// ErrDirectoryUnavailable means the configured cache directory does
	// not exist and could not be statted.
	ErrDirectoryUnavailable = errors.New("cache directory unavailable")
	// ErrDirectoryCreationFailed means the cache directory or one of its
	// subdirectories could not be created.
	ErrDirectoryCreationFailed = errors.New("cache directory creation failed")
	// ErrWriteFailed means a data or index file could not be written.
	ErrWriteFailed = errors.New("cache write failed")
	// ErrReadFailed means a data file could not be read.
	ErrReadFailed = errors.New("cache read failed")
	// ErrIndexCorrupted means the index file could not be decoded.
	ErrIndexCorrupted = errors.New("cache index corrupted")
	// ErrEntryTooLarge means the entry exceeds the per-entry size cap.
	ErrEntryTooLarge = errors.New("cache entry too large")
)
