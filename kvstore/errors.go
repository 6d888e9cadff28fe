package kvstore

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned by Remove when the key is not in the store
	ErrKeyNotFound = errors.New("key not found")

	// ErrClosed is returned by calls made after Close
	ErrClosed = errors.New("store is closed")

	// ErrLocked is returned by Open and Restore when another Store owns the directory
	ErrLocked = errors.New("store directory is locked by another process")
)

// SerializationError is a command payload that could not be encoded or decoded
type SerializationError struct {
	Msg string
	Err error
}

func (e *SerializationError) Error() string {
	if e.Err == nil {
		return "kvstore: bad command: " + e.Msg
	}
	return fmt.Sprintf("kvstore: bad command: %s: %s", e.Msg, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// CorruptLogError means the log doesn't replay cleanly.
// Offset is the position of the frame that failed to read.
type CorruptLogError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *CorruptLogError) Error() string {
	return fmt.Sprintf("kvstore: corrupt log %s at offset %d: %s", e.Path, e.Offset, e.Err)
}

func (e *CorruptLogError) Unwrap() error {
	return e.Err
}

// CompactError is returned by Set and Remove when the mutation was written
// and applied but the compaction that followed it failed.
type CompactError struct {
	Err error
}

func (e *CompactError) Error() string {
	return "kvstore: compaction failed: " + e.Err.Error()
}

func (e *CompactError) Unwrap() error {
	return e.Err
}
