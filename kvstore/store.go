package kvstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultFileName is the name of the log file inside Store.Dir
	DefaultFileName = "kvs.db"

	// DefaultCompactRatio: rewrite the log once it holds 3x more records than live keys
	DefaultCompactRatio = 3
)

// Store is a key-value store backed by a single append-only log file.
// Set the exported fields and call OpenStore, or use Open.
// A Store is not safe for concurrent use.
type Store struct {
	// Dir is the directory holding the log. Use "." for current directory
	Dir string
	// FileName of the log, DefaultFileName if empty
	FileName string

	// if true, will call file.Sync() after every append
	SyncWrite bool

	// CompactRatio is how many records per live key we allow in the log
	// before rewriting it. DefaultCompactRatio if <= 0
	CompactRatio int

	// optional, receives informational messages (e.g. about compaction)
	Logf func(format string, args ...any)

	// optional, metrics are registered here with "kvstore_" prefix
	Registerer prometheus.Registerer

	path  string
	file  *os.File
	lock  *dirLock
	index map[string]string
	// number of frames in the log since last rewrite, not the number of live keys
	recs int
	// size of the log file in bytes
	size        int64
	compactions int
	buf         []byte
	metrics     *storeMetrics
	closed      bool
}

// Stats describes the current state of the store
type Stats struct {
	Keys        int   `json:"keys"`
	Records     int   `json:"records"`
	FileSize    int64 `json:"file_size"`
	Compactions int   `json:"compactions"`
}

// Open opens or creates a store in dir with default settings
func Open(dir string) (*Store, error) {
	s := &Store{Dir: dir}
	if err := OpenStore(s); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenStore creates the directory if needed, takes the directory lock
// and replays the log to build the index.
// On error nothing is held and s must not be used.
// Calling it on a Store that is already open fails and keeps it open.
func OpenStore(s *Store) (err error) {
	if s.Dir == "" {
		return fmt.Errorf("kvstore: directory is not set. For current directory, use '.'")
	}
	if s.file != nil || s.lock != nil {
		return fmt.Errorf("kvstore: store %s is already open", s.path)
	}
	if s.FileName == "" {
		s.FileName = DefaultFileName
	}
	if s.CompactRatio <= 0 {
		s.CompactRatio = DefaultCompactRatio
	}
	s.path, err = filepath.Abs(filepath.Join(s.Dir, s.FileName))
	if err != nil {
		return fmt.Errorf("kvstore: failed to get absolute path for log file: %w", err)
	}
	if err = os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("kvstore: create directory: %w", err)
	}

	s.lock, err = lockDir(s.Dir)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			s.releaseFiles()
		}
	}()

	s.file, err = os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("kvstore: open log: %w", err)
	}
	if err = s.replay(); err != nil {
		return err
	}

	s.metrics = newStoreMetrics()
	if err = s.metrics.register(s.Registerer); err != nil {
		return fmt.Errorf("kvstore: register metrics: %w", err)
	}
	s.metrics.update(s)
	s.closed = false
	return nil
}

// replay rebuilds index, recs and size from the log
func (s *Store) replay() error {
	st, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("kvstore: stat log: %w", err)
	}
	if _, err = s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("kvstore: seek log: %w", err)
	}
	s.index = map[string]string{}
	res, err := replayFrames(s.file, st.Size(), s.index)
	if err != nil {
		s.index = nil
		return replayError(s.path, res, err)
	}
	s.recs = res.records
	s.size = res.size
	return nil
}

func (s *Store) releaseFiles() error {
	var errClose error
	if s.file != nil {
		errClose = s.file.Close()
		s.file = nil
	}
	errUnlock := s.lock.unlock()
	s.lock = nil
	return errors.Join(errClose, errUnlock)
}

// Close releases the log file and the directory lock.
// It's safe to call multiple times and on nil Store.
func (s *Store) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	if s.metrics != nil {
		s.metrics.unregister()
	}
	return s.releaseFiles()
}

func (s *Store) checkWritable() error {
	if s.closed {
		return ErrClosed
	}
	if s.file == nil {
		return fmt.Errorf("kvstore: log %s is not open", s.path)
	}
	return nil
}

// Path returns absolute path of the log file
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of live keys
func (s *Store) Len() int {
	return len(s.index)
}

func (s *Store) Stats() Stats {
	return Stats{
		Keys:        len(s.index),
		Records:     s.recs,
		FileSize:    s.size,
		Compactions: s.compactions,
	}
}

// Get returns the value for key. It never does I/O.
func (s *Store) Get(key string) (string, bool) {
	if s.closed {
		return "", false
	}
	v, ok := s.index[key]
	return v, ok
}

// Set stores value under key, over-writing the previous value.
// The index is only updated after the record is in the log.
func (s *Store) Set(key, value string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.append(setCommand(key, value)); err != nil {
		return err
	}
	s.index[key] = value
	return s.maybeCompact()
}

// Remove deletes key and returns its value.
// Returns an error matching ErrKeyNotFound if key is not in the store,
// in which case nothing is written.
func (s *Store) Remove(key string) (string, error) {
	if err := s.checkWritable(); err != nil {
		return "", err
	}
	prev, ok := s.index[key]
	if !ok {
		return "", fmt.Errorf("kvstore: remove %q: %w", key, ErrKeyNotFound)
	}
	if err := s.append(removeCommand(key)); err != nil {
		return "", err
	}
	delete(s.index, key)
	return prev, s.maybeCompact()
}

// append writes a single frame at the end of the log.
// A partially written frame is truncated away so the log stays replayable.
func (s *Store) append(c Command) (err error) {
	defer func() {
		if err != nil {
			s.metrics.appendFailures.Inc()
		}
	}()

	s.buf, err = appendFrame(s.buf[:0], c)
	if err != nil {
		return err
	}
	// most frames are small, don't keep a big buffer around
	defer func() {
		if cap(s.buf) > 1024*1024 {
			s.buf = nil
		}
	}()

	off, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("kvstore: seek log: %w", err)
	}
	_, err = s.file.Write(s.buf)
	if err == nil && s.SyncWrite {
		err = s.file.Sync()
	}
	if err != nil {
		if errTrunc := s.file.Truncate(off); errTrunc != nil {
			err = errors.Join(err, errTrunc)
		}
		return fmt.Errorf("kvstore: append to log: %w", err)
	}
	s.recs++
	s.size = off + int64(len(s.buf))
	s.metrics.appends.Inc()
	s.metrics.logRecords.Set(float64(s.recs))
	s.metrics.logSize.Set(float64(s.size))
	return nil
}

func (s *Store) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}
