package kvstore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kjk/kvs/atomicfile"
)

// needsCompaction is the trigger policy: the log holds ratio times
// more records than there are live keys
func needsCompaction(recs, liveKeys, ratio int) bool {
	return recs >= ratio*liveKeys
}

// maybeCompact runs after every successful append
func (s *Store) maybeCompact() error {
	s.metrics.update(s)
	if !needsCompaction(s.recs, len(s.index), s.CompactRatio) {
		return nil
	}
	if err := s.rewrite(); err != nil {
		return &CompactError{Err: err}
	}
	return nil
}

// Compact rewrites the log to one set record per live key
func (s *Store) Compact() error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.rewrite(); err != nil {
		return &CompactError{Err: err}
	}
	return nil
}

// rewrite writes the minimal log to a temporary file and renames it
// over the current log. If that fails before the rename, the old log
// is re-opened and the store keeps working with it.
func (s *Store) rewrite() (err error) {
	timeStart := time.Now()
	recsBefore, sizeBefore := s.recs, s.size

	f, err := atomicfile.New(s.path)
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	defer f.Abort()

	res, err := writeFrames(f, s.index)
	if err != nil {
		return fmt.Errorf("write temp log %s: %w", f.TempPath(), err)
	}

	// the live handle must be closed before the rename on windows
	errClose := s.file.Close()
	s.file = nil
	err = f.Close()
	if errReopen := s.reopen(); errReopen != nil {
		return errors.Join(err, errClose, errReopen)
	}
	if err != nil {
		return fmt.Errorf("replace log: %w", err)
	}

	s.recs = res.records
	s.size = res.size
	s.compactions++
	dur := time.Since(timeStart)
	s.metrics.compactions.Inc()
	s.metrics.compactionDuration.Observe(dur.Seconds())
	s.metrics.update(s)
	s.logf("kvstore: compacted %s from %d records (%d bytes) to %d records (%d bytes) in %s\n", s.path, recsBefore, sizeBefore, s.recs, s.size, dur)
	return nil
}

func (s *Store) reopen() error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("re-open log: %w", err)
	}
	s.file = f
	return nil
}
