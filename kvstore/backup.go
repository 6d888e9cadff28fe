package kvstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kjk/kvs/atomicfile"
	"github.com/kjk/kvs/u"
)

// Backup writes the minimal form of the log (one set record per live key)
// to path. Compressed with gzip, zstd or brotli if path ends with
// .gz, .zst or .br. path is replaced atomically.
func (s *Store) Backup(path string) (err error) {
	if s.closed {
		return ErrClosed
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("kvstore: backup: %w", err)
	}
	if absPath == s.path {
		return fmt.Errorf("kvstore: backup: %s is the live log", path)
	}

	f, err := atomicfile.New(absPath)
	if err != nil {
		return fmt.Errorf("kvstore: backup: %w", err)
	}
	defer f.Abort()

	res, err := writeCompressed(f, absPath, s.index)
	if err == nil {
		err = f.Close()
	}
	if err != nil {
		return fmt.Errorf("kvstore: backup to %s: %w", path, err)
	}
	s.logf("kvstore: backed up %d keys to %s (%d bytes)\n", res.records, path, f.Written())
	return nil
}

// writeCompressed writes frames for index to w, compressed as implied
// by the extension of path. The compressor is closed even on error.
func writeCompressed(w io.Writer, path string, index map[string]string) (replayStats, error) {
	cw, err := u.NewWriterMaybeCompressed(w, path)
	if err != nil {
		return replayStats{}, err
	}
	res, err := writeFrames(cw, index)
	errClose := cw.Close()
	if err != nil {
		return res, err
	}
	return res, errClose
}

// Restore replaces the log in dir with the content of a backup created
// with Backup. The backup is fully replayed before anything in dir is
// touched. Fails with ErrLocked if a Store is open in dir.
func Restore(dir string, backupPath string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("kvstore: create directory: %w", err)
	}
	lock, err := lockDir(dir)
	if err != nil {
		return err
	}
	defer lock.unlock()

	r, err := u.OpenFileMaybeCompressed(backupPath)
	if err != nil {
		return fmt.Errorf("kvstore: restore: %w", err)
	}
	defer u.CloseNoError(r)

	index := map[string]string{}
	// size of decompressed data is not known up-front, MaxFrameSize guards allocations
	res, err := replayFrames(r, -1, index)
	if err != nil {
		return replayError(backupPath, res, err)
	}

	f, err := atomicfile.New(filepath.Join(dir, DefaultFileName))
	if err != nil {
		return fmt.Errorf("kvstore: restore: %w", err)
	}
	defer f.Abort()
	if _, err = writeFrames(f, index); err != nil {
		return fmt.Errorf("kvstore: restore: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("kvstore: restore: %w", err)
	}
	return nil
}
