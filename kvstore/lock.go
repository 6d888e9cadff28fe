package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// LockFileName is the advisory lock file kept next to the log
const LockFileName = "kvs.lock"

// dirLock is an exclusive advisory lock on a store directory,
// held from Open until Close
type dirLock struct {
	f *os.File
}

func lockDir(dir string) (*dirLock, error) {
	path := filepath.Join(dir, LockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open lock file: %w", err)
	}
	if err = lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	return &dirLock{f: f}, nil
}

// unlock is a no-op on nil lock
func (l *dirLock) unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	errClose := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return errClose
}
