//go:build !unix && !windows

package kvstore

import "os"

// no advisory locking on this platform, single owner is up to the caller
func lockFile(f *os.File) error {
	return nil
}

func unlockFile(f *os.File) error {
	return nil
}
