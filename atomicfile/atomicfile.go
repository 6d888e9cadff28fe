package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrAborted is returned by calls made after Abort()
	ErrAborted = errors.New("atomicfile: aborted")

	_ io.WriteCloser = &File{}
)

// File is a pending replacement of dstPath
type File struct {
	dstPath string
	dir     string
	tmp     *os.File
	tmpPath string
	written int64
	// first error we've seen, sticky
	err error
}

// New creates a temporary file next to path.
// Fails early if the directory doesn't exist.
func New(path string) (*File, error) {
	dir, name := filepath.Split(path)
	if name == "" {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &File{
		dstPath: path,
		dir:     dir,
		tmp:     tmp,
		tmpPath: tmp.Name(),
	}, nil
}

// TempPath is the path of the temporary file, for tests and error messages
func (f *File) TempPath() string {
	return f.tmpPath
}

// Written returns number of bytes written so far
func (f *File) Written() int64 {
	return f.written
}

func (f *File) fail(err error) error {
	if f.err == nil {
		f.err = err
	}
	_ = f.Close()
	return err
}

func (f *File) Write(d []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.tmp.Write(d)
	f.written += int64(n)
	if err != nil {
		return n, f.fail(err)
	}
	return n, nil
}

func (f *File) closed() bool {
	return f.tmp == nil
}

// Abort removes the temporary file without touching the destination.
// A no-op after Close(), so it's meant to be deferred.
func (f *File) Abort() {
	if f == nil || f.closed() {
		return
	}
	f.err = ErrAborted
	_ = f.Close()
}

// Close syncs and renames the temporary file over the destination.
// Calling it again returns the result of the first call.
func (f *File) Close() error {
	if f.closed() {
		return f.err
	}
	tmp := f.tmp
	f.tmp = nil

	errSync := tmp.Sync()
	errClose := tmp.Close()

	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(f.tmpPath)
		}
	}()

	if f.err != nil {
		return f.err
	}
	err := errors.Join(errSync, errClose)
	if err == nil {
		err = os.Rename(f.tmpPath, f.dstPath)
		renamed = err == nil
	}
	if renamed {
		// rename is only durable once the directory entry is synced;
		// not all platforms support syncing a directory so errors are ignored
		if d, _ := os.Open(f.dir); d != nil {
			_ = d.Sync()
			_ = d.Close()
		}
	}
	f.err = err
	return err
}
