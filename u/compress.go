package u

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Compression is picked from file extension
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionBrotli
)

// CompressionFromPath returns compression implied by extension of path:
// .gz, .zst / .zstd, .br
func CompressionFromPath(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return CompressionGzip
	case ".zst", ".zstd":
		return CompressionZstd
	case ".br":
		return CompressionBrotli
	}
	return CompressionNone
}

// implement io.ReadCloser over a decompressing reader.
// closeFn releases the decompressor, f is closed after it
type readerWrappedFile struct {
	f       *os.File
	r       io.Reader
	closeFn func()
}

func (rc *readerWrappedFile) Close() error {
	if rc.closeFn != nil {
		rc.closeFn()
	}
	return rc.f.Close()
}

func (rc *readerWrappedFile) Read(p []byte) (int, error) {
	return rc.r.Read(p)
}

// OpenFileMaybeCompressed opens a file that might be compressed with gzip,
// zstd or brotli, based on file extension
func OpenFileMaybeCompressed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch CompressionFromPath(path) {
	case CompressionGzip:
		r, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &readerWrappedFile{f: f, r: r, closeFn: func() { _ = r.Close() }}, nil
	case CompressionZstd:
		r, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &readerWrappedFile{f: f, r: r, closeFn: r.Close}, nil
	case CompressionBrotli:
		return &readerWrappedFile{f: f, r: brotli.NewReader(f)}, nil
	}
	return f, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

// NewWriterMaybeCompressed wraps w in a compressor picked by extension of path.
// Close() flushes the compressor but doesn't close w.
func NewWriterMaybeCompressed(w io.Writer, path string) (io.WriteCloser, error) {
	switch CompressionFromPath(path) {
	case CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case CompressionZstd:
		zw, err := zstdNewWriter(w)
		if err != nil {
			return nil, err
		}
		return zw, nil
	case CompressionBrotli:
		return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
	}
	return nopWriteCloser{w}, nil
}

func zstdNewWriter(dst io.Writer) (*zstd.Encoder, error) {
	// zstd.SpeedBestCompression is much slower and not much better
	return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
}
