package kvstore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
)

// on-disk format of the log is a sequence of frames:
// [8 bytes big-endian payload length][payload: msgpack Command]
const frameHeaderSize = 8

// MaxFrameSize is the largest payload we accept when replaying a log
// whose total size is not known up front (e.g. a compressed backup)
const MaxFrameSize = 1 << 30

// appendFrame appends a full frame (header + payload) for c to b
func appendFrame(b []byte, c Command) ([]byte, error) {
	start := len(b)
	b = append(b, make([]byte, frameHeaderSize)...)
	b, err := c.MarshalMsg(b)
	if err != nil {
		return b[:start], err
	}
	n := len(b) - start - frameHeaderSize
	binary.BigEndian.PutUint64(b[start:], uint64(n))
	return b, nil
}

// replayStats is the result of a replay
type replayStats struct {
	records int
	size    int64
}

// replayFrames reads frames from r until a clean end-of-log and applies them to index.
// size is the total number of bytes in r, -1 if unknown.
// Errors are not wrapped here, the caller knows the path and uses replayError.
func replayFrames(r io.Reader, size int64, index map[string]string) (replayStats, error) {
	var res replayStats
	br := bufio.NewReaderSize(r, 64*1024)
	var hdr [frameHeaderSize]byte
	var payload []byte
	for {
		_, err := io.ReadFull(br, hdr[:])
		if err == io.EOF {
			// nothing read at frame boundary: clean end
			return res, nil
		}
		if err != nil {
			return res, readError("frame header", err)
		}
		n := binary.BigEndian.Uint64(hdr[:])
		remaining := size - res.size - frameHeaderSize
		if size >= 0 && n > uint64(remaining) {
			return res, fmt.Errorf("frame length %d exceeds remaining %d bytes", n, remaining)
		}
		if n > MaxFrameSize {
			return res, fmt.Errorf("frame length %d exceeds max frame size %d", n, MaxFrameSize)
		}
		// re-use payload buffer unless it grew too big
		if cap(payload) > 1024*1024 {
			payload = nil
		}
		if n > uint64(cap(payload)) {
			payload = make([]byte, n)
		} else {
			payload = payload[:n]
		}
		if _, err = io.ReadFull(br, payload); err != nil {
			return res, readError("frame payload", err)
		}
		c, err := decodeCommand(payload)
		if err != nil {
			return res, err
		}
		applyCommand(index, c)
		res.records++
		res.size += frameHeaderSize + int64(n)
	}
}

// readFailure is an I/O error from the underlying reader, as opposed
// to data that was read but doesn't form a valid frame
type readFailure struct {
	err error
}

func (e *readFailure) Error() string {
	return e.err.Error()
}

func (e *readFailure) Unwrap() error {
	return e.err
}

func readError(what string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("truncated %s: %w", what, io.ErrUnexpectedEOF)
	}
	return &readFailure{err: fmt.Errorf("reading %s: %w", what, err)}
}

// replayError converts an error from replayFrames of path into
// CorruptLogError, except for I/O errors which are only wrapped
func replayError(path string, res replayStats, err error) error {
	var rf *readFailure
	if errors.As(err, &rf) {
		return fmt.Errorf("kvstore: read %s at offset %d: %w", path, res.size, rf.err)
	}
	return &CorruptLogError{Path: path, Offset: res.size, Err: err}
}

func applyCommand(index map[string]string, c Command) {
	switch c.Op {
	case OpSet:
		index[c.Key] = c.Value
	case OpRemove:
		// removing a key that isn't there is a no-op
		delete(index, c.Key)
	}
}

// writeFrames writes one set frame per key in index, sorted by key.
// Returns number of frames and bytes written.
func writeFrames(w io.Writer, index map[string]string) (replayStats, error) {
	var res replayStats
	bw := bufio.NewWriterSize(w, 64*1024)
	var buf []byte
	var err error
	for _, k := range slices.Sorted(maps.Keys(index)) {
		buf, err = appendFrame(buf[:0], setCommand(k, index[k]))
		if err != nil {
			return res, err
		}
		if _, err = bw.Write(buf); err != nil {
			return res, err
		}
		res.records++
		res.size += int64(len(buf))
	}
	if err = bw.Flush(); err != nil {
		return res, err
	}
	return res, nil
}
