package kvstore

import (
	"errors"
	"fmt"
	"maps"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixed seed so that failures can be reproduced
var rng = rand.New(rand.NewSource(20261014))

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func requireGet(t *testing.T, s *Store, key string, exp string) {
	t.Helper()
	v, ok := s.Get(key)
	require.True(t, ok, "key %q not found", key)
	require.Equal(t, exp, v, "key %q", key)
}

func requireMissing(t *testing.T, s *Store, key string) {
	t.Helper()
	v, ok := s.Get(key)
	require.False(t, ok, "key %q should be missing, got %q", key, v)
}

func TestScenario(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))
	requireGet(t, s, "a", "1")

	v, err := s.Remove("a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	requireMissing(t, s, "a")

	_, err = s.Remove("a")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.NoError(t, s.Close())

	s = openTestStore(t, dir)
	requireGet(t, s, "b", "2")
	requireMissing(t, s, "a")
}

func TestOpenCreatesDirAndFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	s := openTestStore(t, dir)
	assert.Equal(t, 0, s.Len())
	assert.FileExists(t, filepath.Join(dir, DefaultFileName))
	assert.FileExists(t, filepath.Join(dir, LockFileName))
	assert.True(t, filepath.IsAbs(s.Path()))
	assert.Equal(t, filepath.Join(dir, DefaultFileName), s.Path())
}

func TestOpenStoreRequiresDir(t *testing.T) {
	err := OpenStore(&Store{})
	assert.Error(t, err)
}

func TestOpenStoreCustomFileName(t *testing.T) {
	dir := t.TempDir()
	s := &Store{Dir: dir, FileName: "custom.log", SyncWrite: true}
	require.NoError(t, OpenStore(s))
	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(dir, "custom.log"))
	assert.NoFileExists(t, filepath.Join(dir, DefaultFileName))

	s = &Store{Dir: dir, FileName: "custom.log"}
	require.NoError(t, OpenStore(s))
	defer s.Close()
	requireGet(t, s, "k", "v")
}

func TestLastWriteWins(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	require.NoError(t, s.Set("k", "a"))
	require.NoError(t, s.Set("k", "b"))
	requireGet(t, s, "k", "b")
	assert.Equal(t, 1, s.Len())
}

func TestReadStability(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	require.NoError(t, s.Set("k", "v"))
	v1, ok1 := s.Get("k")
	v2, ok2 := s.Get("k")
	assert.Equal(t, v1, v2)
	assert.Equal(t, ok1, ok2)
	_, ok1 = s.Get("missing")
	_, ok2 = s.Get("missing")
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestRemoveMissingKey(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))
	before := s.Stats()

	_, err := s.Remove("c")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.Contains(t, err.Error(), `"c"`)

	// nothing written, nothing else changed
	assert.Equal(t, before, s.Stats())
	requireGet(t, s, "a", "1")
	requireGet(t, s, "b", "2")
}

func TestEmptyKeyAndValue(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	require.NoError(t, s.Set("", "empty key"))
	require.NoError(t, s.Set("empty value", ""))
	require.NoError(t, s.Close())

	s = openTestStore(t, dir)
	requireGet(t, s, "", "empty key")
	requireGet(t, s, "empty value", "")
}

func randomKey(nKeys int) string {
	return fmt.Sprintf("key-%d", rng.Intn(nKeys))
}

// applies random sets and removes to s and to a plain map
func applyRandomOps(t *testing.T, s *Store, exp map[string]string, nOps int, nKeys int) {
	t.Helper()
	for i := 0; i < nOps; i++ {
		k := randomKey(nKeys)
		if rng.Intn(3) == 0 {
			v, err := s.Remove(k)
			expV, ok := exp[k]
			if ok {
				require.NoError(t, err)
				require.Equal(t, expV, v)
				delete(exp, k)
			} else {
				require.ErrorIs(t, err, ErrKeyNotFound)
			}
			continue
		}
		v := fmt.Sprintf("value-%d-%d", i, rng.Intn(1000))
		require.NoError(t, s.Set(k, v))
		exp[k] = v
	}
}

func requireSameContent(t *testing.T, s *Store, exp map[string]string) {
	t.Helper()
	require.Equal(t, len(exp), s.Len())
	require.True(t, maps.Equal(exp, s.index))
	for k, v := range exp {
		requireGet(t, s, k, v)
	}
}

func TestReplayEquivalence(t *testing.T) {
	dir := t.TempDir()
	exp := map[string]string{}
	for round := 0; round < 5; round++ {
		s := openTestStore(t, dir)
		requireSameContent(t, s, exp)
		applyRandomOps(t, s, exp, 500, 50)
		requireSameContent(t, s, exp)
		require.NoError(t, s.Close())
	}
}

func TestClosed(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Close())
	// closing twice is fine
	require.NoError(t, s.Close())

	requireMissing(t, s, "k")
	assert.ErrorIs(t, s.Set("k", "v2"), ErrClosed)
	_, err = s.Remove("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Compact(), ErrClosed)

	var nilStore *Store
	assert.NoError(t, nilStore.Close())
}

func TestDirectoryIsLocked(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	_, err := Open(dir)
	require.ErrorIs(t, err, ErrLocked)

	// the first store is unaffected
	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Close())

	s2 := openTestStore(t, dir)
	requireGet(t, s2, "k", "v")
}

func TestOpenStoreTwiceKeepsLock(t *testing.T) {
	dir := t.TempDir()
	s := &Store{Dir: dir}
	require.NoError(t, OpenStore(s))
	require.NoError(t, s.Set("k", "v"))

	err := OpenStore(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already open")

	// still usable and Close releases the directory
	requireGet(t, s, "k", "v")
	require.NoError(t, s.Set("k2", "v2"))
	require.NoError(t, s.Close())

	s2 := openTestStore(t, dir)
	requireGet(t, s2, "k", "v")
	requireGet(t, s2, "k2", "v2")
}

func corruptLog(t *testing.T, dir string, f func(d []byte) []byte) {
	t.Helper()
	path := filepath.Join(dir, DefaultFileName)
	d, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, f(d), 0644))
}

func TestOpenCorruptLog(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))
	goodSize := s.Stats().FileSize
	require.NoError(t, s.Close())

	// torn tail: half of a header
	corruptLog(t, dir, func(d []byte) []byte {
		return append(d, 0, 0, 0)
	})
	_, err := Open(dir)
	var cerr *CorruptLogError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, goodSize, cerr.Offset)
	assert.Equal(t, filepath.Join(dir, DefaultFileName), cerr.Path)

	// a failed open releases the lock
	corruptLog(t, dir, func(d []byte) []byte {
		return d[:goodSize]
	})
	s = openTestStore(t, dir)
	requireGet(t, s, "a", "1")
	requireGet(t, s, "b", "2")
}

func TestOpenGarbagePayload(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Close())

	corruptLog(t, dir, func(d []byte) []byte {
		// keep the length, flip the array header
		d[frameHeaderSize] = 0xc1
		return d
	})
	_, err := Open(dir)
	var cerr *CorruptLogError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	var serr *SerializationError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, int64(0), cerr.Offset)
}

func TestFailedAppendLeavesIndexUnchanged(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	require.NoError(t, s.Set("a", "1"))
	before := s.Stats()

	// pull the file out from under the store
	require.NoError(t, s.file.Close())

	err := s.Set("a", "2")
	require.Error(t, err)
	requireGet(t, s, "a", "1")

	_, err = s.Remove("a")
	require.Error(t, err)
	requireGet(t, s, "a", "1")
	assert.Equal(t, before, s.Stats())

	s.file = nil
	require.NoError(t, s.Close())
	s = openTestStore(t, dir)
	requireGet(t, s, "a", "1")
}

func TestStats(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))
	require.NoError(t, s.Set("a", "3"))
	st := s.Stats()
	assert.Equal(t, 2, st.Keys)
	assert.Equal(t, 3, st.Records)
	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, info.Size(), st.FileSize)
}
