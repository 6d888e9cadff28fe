package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	prev := Output
	Output = &buf
	t.Cleanup(func() {
		Output = prev
		Verbose = false
		Close()
	})
	return &buf
}

func TestLogf(t *testing.T) {
	buf := captureOutput(t)
	Logf("hello %s", "world")
	Logf("no args")
	assert.Equal(t, "hello world\nno args\n", buf.String())
}

func TestVerbosef(t *testing.T) {
	buf := captureOutput(t)
	Verbosef("hidden")
	assert.Empty(t, buf.String())
	Verbose = true
	Verbosef("shown %d", 1)
	assert.Equal(t, "shown 1\n", buf.String())
}

func TestIfErrf(t *testing.T) {
	buf := captureOutput(t)
	assert.False(t, IfErrf(nil))
	assert.Empty(t, buf.String())

	assert.True(t, IfErrf(errors.New("boom")))
	assert.True(t, strings.HasPrefix(buf.String(), "boom\n"), buf.String())
	// callstack includes this file
	assert.Contains(t, buf.String(), "log_test.go")

	buf.Reset()
	assert.True(t, IfErrf(errors.New("x"), "failed with %d", 42))
	assert.True(t, strings.HasPrefix(buf.String(), "failed with 42\n"), buf.String())
}

func TestInitWritesDailyFiles(t *testing.T) {
	captureOutput(t)
	dir := t.TempDir()
	var got []string
	Init(&Config{
		Dir:   dir,
		OnLog: func(s string) { got = append(got, s) },
	})
	Logf("to file")
	Errorf("an error")
	Close()

	day := time.Now().UTC().Format("2006-01-02") + ".txt"
	d, err := os.ReadFile(filepath.Join(dir, "log", day))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(d), "to file\nan error\n"), string(d))

	d, err = os.ReadFile(filepath.Join(dir, "errors", day))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(d), "an error\n"), string(d))
	require.Len(t, got, 2)
	assert.Equal(t, "to file\n", got[0])
}

func TestWriteDailyNil(t *testing.T) {
	var w *WriteDaily
	assert.NoError(t, w.WriteString("ignored"))
	assert.NoError(t, w.Close())
}
