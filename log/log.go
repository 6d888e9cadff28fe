package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	log       *WriteDaily
	errorsLog *WriteDaily

	// Output is where Logf() prints. stderr so that it doesn't mix
	// with command output on stdout
	Output io.Writer = os.Stderr

	// if true, Verbosef() will log messages
	Verbose bool

	onLog func(s string)
)

// WriteDaily writes to a file per day, named YYYY-MM-DD.txt
type WriteDaily struct {
	Dir         string
	currentDate int // YYYYMMDD format
	file        *os.File
	mu          sync.Mutex
}

func NewWriteDaily(dir string) *WriteDaily {
	return &WriteDaily{
		Dir: dir,
	}
}

// dayFromTime converts a time.Time to YYYYMMDD integer format
func dayFromTime(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// writer returns today's log file, creating it if needed
func (w *WriteDaily) writer(now time.Time) (io.Writer, error) {
	today := dayFromTime(now)
	if w.file != nil && w.currentDate != today {
		if err := w.close(); err != nil {
			return nil, err
		}
	}
	if w.file == nil {
		if err := os.MkdirAll(w.Dir, 0755); err != nil {
			return nil, err
		}
		path := filepath.Join(w.Dir, now.Format("2006-01-02")+".txt")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		w.file = f
		w.currentDate = today
	}
	return w.file, nil
}

// WriteString writes a string to the daily log file
// it's safe to call on nil receiver
func (w *WriteDaily) WriteString(s string) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	wr, err := w.writer(time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = io.WriteString(wr, s)
	return err
}

func (w *WriteDaily) close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.currentDate = 0
	return err
}

// Close closes the daily log file
// it's safe to call on nil receiver
func (w *WriteDaily) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		_ = w.file.Sync()
	}
	return w.close()
}

type Config struct {
	// directory where log files are stored, in "log" and "errors" sub-directories
	// if empty, we only log to Output
	Dir string
	// called for every Logf() call
	OnLog func(s string)
}

// Init initializes logging to files
func Init(config *Config) {
	onLog = config.OnLog
	if config.Dir == "" {
		return
	}
	log = NewWriteDaily(filepath.Join(config.Dir, "log"))
	errorsLog = NewWriteDaily(filepath.Join(config.Dir, "errors"))
}

// Close closes log files
func Close() {
	_ = log.Close()
	_ = errorsLog.Close()
	log = nil
	errorsLog = nil
	onLog = nil
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func Logf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	s = ensureNewline(s)
	fmt.Fprint(Output, s)
	_ = log.WriteString(s)
	if onLog != nil {
		onLog(s)
	}
}

func Verbosef(format string, args ...any) {
	if !Verbose {
		return
	}
	Logf(format, args...)
}

func GetCallstackFrames(skip int) []string {
	var callers [32]uintptr
	n := runtime.Callers(skip+1, callers[:])
	frames := runtime.CallersFrames(callers[:n])
	var cs []string
	for {
		frame, more := frames.Next()
		if !more {
			break
		}
		s := frame.File + ":" + strconv.Itoa(frame.Line)
		cs = append(cs, s)
	}
	return cs
}

func GetCallstack(skip int) string {
	frames := GetCallstackFrames(skip + 1)
	return strings.Join(frames, "\n")
}

// Errorf logs an error message along with the callstack
func Errorf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	cs := GetCallstack(2)
	s = ensureNewline(s) + cs + "\n"
	Logf("%s", s)
	_ = errorsLog.WriteString(s)
}

// if err != nil, log and return true
// IfErrf(err) => logs err.Error()
// IfErrf(err, "error is: %v", err) => logs message formatted
func IfErrf(err error, a ...any) bool {
	if err == nil {
		return false
	}
	if len(a) == 0 {
		Errorf("%s", err.Error())
		return true
	}
	s, ok := a[0].(string)
	if !ok {
		s = fmt.Sprintf("%s", a[0])
	}
	if len(a) > 1 {
		s = fmt.Sprintf(s, a[1:]...)
	}
	Errorf("%s", s)
	return true
}
