// Package logger is the leveled key/value logger used by ecpctl and the
// client components. Entries go to a console writer, an optional rotating
// file and a bounded in-memory ring.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	ERROR LogLevel = iota
	WARN
	INFO
	DEBUG
	TRACE
)

var levelNames = map[LogLevel]string{
	ERROR: "ERROR",
	WARN:  "WARN",
	INFO:  "INFO",
	DEBUG: "DEBUG",
	TRACE: "TRACE",
}

// DefaultFileName is the active log file inside the log directory.
const DefaultFileName = "ecpctl.log"

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Context   map[string]interface{}
}

// RotationPolicy defines when rotated files are created and pruned.
type RotationPolicy struct {
	Enabled bool
	// MaxSize is the active file size in bytes that triggers a rotation.
	MaxSize    int64
	MaxAgeDays int
	MaxFiles   int
}

// DefaultRotation rotates at 10 MiB and keeps five backups for a week.
func DefaultRotation() RotationPolicy {
	return RotationPolicy{Enabled: true, MaxSize: 10 << 20, MaxAgeDays: 7, MaxFiles: 5}
}

// Options configures New.
type Options struct {
	Level LogLevel
	// Dir enables file output when non-empty.
	Dir string
	// FileName defaults to DefaultFileName.
	FileName string
	// BufferSize bounds the in-memory ring; zero selects 500.
	BufferSize int
	// Console receives formatted lines; nil disables console output.
	Console  io.Writer
	Rotation *RotationPolicy
	Now      func() time.Time
}

type rateLimiter struct {
	lastLog  time.Time
	interval time.Duration
}

// Logger provides structured logging with levels
type Logger struct {
	mu            sync.Mutex
	level         LogLevel
	dir           string
	fileName      string
	file          *os.File
	buffer        []LogEntry
	next          int
	full          bool
	console       io.Writer
	rotation      RotationPolicy
	rateLimiters  map[string]*rateLimiter
	now           func() time.Time
	droppedWrites int
}

// New creates a new Logger instance
func New(opts Options) *Logger {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 500
	}
	if opts.FileName == "" {
		opts.FileName = DefaultFileName
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rotation := DefaultRotation()
	if opts.Rotation != nil {
		rotation = *opts.Rotation
	}
	return &Logger{
		level:        opts.Level,
		dir:          opts.Dir,
		fileName:     opts.FileName,
		buffer:       make([]LogEntry, opts.BufferSize),
		console:      opts.Console,
		rotation:     rotation,
		rateLimiters: make(map[string]*rateLimiter),
		now:          opts.Now,
	}
}


func (l *Logger) Error(msg string, context ...interface{}) { l.log(ERROR, msg, context...) }
func (l *Logger) Warn(msg string, context ...interface{})  { l.log(WARN, msg, context...) }
func (l *Logger) Info(msg string, context ...interface{})  { l.log(INFO, msg, context...) }
func (l *Logger) Debug(msg string, context ...interface{}) { l.log(DEBUG, msg, context...) }
func (l *Logger) Trace(msg string, context ...interface{}) { l.log(TRACE, msg, context...) }

// WarnRateLimited logs a warning at most once per interval for key.
func (l *Logger) WarnRateLimited(key string, interval time.Duration, msg string, context ...interface{}) {
	l.mu.Lock()
	limiter, ok := l.rateLimiters[key]
	if !ok {
		limiter = &rateLimiter{}
		l.rateLimiters[key] = limiter
	}
	limiter.interval = interval
	now := l.now()
	if !limiter.lastLog.IsZero() && now.Sub(limiter.lastLog) < limiter.interval {
		l.mu.Unlock()
		return
	}
	limiter.lastLog = now
	l.mu.Unlock()

	l.log(WARN, msg, context...)
}

func (l *Logger) log(level LogLevel, msg string, context ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}

	ctx := make(map[string]interface{}, len(context)/2)
	for i := 0; i+1 < len(context); i += 2 {
		if key, ok := context[i].(string); ok {
			ctx[key] = context[i+1]
		}
	}
	if len(context)%2 == 1 {
		ctx["!extra"] = context[len(context)-1]
	}

	entry := LogEntry{Timestamp: l.now(), Level: level, Message: msg, Context: ctx}

	l.buffer[l.next] = entry
	l.next = (l.next + 1) % len(l.buffer)
	if l.next == 0 {
		l.full = true
	}

	line := FormatEntry(entry)
	if l.console != nil {
		fmt.Fprintln(l.console, line)
	}
	if l.dir != "" {
		l.writeToFile(line)
	}
}

func (l *Logger) writeToFile(line string) {
	if l.file == nil {
		if err := os.MkdirAll(l.dir, 0o755); err != nil {
			l.droppedWrites++
			return
		}
		f, err := os.OpenFile(l.filePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.droppedWrites++
			return
		}
		l.file = f
	}
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		l.droppedWrites++
		return
	}
	if l.shouldRotate() {
		l.rotate()
	}
}

func (l *Logger) filePath() string {
	return filepath.Join(l.dir, l.fileName)
}

func (l *Logger) backupPattern() string {
	base := strings.TrimSuffix(l.fileName, filepath.Ext(l.fileName))
	return filepath.Join(l.dir, base+"_*"+filepath.Ext(l.fileName))
}

// FormatEntry renders an entry as one line with context keys sorted.
func FormatEntry(entry LogEntry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp.Format(time.RFC3339))
	b.WriteString(" [")
	b.WriteString(levelNames[entry.Level])
	b.WriteString("] ")
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Context))
	for k := range entry.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Context[k])
	}
	return b.String()
}

func (l *Logger) shouldRotate() bool {
	if !l.rotation.Enabled || l.file == nil || l.rotation.MaxSize <= 0 {
		return false
	}
	stat, err := l.file.Stat()
	if err != nil {
		return false
	}
	return stat.Size() >= l.rotation.MaxSize
}

// rotate renames the active file to a timestamped backup and prunes old
// backups. The next write reopens the active file.
func (l *Logger) rotate() {
	if l.file != nil {
		l.file.Close()
		l.file = nil
		base := strings.TrimSuffix(l.fileName, filepath.Ext(l.fileName))
		stamp := l.now().Format("20060102_150405.000000000")
		os.Rename(l.filePath(), filepath.Join(l.dir, base+"_"+stamp+filepath.Ext(l.fileName)))
	}
	l.pruneBackups()
}

func (l *Logger) pruneBackups() {
	files, err := filepath.Glob(l.backupPattern())
	if err != nil {
		return
	}
	sort.Strings(files)

	kept := files[:0]
	if l.rotation.MaxAgeDays > 0 {
		cutoff := l.now().AddDate(0, 0, -l.rotation.MaxAgeDays)
		for _, f := range files {
			if stat, err := os.Stat(f); err == nil && stat.ModTime().Before(cutoff) {
				os.Remove(f)
				continue
			}
			kept = append(kept, f)
		}
	} else {
		kept = files
	}

	if l.rotation.MaxFiles > 0 && len(kept) > l.rotation.MaxFiles {
		for _, f := range kept[:len(kept)-l.rotation.MaxFiles] {
			os.Remove(f)
		}
	}
}

// Entries returns the buffered entries, oldest first.
func (l *Logger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entriesLocked()
}

func (l *Logger) entriesLocked() []LogEntry {
	if !l.full {
		out := make([]LogEntry, l.next)
		copy(out, l.buffer[:l.next])
		return out
	}
	out := make([]LogEntry, 0, len(l.buffer))
	out = append(out, l.buffer[l.next:]...)
	return append(out, l.buffer[:l.next]...)
}

// Filtered returns buffered entries at or above the given severity.
func (l *Logger) Filtered(minLevel LogLevel) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if e.Level <= minLevel {
			out = append(out, e)
		}
	}
	return out
}

// Copy writes the buffered entries at or above minLevel to w.
func (l *Logger) Copy(w io.Writer, minLevel LogLevel) error {
	for _, entry := range l.Filtered(minLevel) {
		if _, err := fmt.Fprintln(w, FormatEntry(entry)); err != nil {
			return err
		}
	}
	return nil
}

// DroppedWrites counts file writes that failed.
func (l *Logger) DroppedWrites() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.droppedWrites
}

// Close closes the current log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ParseLevel converts a level name, in any case, to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return ERROR, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "INFO", "":
		return INFO, nil
	case "DEBUG":
		return DEBUG, nil
	case "TRACE":
		return TRACE, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

func (level LogLevel) String() string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(level))
}
