package logbook

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MaxLines bounds the in-memory tail kept for on-screen display.
const MaxLines = 200

// Logbook is the session's append-only event log. Every entry is kept in a
// bounded in-memory tail and, when a path is configured, appended to a file.
// All methods are safe for concurrent use and tolerate a nil receiver.
type Logbook struct {
	path  string
	now   func() time.Time
	echo  io.Writer
	mu    sync.Mutex
	lines []string
}

// Option customizes a Logbook during construction.
type Option func(*Logbook)

// WithClock overrides the clock used for entry timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Logbook) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithEcho also writes every entry to w, e.g. stdout for headless runs.
func WithEcho(w io.Writer) Option {
	return func(l *Logbook) {
		l.echo = w
	}
}

// New creates a logbook that mirrors entries to the provided path.
// An empty path keeps the log in memory only.
func New(path string, opts ...Option) (*Logbook, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("logbook: ensure dir: %w", err)
		}
	}
	l := &Logbook{path: path, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// SessionPath returns the per-run log file name inside logsDir.
func SessionPath(logsDir string, started time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("cli_run_%s.log", started.Format("20060102_150405")))
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log appends a single entry formatted as "HH:MM:SS | message".
func (l *Logbook) Log(message string) {
	if l == nil {
		return
	}
	message = strings.TrimRight(message, "\r\n")
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s | %s", l.now().Format("15:04:05"), message)
	l.lines = append(l.lines, line)
	if over := len(l.lines) - MaxLines; over > 0 {
		trimmed := make([]string, MaxLines)
		copy(trimmed, l.lines[over:])
		l.lines = trimmed
	}
	if l.echo != nil {
		_, _ = io.WriteString(l.echo, line+"\n")
	}
	if l.path == "" {
		return
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line + "\n")
}

// Logf formats and appends an entry.
func (l *Logbook) Logf(format string, args ...any) {
	l.Log(fmt.Sprintf(format, args...))
}

// Lines returns a copy of every line currently held in memory.
func (l *Logbook) Lines() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Tail returns up to maxLines of the most recent entries.
func (l *Logbook) Tail(maxLines int) []string {
	if l == nil || maxLines <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if len(l.lines) > maxLines {
		start = len(l.lines) - maxLines
	}
	out := make([]string, len(l.lines)-start)
	copy(out, l.lines[start:])
	return out
}
