package logbook

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 9, 5, 7, 0, time.UTC)
}

func TestLogFormatsTimestampAndMirrorsToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Logs", "session.log")
	book, err := New(path, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Logf("Running: %s", "xcodebuild archive")
	lines := book.Lines()
	if len(lines) != 1 {
		t.Fatalf("len(lines) = %d, want 1", len(lines))
	}
	if lines[0] != "09:05:07 | Running: xcodebuild archive" {
		t.Fatalf("line = %q", lines[0])
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.TrimSpace(string(data)) != lines[0] {
		t.Fatalf("file content = %q", string(data))
	}
}

func TestTailReturnsRecentLines(t *testing.T) {
	book, err := New("")
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Logf("entry-%d", i)
	}
	lines := book.Tail(3)
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.HasSuffix(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
	if got := book.Tail(0); got != nil {
		t.Fatalf("Tail(0) = %v, want nil", got)
	}
}

func TestLinesAreBoundedToMostRecent(t *testing.T) {
	book, err := New("")
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < MaxLines+50; i++ {
		book.Logf("entry-%d", i)
	}
	lines := book.Lines()
	if len(lines) != MaxLines {
		t.Fatalf("len(lines) = %d, want %d", len(lines), MaxLines)
	}
	if !strings.HasSuffix(lines[0], "entry-50") {
		t.Fatalf("oldest kept line = %q, want entry-50", lines[0])
	}
	if !strings.HasSuffix(lines[MaxLines-1], "entry-249") {
		t.Fatalf("newest line = %q, want entry-249", lines[MaxLines-1])
	}
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	book, err := New("")
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				book.Logf("worker-%d-%d", w, i)
			}
		}(w)
	}
	wg.Wait()
	lines := book.Lines()
	if len(lines) != 100 {
		t.Fatalf("len(lines) = %d, want 100", len(lines))
	}
	seen := map[string]bool{}
	for _, line := range lines {
		if seen[line[11:]] {
			t.Fatalf("duplicate entry %q", line)
		}
		seen[line[11:]] = true
	}
}

func TestNilLogbookIsInert(t *testing.T) {
	var book *Logbook
	book.Log("ignored")
	if book.Lines() != nil || book.Tail(3) != nil || book.Path() != "" {
		t.Fatalf("nil logbook should be inert")
	}
}

func TestSessionPathUsesTimestamp(t *testing.T) {
	got := SessionPath("/data/Logs", fixedClock())
	want := filepath.Join("/data/Logs", "cli_run_20250601_090507.log")
	if got != want {
		t.Fatalf("SessionPath = %s, want %s", got, want)
	}
}

func TestEchoWritesEveryEntry(t *testing.T) {
	var out bytes.Buffer
	book, err := New("", WithClock(fixedClock), WithEcho(&out))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	book.Log("first")
	book.Logf("second %d", 2)
	want := "09:05:07 | first\n09:05:07 | second 2\n"
	if out.String() != want {
		t.Fatalf("echo = %q, want %q", out.String(), want)
	}
}
