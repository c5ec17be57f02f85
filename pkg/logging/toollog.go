package logging

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ToolLog mirrors every tool output line into a text file, one
// "[tool] line" per row. Latest returns what was appended since the
// previous call.
type ToolLog struct {
	path string

	mu     sync.Mutex
	f      *os.File
	cursor int64
}

// OpenToolLog opens (or creates) <dir>/tools.log. The cursor starts at
// the current end of the file.
func OpenToolLog(dir string) (*ToolLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, "tools.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tool log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat tool log: %w", err)
	}
	return &ToolLog{path: path, f: f, cursor: info.Size()}, nil
}

// Path returns the file location.
func (t *ToolLog) Path() string { return t.path }

// Line appends one row. Embedded newlines are flattened.
func (t *ToolLog) Line(tool, line string) {
	row := "[" + tool + "] " + strings.ReplaceAll(line, "\n", " ") + "\n"
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.f.WriteString(row)
}

// All returns every row in the file.
func (t *ToolLog) All() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines, _, err := t.readFrom(0)
	return lines, err
}

// Latest returns the rows appended since the previous call and advances
// the cursor.
func (t *ToolLog) Latest() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines, end, err := t.readFrom(t.cursor)
	if err != nil {
		return nil, err
	}
	t.cursor = end
	return lines, nil
}

// readFrom reads complete rows starting at offset and returns the offset
// after the last one.
func (t *ToolLog) readFrom(offset int64) ([]string, int64, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, 0, nil
		}
		return nil, offset, fmt.Errorf("read tool log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("read tool log: %w", err)
	}
	if info.Size() < offset {
		offset = 0 // truncated
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("read tool log: %w", err)
	}

	lines := []string{}
	r := bufio.NewReader(f)
	for {
		row, err := r.ReadString('\n')
		if err != nil {
			// a partial row stays for the next read
			break
		}
		offset += int64(len(row))
		lines = append(lines, strings.TrimSuffix(row, "\n"))
	}
	return lines, offset, nil
}

// Close closes the file.
func (t *ToolLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f.Close()
}
