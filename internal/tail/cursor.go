// Package tail tracks how much of a growing log file has been consumed.
package tail

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/loykin/gatewarden/internal/metrics"
)

// Batch is the result of one ReadNew call.
type Batch struct {
	Lines []string
	// Rotated is set when the file shrank since the last read. Lines then
	// holds the content of the new file instance from its first line.
	Rotated bool
}

// Position is a read-only view of the cursor.
type Position struct {
	Path  string `json:"path"`
	Lines int    `json:"lines"`
	Size  int64  `json:"size"`
}

// Cursor remembers the line count and byte size of one log file. The whole
// file is re-read on growth; game server logs stay small enough for that.
type Cursor struct {
	mu     sync.Mutex
	path   string
	lines  int
	size   int64
	logger *slog.Logger
}

// New returns a cursor that tracks no file yet.
func New(logger *slog.Logger) *Cursor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cursor{logger: logger.With("component", "tail")}
}

// Initialize points the cursor at path and marks any existing content as
// consumed. A missing or unreadable file leaves both offsets at zero.
func (c *Cursor) Initialize(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = filepath.Clean(path)
	c.lines, c.size = 0, 0

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Info("log file does not exist yet, waiting for creation", "path", c.path)
		} else {
			c.logger.Error("error reading existing log file", "path", c.path, "error", err)
		}
		return
	}
	c.lines = len(splitLines(data))
	c.size = int64(len(data))
	c.logger.Info("found existing log file on startup", "path", c.path, "lines", c.lines)
}

// OnFileAppeared starts a new epoch for path: both offsets go back to zero.
func (c *Cursor) OnFileAppeared(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = filepath.Clean(path)
	c.lines, c.size = 0, 0
	c.logger.Info("new log file detected", "path", c.path)
}

// ReadNew returns the lines appended since the previous call. Files that
// cannot be opened or stat'ed are logged and produce an empty batch so the
// next event retries; an error is returned only if reading fails mid-way.
func (c *Cursor) ReadNew() (Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" {
		return Batch{}, nil
	}
	st, err := os.Stat(c.path)
	if err != nil {
		c.logger.Warn("log file not accessible, will retry", "path", c.path, "error", err)
		return Batch{}, nil
	}
	cur := st.Size()

	var b Batch
	if cur < c.size {
		c.logger.Info("log file rotation detected", "path", c.path, "previous_size", c.size, "size", cur)
		metrics.IncRotation()
		b.Rotated = true
		c.lines = 0
		c.size = cur
		if cur == 0 {
			return b, nil
		}
	} else if cur == c.size {
		return b, nil
	}

	f, err := os.Open(c.path)
	if err != nil {
		c.logger.Warn("failed to open log file, will retry", "path", c.path, "error", err)
		return b, nil
	}
	defer func() { _ = f.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return b, fmt.Errorf("read %s: %w", c.path, err)
	}

	all := splitLines(buf.Bytes())
	if c.lines < len(all) {
		b.Lines = all[c.lines:]
	}
	c.lines = len(all)
	c.size = int64(buf.Len())
	return b, nil
}

// Position reports the current path and offsets.
func (c *Cursor) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Position{Path: c.path, Lines: c.lines, Size: c.size}
}

// splitLines splits on '\n' and keeps a trailing partial line as a line of
// its own. Line terminators, including '\r', are removed.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	parts := bytes.Split(data, []byte{'\n'})
	if len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(bytes.TrimSuffix(p, []byte{'\r'}))
	}
	return out
}
