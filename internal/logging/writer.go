package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// RotatingWriter is an io.Writer that rotates the underlying file once it
// crosses a size threshold, keeping a bounded number of numbered backups
// (server.log -> server.log.1 -> server.log.2 -> ... -> dropped). It backs
// the Go server's file log under ~/.govrag/logs, which `govrag logs` then
// tails via Viewer.
type RotatingWriter struct {
	path     string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	written int64
	sync    bool // fsync after every write, so `govrag logs -f` sees entries immediately
}

// NewRotatingWriter opens (creating if necessary) a rotating log file.
// maxSizeMB bounds a single file before rotation; maxFiles bounds how many
// rotated backups are retained. Immediate fsync is on by default.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
		maxFiles: maxFiles,
		sync:     true,
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// SetImmediateSync toggles fsync-per-write. Disabling it trades real-time
// visibility in `govrag logs -f` for write throughput.
func (w *RotatingWriter) SetImmediateSync(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sync = enabled
}

// Write appends p, rotating first if it would push the file past maxSize.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "logging: rotation failed, continuing on current file: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	if err == nil && w.sync {
		_ = w.file.Sync()
	}
	return n, err
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// Sync flushes the file to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *RotatingWriter) openFile() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("logging: stat log file: %w", err)
	}
	w.file = f
	w.written = info.Size()
	return nil
}

// rotate closes the current file, bumps every server.log.N to server.log.N+1
// (dropping anything that would exceed maxFiles), moves server.log to
// server.log.1, and reopens a fresh server.log.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("logging: close log file before rotation: %w", err)
		}
		w.file = nil
	}

	backups, err := w.existingBackups()
	if err != nil {
		return fmt.Errorf("logging: list rotated files: %w", err)
	}

	// Walk from the oldest backup down so renames never clobber a file we
	// still need to move.
	sort.Sort(sort.Reverse(sort.IntSlice(backups)))
	for _, n := range backups {
		oldPath := fmt.Sprintf("%s.%d", w.path, n)
		if n >= w.maxFiles {
			_ = os.Remove(oldPath)
			continue
		}
		_ = os.Rename(oldPath, fmt.Sprintf("%s.%d", w.path, n+1))
	}

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.path+".1"); err != nil {
			return fmt.Errorf("logging: rotate current log file: %w", err)
		}
	}

	w.written = 0
	return w.openFile()
}

// existingBackups returns the numeric suffixes of server.log.N files present
// next to w.path.
func (w *RotatingWriter) existingBackups() ([]int, error) {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)

	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return nil, err
	}

	var nums []int
	for _, m := range matches {
		suffix := strings.TrimPrefix(filepath.Base(m), base+".")
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	return nums, nil
}
