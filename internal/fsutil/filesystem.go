// Package fsutil is the filesystem seam under vector tables, frames and
// charts. Tests swap in MemoryFileSystem to capture what a run writes.
package fsutil

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// FileSystem is what the engines and exporters need from a filesystem.
type FileSystem interface {
	Open(name string) (io.ReadCloser, error)
	// Create creates or truncates name.
	Create(name string) (io.WriteCloser, error)
	MkdirAll(path string, perm os.FileMode) error
	// Exists reports whether name is a file or directory.
	Exists(name string) bool
}

// OSFileSystem is the real filesystem.
type OSFileSystem struct{}

func (OSFileSystem) Open(name string) (io.ReadCloser, error)      { return os.Open(name) }
func (OSFileSystem) Create(name string) (io.WriteCloser, error)   { return os.Create(name) }
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// MemoryFileSystem keeps files in memory. Paths are cleaned, so "a/./b" and
// "a/b" name the same file. A file written through Create keeps its previous
// (empty) contents until the writer is closed.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]struct{}
}

func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: map[string][]byte{}, dirs: map[string]struct{}{}}
}

func (m *MemoryFileSystem) lookup(op, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[filepath.Clean(name)]
	if !ok {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	return data, nil
}

func (m *MemoryFileSystem) Open(name string) (io.ReadCloser, error) {
	data, err := m.lookup("open", name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	name = filepath.Clean(name)
	m.store(name, nil)
	return &memWriter{fsys: m, name: name}, nil
}

func (m *MemoryFileSystem) MkdirAll(path string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := filepath.Clean(path); p != "." && p != string(filepath.Separator); p = filepath.Dir(p) {
		m.dirs[p] = struct{}{}
	}
	return nil
}

func (m *MemoryFileSystem) Exists(name string) bool {
	name = filepath.Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, file := m.files[name]
	_, dir := m.dirs[name]
	return file || dir
}

// ReadFile returns a copy of the contents of name.
func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	data, err := m.lookup("read", name)
	return bytes.Clone(data), err
}

// WriteFile stores a copy of data as name.
func (m *MemoryFileSystem) WriteFile(name string, data []byte) {
	m.store(filepath.Clean(name), bytes.Clone(data))
}

func (m *MemoryFileSystem) store(name string, data []byte) {
	if data == nil {
		data = []byte{}
	}
	m.mu.Lock()
	m.files[name] = data
	m.mu.Unlock()
}

// Paths lists the stored files, sorted.
func (m *MemoryFileSystem) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for name := range m.files {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

type memWriter struct {
	fsys   *MemoryFileSystem
	name   string
	buf    bytes.Buffer
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true
	w.fsys.store(w.name, w.buf.Bytes())
	return nil
}
