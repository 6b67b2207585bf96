package vfs

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemFS is an in-memory FS rooted at "/". It backs the default boot disk and
// the test suites; it is safe for concurrent use.
type MemFS struct {
	mu   sync.RWMutex
	root *memNode
}

type memNode struct {
	name     string
	dir      bool
	mode     uint32
	mtime    time.Time
	data     []byte
	children map[string]*memNode
}

// NewMemFS returns an empty filesystem containing only "/".
func NewMemFS() *MemFS {
	return &MemFS{root: &memNode{
		name:     "/",
		dir:      true,
		mode:     0o755,
		mtime:    time.Now(),
		children: map[string]*memNode{},
	}}
}

func splitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

func (m *MemFS) lookup(p string) (*memNode, error) {
	n := m.root
	for _, part := range splitPath(p) {
		if !n.dir {
			return nil, &fs.PathError{Op: "lookup", Path: p, Err: fs.ErrNotExist}
		}
		child, ok := n.children[part]
		if !ok {
			return nil, &fs.PathError{Op: "lookup", Path: p, Err: fs.ErrNotExist}
		}
		n = child
	}
	return n, nil
}

func (m *MemFS) parentOf(p string) (*memNode, string, error) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return nil, "", &fs.PathError{Op: "open", Path: p, Err: fs.ErrInvalid}
	}
	dir, err := m.lookup("/" + strings.Join(parts[:len(parts)-1], "/"))
	if err != nil {
		return nil, "", err
	}
	if !dir.dir {
		return nil, "", &fs.PathError{Op: "open", Path: p, Err: fs.ErrInvalid}
	}
	return dir, parts[len(parts)-1], nil
}

func (m *MemFS) Stat(p string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.lookup(p)
	if err != nil {
		return nil, err
	}
	return n.info(), nil
}

func (m *MemFS) Open(p string) (File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.dir {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrInvalid}
	}
	return &memFile{fs: m, node: n, r: bytes.NewReader(n.data)}, nil
}

func (m *MemFS) Create(p string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir, name, err := m.parentOf(p)
	if err != nil {
		return nil, err
	}
	n, ok := dir.children[name]
	if ok {
		if n.dir {
			return nil, &fs.PathError{Op: "create", Path: p, Err: fs.ErrInvalid}
		}
		n.data = nil
	} else {
		n = &memNode{name: name, mode: 0o644}
		dir.children[name] = n
	}
	n.mtime = time.Now()
	return &memFile{fs: m, node: n, r: bytes.NewReader(nil)}, nil
}

func (m *MemFS) MkdirAll(p string, mode uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.root
	for _, part := range splitPath(p) {
		child, ok := n.children[part]
		if !ok {
			child = &memNode{
				name:     part,
				dir:      true,
				mode:     mode,
				mtime:    time.Now(),
				children: map[string]*memNode{},
			}
			n.children[part] = child
		} else if !child.dir {
			return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
		}
		n = child
	}
	return nil
}

func (m *MemFS) ReadDir(p string) ([]fs.DirEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.lookup(p)
	if err != nil {
		return nil, err
	}
	if !n.dir {
		return nil, &fs.PathError{Op: "readdir", Path: p, Err: fs.ErrInvalid}
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]fs.DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, memDirEntry{n.children[name]})
	}
	return entries, nil
}

func (m *MemFS) Chmod(p string, mode uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.lookup(p)
	if err != nil {
		return err
	}
	n.mode = mode
	return nil
}

func (m *MemFS) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir, name, err := m.parentOf(p)
	if err != nil {
		return err
	}
	n, ok := dir.children[name]
	if !ok {
		return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrNotExist}
	}
	if n.dir && len(n.children) > 0 {
		return &fs.PathError{Op: "remove", Path: p, Err: fmt.Errorf("directory not empty")}
	}
	delete(dir.children, name)
	return nil
}

// WriteFile is a convenience for tests and boot seeding. Missing parent
// directories are created with mode 0755.
func (m *MemFS) WriteFile(p string, data []byte, mode uint32) error {
	if err := m.MkdirAll(path.Dir(path.Clean("/"+p)), 0o755); err != nil {
		return err
	}
	f, err := m.Create(p)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return m.Chmod(p, mode)
}

// ReadFile is a convenience for tests.
func (m *MemFS) ReadFile(p string) ([]byte, error) {
	f, err := m.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

type memFile struct {
	fs   *MemFS
	node *memNode
	r    *bytes.Reader
	w    bytes.Buffer
	dirt bool
}

func (f *memFile) Read(p []byte) (int, error) {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return f.r.Read(p)
}

func (f *memFile) Write(p []byte) (int, error) {
	f.dirt = true
	return f.w.Write(p)
}

func (f *memFile) Close() error {
	if f.dirt {
		f.fs.mu.Lock()
		f.node.data = append(f.node.data, f.w.Bytes()...)
		f.node.mtime = time.Now()
		f.fs.mu.Unlock()
	}
	return nil
}

func (n *memNode) info() fs.FileInfo { return memInfo{n} }

type memInfo struct{ n *memNode }

func (i memInfo) Name() string { return i.n.name }
func (i memInfo) Size() int64  { return int64(len(i.n.data)) }
func (i memInfo) Mode() fs.FileMode {
	m := fs.FileMode(i.n.mode & 0o777)
	if i.n.dir {
		m |= fs.ModeDir
	}
	return m
}
func (i memInfo) ModTime() time.Time { return i.n.mtime }
func (i memInfo) IsDir() bool        { return i.n.dir }
func (i memInfo) Sys() any           { return nil }

type memDirEntry struct{ n *memNode }

func (e memDirEntry) Name() string               { return e.n.name }
func (e memDirEntry) IsDir() bool                { return e.n.dir }
func (e memDirEntry) Type() fs.FileMode          { return e.n.info().Mode().Type() }
func (e memDirEntry) Info() (fs.FileInfo, error) { return e.n.info(), nil }
