package vfs

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// DirFS is an FS rooted on a host directory. The console uses it so the
// personality's "/" maps onto a real directory tree.
type DirFS struct {
	root string
}

// NewDirFS roots an FS at dir. The directory must already exist.
func NewDirFS(dir string) *DirFS {
	return &DirFS{root: dir}
}

func (d *DirFS) host(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(path.Clean("/"+p)))
}

func (d *DirFS) Stat(p string) (fs.FileInfo, error) {
	return os.Stat(d.host(p))
}

func (d *DirFS) Open(p string) (File, error) {
	return os.Open(d.host(p))
}

func (d *DirFS) Create(p string) (File, error) {
	return os.Create(d.host(p))
}

func (d *DirFS) MkdirAll(p string, mode uint32) error {
	return os.MkdirAll(d.host(p), fs.FileMode(mode&0o777))
}

func (d *DirFS) ReadDir(p string) ([]fs.DirEntry, error) {
	return os.ReadDir(d.host(p))
}

func (d *DirFS) Chmod(p string, mode uint32) error {
	return os.Chmod(d.host(p), fs.FileMode(mode&0o777))
}

func (d *DirFS) Remove(p string) error {
	return os.Remove(d.host(p))
}
