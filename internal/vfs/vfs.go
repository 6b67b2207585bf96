package vfs

import (
	"io"
	"io/fs"
)

// FS is the filesystem surface the kernel consumes. Paths are absolute and
// slash-separated; relative paths are resolved by the caller against the
// owning process's working directory before they reach an FS.
//
// File modes are opaque integers plumbed through Chmod and the archiver;
// implementations may mask bits they cannot represent.
type FS interface {
	Stat(path string) (fs.FileInfo, error)
	Open(path string) (File, error)
	Create(path string) (File, error)
	MkdirAll(path string, mode uint32) error
	ReadDir(path string) ([]fs.DirEntry, error)
	Chmod(path string, mode uint32) error
	Remove(path string) error
}

// File is the handle an FS hands out. Read returns io.EOF at end of file;
// Write appends at the current position.
type File interface {
	io.ReadWriteCloser
}
