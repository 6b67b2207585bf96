// Package archive implements the streaming tar+gzip codec used by install
// and boot. Archives are GNU ustar with LongLink long-name blocks and end
// with the standard two zero blocks; entries carry their mode verbatim.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/gzip"

	"github.com/nick/minisys/internal/vfs"
)

// Writer streams files from an FS into a gzipped GNU tar archive.
type Writer struct {
	fsys vfs.FS
	gz   *gzip.Writer
	tw   *tar.Writer
}

func NewWriter(fsys vfs.FS, w io.Writer) *Writer {
	gz := gzip.NewWriter(w)
	return &Writer{fsys: fsys, gz: gz, tw: tar.NewWriter(gz)}
}

// Add archives the file or directory at p under the entry name. Names
// longer than 100 bytes are carried in a GNU LongLink block.
func (w *Writer) Add(p, name string) error {
	fi, err := w.fsys.Stat(p)
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(fi.Mode().Perm()),
		ModTime: fi.ModTime(),
		Format:  tar.FormatGNU,
	}
	if fi.IsDir() {
		hdr.Typeflag = tar.TypeDir
		if hdr.Name != "" && hdr.Name[len(hdr.Name)-1] != '/' {
			hdr.Name += "/"
		}
		if err := w.tw.WriteHeader(hdr); err != nil {
			return err
		}
		entries, err := w.fsys.ReadDir(p)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := w.Add(path.Join(p, e.Name()), path.Join(name, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	hdr.Typeflag = tar.TypeReg
	hdr.Size = fi.Size()
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := w.fsys.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w.tw, f); err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}
	return nil
}

// AddTree archives everything under root with names relative to root.
func (w *Writer) AddTree(root string) error {
	entries, err := w.fsys.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.Add(path.Join(root, e.Name()), e.Name()); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the tar trailer and the gzip stream.
func (w *Writer) Close() error {
	if err := w.tw.Close(); err != nil {
		w.gz.Close()
		return err
	}
	return w.gz.Close()
}

// Reader streams a gzipped tar archive into an FS.
type Reader struct {
	fsys vfs.FS
	gz   *gzip.Reader
	tr   *tar.Reader
}

func NewReader(fsys vfs.FS, r io.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &Reader{fsys: fsys, gz: gz, tr: tar.NewReader(gz)}, nil
}

// Next advances to the next entry; LongLink name blocks are already folded
// into the returned header.
func (r *Reader) Next() (*tar.Header, error) {
	hdr, err := r.tr.Next()
	if err != nil {
		return nil, err
	}
	return hdr, nil
}

// Read reads the current entry's content.
func (r *Reader) Read(p []byte) (int, error) {
	return r.tr.Read(p)
}

// Extract unpacks the whole archive under dir, recreating directories and
// files with their archived modes.
func (r *Reader) Extract(dir string) error {
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := path.Join(dir, path.Clean("/"+hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := r.fsys.MkdirAll(target, uint32(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := r.fsys.MkdirAll(path.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := r.fsys.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, r.tr); err != nil {
				f.Close()
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			if err := r.fsys.Chmod(target, uint32(hdr.Mode)); err != nil {
				return err
			}
		default:
			// other entry types are skipped
		}
	}
}

func (r *Reader) Close() error {
	return r.gz.Close()
}
