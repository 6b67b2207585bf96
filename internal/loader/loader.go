// Package loader produces executable entry points for resolved paths. The
// kernel only knows the Loader interface; the in-process Registry is the
// implementation the console boots with.
package loader

import (
	"context"
	"fmt"

	"github.com/nick/minisys/internal/sys"
	"github.com/nick/minisys/internal/vfs"
)

// ModuleKey identifies one loaded module for refcounted unload.
type ModuleKey string

// Loader turns an absolute executable path into a callable entry point
// plus the set of module keys the load pinned. Release returns the keys;
// a module is freed when its count reaches zero.
type Loader interface {
	Load(ctx context.Context, path string, fsys vfs.FS) (sys.EntryPoint, []ModuleKey, error)
	Release(keys []ModuleKey)
}

// NoEntryPointError reports a module that resolved but exposes no main
// entry point.
type NoEntryPointError struct {
	Path string
}

func (e *NoEntryPointError) Error() string {
	return fmt.Sprintf("no entry point in %s", e.Path)
}
