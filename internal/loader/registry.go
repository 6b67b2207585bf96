package loader

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/nick/minisys/internal/sys"
	"github.com/nick/minisys/internal/vfs"
)

// Registry is a refcounted in-process Loader. Programs register their
// entry points by name, usually from init functions pulled in by blank
// imports, the same way command discoverers register themselves.
type Registry struct {
	mu       sync.Mutex
	programs map[string]sys.EntryPoint
	refs     map[ModuleKey]int
}

func NewRegistry() *Registry {
	return &Registry{
		programs: map[string]sys.EntryPoint{},
		refs:     map[ModuleKey]int{},
	}
}

// Register binds name to an entry point. Registering nil reserves the name
// but loads of it fail with NoEntryPointError.
func (r *Registry) Register(name string, ep sys.EntryPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[name] = ep
}

// Names lists the registered program names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.programs))
	for n := range r.programs {
		names = append(names, n)
	}
	return names
}

// Load resolves the registered program for path's base name (extension
// stripped) and pins its module key. Nothing is left pinned on failure.
func (r *Registry) Load(ctx context.Context, p string, fsys vfs.FS) (sys.EntryPoint, []ModuleKey, error) {
	base := path.Base(p)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.programs[base]
	if !ok || ep == nil {
		return nil, nil, &NoEntryPointError{Path: p}
	}
	key := ModuleKey(p)
	r.refs[key]++
	return ep, []ModuleKey{key}, nil
}

// Release decrements each key and frees it at zero.
func (r *Registry) Release(keys []ModuleKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		if n, ok := r.refs[k]; ok {
			if n <= 1 {
				delete(r.refs, k)
			} else {
				r.refs[k] = n - 1
			}
		}
	}
}

// Refs reports the pin count for key.
func (r *Registry) Refs(key ModuleKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[key]
}

// Default is the registry program packages register into.
var Default = NewRegistry()

// Register adds a program to the Default registry.
func Register(name string, ep sys.EntryPoint) {
	Default.Register(name, ep)
}
