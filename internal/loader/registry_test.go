package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/nick/minisys/internal/proc"
	"github.com/nick/minisys/internal/sys"
	"github.com/nick/minisys/internal/vfs"
)

func noopEntry(ctx context.Context, args []string, s sys.Syscalls, self *proc.Process) (int, error) {
	return 0, nil
}

func TestRegistry_LoadByBaseName(t *testing.T) {
	r := NewRegistry()
	r.Register("tool", noopEntry)

	ep, keys, err := r.Load(context.Background(), "/bin/tool", vfs.NewMemFS())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ep == nil {
		t.Fatal("Expected an entry point")
	}
	if len(keys) != 1 || keys[0] != ModuleKey("/bin/tool") {
		t.Errorf("Expected the path as module key, got %v", keys)
	}
}

func TestRegistry_LoadStripsExtension(t *testing.T) {
	r := NewRegistry()
	r.Register("tool", noopEntry)
	if _, _, err := r.Load(context.Background(), "/bin/tool.bin", vfs.NewMemFS()); err != nil {
		t.Errorf("Expected extensioned path to resolve, got %v", err)
	}
}

func TestRegistry_UnknownProgram(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Load(context.Background(), "/bin/ghost", vfs.NewMemFS())
	var nep *NoEntryPointError
	if !errors.As(err, &nep) {
		t.Fatalf("Expected NoEntryPointError, got %v", err)
	}
	if nep.Path != "/bin/ghost" {
		t.Errorf("Expected the path in the error, got %q", nep.Path)
	}
}

func TestRegistry_NilRegistrationHasNoEntryPoint(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", nil)
	var nep *NoEntryPointError
	if _, _, err := r.Load(context.Background(), "/bin/stub", vfs.NewMemFS()); !errors.As(err, &nep) {
		t.Errorf("Expected NoEntryPointError for a nil registration, got %v", err)
	}
}

func TestRegistry_RefCounting(t *testing.T) {
	r := NewRegistry()
	r.Register("tool", noopEntry)
	key := ModuleKey("/bin/tool")

	_, k1, _ := r.Load(context.Background(), "/bin/tool", vfs.NewMemFS())
	_, k2, _ := r.Load(context.Background(), "/bin/tool", vfs.NewMemFS())
	if got := r.Refs(key); got != 2 {
		t.Errorf("Expected 2 refs after two loads, got %d", got)
	}

	r.Release(k1)
	if got := r.Refs(key); got != 1 {
		t.Errorf("Expected 1 ref after one release, got %d", got)
	}
	r.Release(k2)
	if got := r.Refs(key); got != 0 {
		t.Errorf("Expected 0 refs after both releases, got %d", got)
	}

	// releasing a freed key must not underflow
	r.Release(k2)
	if got := r.Refs(key); got != 0 {
		t.Errorf("Expected refs to stay at 0, got %d", got)
	}
}
