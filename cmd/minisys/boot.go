package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nick/minisys/internal/config"
	"github.com/nick/minisys/internal/env"
	"github.com/nick/minisys/internal/kernel"
	"github.com/nick/minisys/internal/loader"
	"github.com/nick/minisys/internal/vfs"
)

// boot assembles the kernel: filesystem, persistent environment, loader,
// and the /bin entries the resolver probes for.
func boot(cfg *config.Config, logger *slog.Logger) (*kernel.Kernel, error) {
	var fsys vfs.FS
	if cfg.Root != "" {
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, fmt.Errorf("root %s: %w", cfg.Root, err)
		}
		fsys = vfs.NewDirFS(cfg.Root)
	} else {
		fsys = vfs.NewMemFS()
	}
	if err := seedBin(fsys); err != nil {
		return nil, err
	}

	store, err := env.OpenDiskStore(cfg.EnvFile)
	if err != nil {
		return nil, err
	}
	_, pathStored := store.Get(env.Prefix + "PATH")
	rootEnv := env.NewPersistent(store)
	if !pathStored {
		rootEnv.Set("PATH", cfg.Path)
	}
	if !rootEnv.Has("HOST") {
		rootEnv.Set("HOST", cfg.Hostname)
	}

	return kernel.New(kernel.Config{
		FS:             fsys,
		Loader:         loader.Default,
		RootEnv:        rootEnv,
		Extensions:     cfg.Extensions,
		Logger:         logger,
		ScrollbackSize: cfg.ScrollbackBytes,
	}), nil
}

// seedBin materializes a /bin entry per registered program so PATH
// resolution finds them.
func seedBin(fsys vfs.FS) error {
	if err := fsys.MkdirAll("/bin", 0o755); err != nil {
		return err
	}
	for _, name := range loader.Default.Names() {
		p := "/bin/" + name
		if _, err := fsys.Stat(p); err == nil {
			continue
		}
		f, err := fsys.Create(p)
		if err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if err := fsys.Chmod(p, 0o777); err != nil {
			return err
		}
	}
	return nil
}
