package kernel

import (
	"path"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/nick/minisys/internal/proc"
)

const maxSuggestions = 3

// Resolve turns a command name into an absolute executable path. Names
// containing a slash resolve against the process's working directory;
// bare names search the colon-separated PATH entries. Each trial base is
// probed with the configured extension list in order; the first hit wins.
func (k *Kernel) Resolve(p *proc.Process, name string) (string, error) {
	if name == "" {
		return "", &CommandNotFoundError{Name: name}
	}

	if strings.Contains(name, "/") {
		base := name
		if !path.IsAbs(name) {
			dir := "/"
			if p != nil {
				dir = p.Dir()
			}
			base = path.Join(dir, name)
		}
		if hit, ok := k.probe(base); ok {
			return hit, nil
		}
		return "", &CommandNotFoundError{Name: name}
	}

	dirs := k.pathDirs(p)
	for _, dir := range dirs {
		if hit, ok := k.probe(path.Join(dir, name)); ok {
			return hit, nil
		}
	}
	return "", &CommandNotFoundError{Name: name, Suggestions: k.suggest(name, dirs)}
}

// probe tries base with every configured extension.
func (k *Kernel) probe(base string) (string, bool) {
	for _, ext := range k.exts {
		cand := base + ext
		fi, err := k.fs.Stat(cand)
		if err == nil && !fi.IsDir() {
			return cand, true
		}
	}
	return "", false
}

func (k *Kernel) pathDirs(p *proc.Process) []string {
	e := k.rootEnv
	if p != nil {
		e = p.Env()
	}
	var dirs []string
	for _, dir := range strings.Split(e.Get("PATH"), ":") {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// suggest ranks the PATH directories' entries against the missed name.
func (k *Kernel) suggest(name string, dirs []string) []string {
	seen := map[string]bool{}
	var names []string
	for _, dir := range dirs {
		entries, err := k.fs.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			n := e.Name()
			for _, ext := range k.exts {
				if ext != "" && strings.HasSuffix(n, ext) {
					n = strings.TrimSuffix(n, ext)
					break
				}
			}
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	matches := fuzzy.Find(name, names)
	var out []string
	for i := 0; i < len(matches) && i < maxSuggestions; i++ {
		out = append(out, matches[i].Str)
	}
	return out
}
