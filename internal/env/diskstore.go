package env

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/renameio"
)

// DiskStore is a Store backed by a `key=value` line file on the host.
// A sibling .lock file guards against concurrent consoles; every mutation
// rewrites the file atomically.
type DiskStore struct {
	path string
	lock *flock.Flock

	mu   sync.RWMutex
	keys []string
	vals map[string]string
}

// OpenDiskStore loads the store file at path, creating it on first use.
func OpenDiskStore(path string) (*DiskStore, error) {
	s := &DiskStore{
		path: path,
		lock: flock.New(path + ".lock"),
		vals: map[string]string{},
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("env store %s: %w", path, err)
	}
	return s, nil
}

func (s *DiskStore) load() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		k, v, ok := strings.Cut(line, "=")
		if !ok || k == "" {
			continue
		}
		if _, seen := s.vals[k]; !seen {
			s.keys = append(s.keys, k)
		}
		s.vals[k] = v
	}
	return sc.Err()
}

func (s *DiskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func (s *DiskStore) KeyAt(i int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.keys) {
		return ""
	}
	return s.keys[i]
}

func (s *DiskStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	return v, ok
}

func (s *DiskStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vals[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.vals[key] = value
	s.flush()
}

func (s *DiskStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vals[key]; !ok {
		return
	}
	delete(s.vals, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	s.flush()
}

// flush rewrites the file; callers hold s.mu. Persistence failures are
// logged and swallowed so env mutation never fails the caller.
func (s *DiskStore) flush() {
	if err := s.lock.Lock(); err != nil {
		slog.Warn("env store lock failed", "path", s.path, "error", err)
		return
	}
	defer s.lock.Unlock()

	keys := append([]string(nil), s.keys...)
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.vals[k])
		b.WriteByte('\n')
	}
	if err := renameio.WriteFile(s.path, []byte(b.String()), 0o600); err != nil {
		slog.Warn("env store write failed", "path", s.path, "error", err)
	}
}
