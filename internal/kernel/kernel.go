// Package kernel is the core runtime: the process table, pid allocator,
// session registry, spawn/exec/wait/kill, executable resolution, and
// foreground-group arbitration. It implements sys.Syscalls.
package kernel

import (
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/nick/minisys/internal/archive"
	"github.com/nick/minisys/internal/env"
	"github.com/nick/minisys/internal/loader"
	"github.com/nick/minisys/internal/proc"
	"github.com/nick/minisys/internal/stream"
	"github.com/nick/minisys/internal/sys"
	"github.com/nick/minisys/internal/tty"
	"github.com/nick/minisys/internal/vfs"
)

// sessionEnvKey communicates session membership into spawned children.
const sessionEnvKey = "SESSION_PID"

// defaultExtensions is the probe list applied to each trial base during
// executable resolution.
var defaultExtensions = []string{"", ".bin"}

// Config wires a Kernel's collaborators.
type Config struct {
	FS         vfs.FS
	Loader     loader.Loader
	RootEnv    *env.Env
	Extensions []string
	Logger     *slog.Logger
	// ScrollbackSize bounds the per-session physical output capture;
	// zero uses a 64 KiB default.
	ScrollbackSize int
}

type session struct {
	driver *tty.Driver
	out    *stream.SerialWriter
	scroll *stream.Scrollback
}

type Kernel struct {
	fs      vfs.FS
	loader  loader.Loader
	rootEnv *env.Env
	exts    []string
	logger  *slog.Logger
	sbSize  int

	mu       sync.RWMutex
	nextPID  uint32
	procs    map[uint32]*proc.Process
	sessions map[uint32]*session
}

func New(cfg Config) *Kernel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions
	}
	rootEnv := cfg.RootEnv
	if rootEnv == nil {
		rootEnv = env.New()
	}
	sbSize := cfg.ScrollbackSize
	if sbSize <= 0 {
		sbSize = 64 * 1024
	}
	return &Kernel{
		fs:       cfg.FS,
		loader:   cfg.Loader,
		rootEnv:  rootEnv,
		exts:     exts,
		logger:   logger,
		sbSize:   sbSize,
		procs:    map[uint32]*proc.Process{},
		sessions: map[uint32]*session{},
	}
}

// allocPID hands out pids monotonically, starting at 1.
func (k *Kernel) allocPID() uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextPID++
	return k.nextPID
}

// Process looks a live process up by pid.
func (k *Kernel) Process(pid uint32) *proc.Process {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.procs[pid]
}

// Processes snapshots the table.
func (k *Kernel) Processes() []*proc.Process {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]*proc.Process, 0, len(k.procs))
	for _, p := range k.procs {
		out = append(out, p)
	}
	return out
}

// members returns the live processes in a group.
func (k *Kernel) members(pgid uint32) []*proc.Process {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var out []*proc.Process
	for _, p := range k.procs {
		if p.PGID() == pgid {
			out = append(out, p)
		}
	}
	return out
}

// groupAlive reports whether any member of pgid is still live (a process
// mid-teardown no longer counts).
func (k *Kernel) groupAlive(pgid uint32) bool {
	for _, p := range k.members(pgid) {
		if p.State() <= proc.Suspended {
			return true
		}
	}
	return false
}

// RootEnv is the persistent environment owned by the boot process.
func (k *Kernel) RootEnv() *env.Env {
	return k.rootEnv
}

// sessionRec looks the session bookkeeping up by leader pid.
func (k *Kernel) sessionRec(sessionPID uint32) *session {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sessions[sessionPID]
}

// ExitProcess terminates pid with code. The process's Exit runs the
// cleanup chain and then the kernel finalizer, which drops the group's
// TTY subscription, restores foreground to the session leader when the
// group died holding it, and removes the record from the table — all
// before the completion resolves, so a waiter never observes a terminated
// process still attached. Exiting an unknown pid is a no-op.
func (k *Kernel) ExitProcess(pid uint32, code int) {
	k.mu.RLock()
	p := k.procs[pid]
	k.mu.RUnlock()
	if p == nil {
		return
	}
	p.Exit(code)
}

// finalizeExit runs inside Process.Exit, after cleanup and before the
// completion future resolves.
func (k *Kernel) finalizeExit(p *proc.Process, code int) {
	pid := p.PID()
	sessionPID := p.SessionPID()

	s := k.sessionRec(sessionPID)
	if s != nil {
		s.driver.Unsubscribe(p.PGID())
		if pid != sessionPID && !k.groupAlive(p.PGID()) && s.driver.Foreground() == p.PGID() {
			s.driver.SetForeground(sessionPID)
		}
	}

	if pid == sessionPID && s != nil {
		// session dies with its leader
		s.driver.Shutdown()
		s.out.Close()
		k.mu.Lock()
		delete(k.sessions, sessionPID)
		k.mu.Unlock()
	}

	k.mu.Lock()
	delete(k.procs, pid)
	k.mu.Unlock()

	k.logger.Debug("process exited", "pid", pid, "name", p.Name(), "code", code)
}

// signalPGID dispatches sig to every member of pgid. SIGTSTP suspends;
// anything else kills.
func (k *Kernel) signalPGID(pgid uint32, sig proc.Signal) {
	for _, p := range k.members(pgid) {
		if sig == proc.SIGTSTP {
			p.Suspend()
		} else {
			p.Kill(sig)
		}
	}
}

// dispatchTTY handles a control-key signal from a session's TTY. After a
// SIGTSTP stops a non-leader foreground group, input control returns to
// the session leader.
func (k *Kernel) dispatchTTY(d *tty.Driver, pgid uint32, sig proc.Signal) {
	k.signalPGID(pgid, sig)
	if sig == proc.SIGTSTP && pgid != d.SessionID() {
		d.SetForeground(d.SessionID())
	}
}

// SignalForeground delivers sig to the session's foreground group.
func (k *Kernel) SignalForeground(sessionPID uint32, sig proc.Signal) {
	s := k.sessionRec(sessionPID)
	if s == nil {
		return
	}
	k.dispatchTTY(s.driver, s.driver.Foreground(), sig)
}

// NewArchiveWriter builds a streaming archiver over the process's
// filesystem view.
func (k *Kernel) NewArchiveWriter(p *proc.Process, w io.Writer) *archive.Writer {
	return archive.NewWriter(p.FS(), w)
}

// NewArchiveReader builds a streaming extractor over the process's
// filesystem view.
func (k *Kernel) NewArchiveReader(p *proc.Process, r io.Reader) (*archive.Reader, error) {
	return archive.NewReader(p.FS(), r)
}

func formatPID(pid uint32) string {
	return strconv.FormatUint(uint64(pid), 10)
}

var _ sys.Syscalls = (*Kernel)(nil)
