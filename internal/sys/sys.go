// Package sys defines the syscall facade user programs are written
// against. The kernel implements Syscalls; programs and the loader depend
// only on this package, which keeps the loader/kernel dependency one-way.
package sys

import (
	"context"
	"io"

	"github.com/nick/minisys/internal/archive"
	"github.com/nick/minisys/internal/proc"
	"github.com/nick/minisys/internal/stream"
	"github.com/nick/minisys/internal/tty"
)

// IO bundles the standard streams handed to a spawned process. Nil fields
// are resolved by the kernel (TTY-backed stdin, inherited output).
type IO struct {
	Stdin  *stream.Stream
	Stdout *stream.Stream
	Stderr *stream.Stream
}

// SpawnOptions controls group and session placement of a new process.
type SpawnOptions struct {
	// PGID joins the child to an existing group when non-zero.
	PGID uint32
	// NewGroup makes the child its own group leader.
	NewGroup bool
	// NewSession makes the child both group and session leader.
	NewSession bool
	// Dir overrides the working directory; empty inherits the parent's.
	Dir string
}

// Task is the unit of execution the kernel schedules for a process.
type Task func(ctx context.Context, s Syscalls, self *proc.Process) (int, error)

// EntryPoint is the callable a loader produces for an executable path.
type EntryPoint func(ctx context.Context, args []string, s Syscalls, self *proc.Process) (int, error)

// Syscalls is the facade exposed to user programs.
type Syscalls interface {
	// Spawn schedules task as a new process. The caller receives the
	// handle before the task starts running.
	Spawn(parent *proc.Process, name string, task Task, copyEnv bool, io IO, opts SpawnOptions) (*proc.Process, error)

	// StartProcess resolves path against PATH, loads its entry point, and
	// spawns it with args.
	StartProcess(ctx context.Context, parent *proc.Process, path string, args []string, copyEnv bool, io IO, opts SpawnOptions) (*proc.Process, error)

	// ExecPath is StartProcess followed by Wait.
	ExecPath(ctx context.Context, parent *proc.Process, path string, args []string, copyEnv bool, io IO, opts SpawnOptions) (int, error)

	// SignalForeground delivers sig to every member of the session's
	// foreground group.
	SignalForeground(sessionPID uint32, sig proc.Signal)

	SetForegroundPGID(sessionPID, pgid uint32) error
	GetForegroundPGID(sessionPID uint32) (uint32, bool)
	SetTTYMode(sessionPID uint32, mode tty.Mode) error

	// CreateSession attaches a TTY to sessionPID over the given physical
	// streams.
	CreateSession(sessionPID uint32, stdin, stdout *stream.Stream) error

	// NewArchiveWriter and NewArchiveReader build streaming tar+gzip
	// codecs over the process's filesystem view.
	NewArchiveWriter(p *proc.Process, w io.Writer) *archive.Writer
	NewArchiveReader(p *proc.Process, r io.Reader) (*archive.Reader, error)
}
