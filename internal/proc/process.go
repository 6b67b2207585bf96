package proc

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nick/minisys/internal/env"
	"github.com/nick/minisys/internal/stream"
	"github.com/nick/minisys/internal/vfs"
)

// State is the lifecycle state of a process.
type State int32

const (
	Embryo State = iota
	Running
	Suspended
	Zombie
	Terminated
)

func (s State) String() string {
	switch s {
	case Embryo:
		return "Embryo"
	case Running:
		return "Running"
	case Suspended:
		return "Suspended"
	case Zombie:
		return "Zombie"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Resource is an asynchronously-closable handle registered with a process;
// Close is awaited at termination.
type Resource interface {
	Close() error
}

// Params carries everything the kernel resolves before construction.
type Params struct {
	PID        uint32
	PGID       uint32
	ParentPID  uint32
	SessionPID uint32
	Name       string
	Env        *env.Env
	FS         vfs.FS
	Dir        string
	Stdin      *stream.Stream
	Stdout     *stream.Stream
	Stderr     *stream.Stream
	Logger     *slog.Logger

	// Finalizer runs after the cleanup chain and before the completion
	// resolves; the kernel uses it to detach the process from the table
	// and its session so a waiter never observes a terminated process
	// still attached.
	Finalizer func(p *Process, code int)
}

// Process is one entry in the kernel's process table. The table owns the
// record; everything else refers to it by pid.
type Process struct {
	pid        uint32
	pgid       uint32
	parentPID  uint32
	sessionPID uint32
	name       string

	env *env.Env
	fs  vfs.FS
	dir string

	stdin  *stream.Stream
	stdout *stream.Stream
	stderr *stream.Stream

	state atomic.Int32

	mu        sync.Mutex
	exited    bool
	hooks     []func()
	resources []Resource

	done     chan struct{}
	exitCode int

	finalizer func(p *Process, code int)

	logger *slog.Logger
}

// New builds a process in Embryo state. The pgid decision (new group,
// explicit group, inherit, self) happens in the kernel before this.
func New(p Params) *Process {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pr := &Process{
		pid:        p.PID,
		pgid:       p.PGID,
		parentPID:  p.ParentPID,
		sessionPID: p.SessionPID,
		name:       p.Name,
		env:        p.Env,
		fs:         p.FS,
		dir:        p.Dir,
		stdin:      p.Stdin,
		stdout:     p.Stdout,
		stderr:     p.Stderr,
		done:       make(chan struct{}),
		finalizer:  p.Finalizer,
		logger:     logger,
	}
	pr.state.Store(int32(Embryo))
	return pr
}

func (p *Process) PID() uint32        { return p.pid }
func (p *Process) PGID() uint32       { return p.pgid }
func (p *Process) ParentPID() uint32  { return p.parentPID }
func (p *Process) SessionPID() uint32 { return p.sessionPID }
func (p *Process) Name() string       { return p.name }
func (p *Process) Env() *env.Env      { return p.env }
func (p *Process) FS() vfs.FS         { return p.fs }
func (p *Process) Dir() string        { return p.dir }

func (p *Process) Stdin() *stream.Stream  { return p.stdin }
func (p *Process) Stdout() *stream.Stream { return p.stdout }
func (p *Process) Stderr() *stream.Stream { return p.stderr }

func (p *Process) State() State {
	return State(p.state.Load())
}

// transition moves the state machine unless the process is already
// terminated. Terminated is final.
func (p *Process) transition(to State) bool {
	for {
		cur := p.state.Load()
		if State(cur) == Terminated {
			return false
		}
		if p.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

// MarkRunning is called by the kernel when the task is scheduled.
func (p *Process) MarkRunning() {
	p.transition(Running)
}

// Suspend parks the process. Suspension affects I/O wait semantics and
// foreground arbitration; a suspended task that never touches the TTY
// keeps executing.
func (p *Process) Suspend() {
	cur := State(p.state.Load())
	if cur == Running {
		p.state.CompareAndSwap(int32(Running), int32(Suspended))
	}
}

// Resume returns a suspended process to Running.
func (p *Process) Resume() {
	p.state.CompareAndSwap(int32(Suspended), int32(Running))
}

// AddCleanup registers a synchronous hook; hooks run LIFO at exit. If the
// process has already exited the hook runs immediately.
func (p *Process) AddCleanup(fn func()) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		p.runHook(fn)
		return
	}
	p.hooks = append(p.hooks, fn)
	p.mu.Unlock()
}

// AddResource registers an async resource; resources are closed in
// registration order at exit, before the sync hooks.
func (p *Process) AddResource(r Resource) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		p.closeResource(r)
		return
	}
	p.resources = append(p.resources, r)
	p.mu.Unlock()
}

// Wait blocks until the process completes and returns its exit code.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.exitCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Done is closed when the process has fully terminated and cleanup ran.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode is valid once Done is closed.
func (p *Process) ExitCode() int {
	return p.exitCode
}

// Exit terminates the process with code. The first call wins; later calls
// are no-ops. Resources are closed in registration order, then sync hooks
// run in reverse registration order; failures are logged and swallowed so
// completion always resolves.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	resources := p.resources
	hooks := p.hooks
	p.resources = nil
	p.hooks = nil
	p.mu.Unlock()

	p.transition(Zombie)

	for _, r := range resources {
		p.closeResource(r)
	}
	for i := len(hooks) - 1; i >= 0; i-- {
		p.runHook(hooks[i])
	}
	if p.finalizer != nil {
		p.runHook(func() { p.finalizer(p, code) })
	}

	p.transition(Terminated)
	p.exitCode = code
	close(p.done)
}

// Kill aborts any pending stdio with a SignalError so blocked readers and
// writers unblock, then exits with 128+sig. Killing a terminated process
// is a no-op.
func (p *Process) Kill(sig Signal) {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited {
		return
	}
	serr := &SignalError{Sig: sig}
	for _, s := range []*stream.Stream{p.stdin, p.stdout, p.stderr} {
		if s != nil {
			s.Abort(serr)
		}
	}
	p.Exit(sig.ExitCode())
}

func (p *Process) closeResource(r Resource) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("resource close panicked", "pid", p.pid, "panic", rec)
		}
	}()
	if err := r.Close(); err != nil {
		p.logger.Warn("resource close failed", "pid", p.pid, "error", err)
	}
}

func (p *Process) runHook(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("cleanup hook panicked", "pid", p.pid, "panic", rec)
		}
	}()
	fn()
}
