package kernel

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/nick/minisys/internal/env"
	"github.com/nick/minisys/internal/proc"
	"github.com/nick/minisys/internal/stream"
	"github.com/nick/minisys/internal/sys"
)

// Spawn constructs a process, attaches it to the table, and schedules task
// on its own goroutine. The caller always receives the handle before the
// task's completion is acted on; task failure, panic included, lands in
// ExitProcess.
func (k *Kernel) Spawn(parent *proc.Process, name string, task sys.Task, copyEnv bool, io sys.IO, opts sys.SpawnOptions) (*proc.Process, error) {
	pid := k.allocPID()

	// group placement: own group, explicit group, inherited, or self
	var pgid uint32
	switch {
	case opts.NewGroup || opts.NewSession:
		pgid = pid
	case opts.PGID != 0:
		pgid = opts.PGID
	case parent != nil:
		pgid = parent.PGID()
	default:
		pgid = pid
	}

	var sessionPID uint32
	switch {
	case opts.NewSession:
		sessionPID = pid
	case parent != nil && parent.Env().Get(sessionEnvKey) != "":
		v, err := strconv.ParseUint(parent.Env().Get(sessionEnvKey), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad %s on pid %d: %w", sessionEnvKey, parent.PID(), err)
		}
		sessionPID = uint32(v)
	case parent != nil && k.Session(parent.PID()) != nil:
		sessionPID = parent.PID()
	default:
		sessionPID = pid
	}

	stdin, stdout, stderr := io.Stdin, io.Stdout, io.Stderr

	if opts.NewSession && stdin != nil && stdout != nil {
		if _, _, err := k.createSession(sessionPID, stdin, stdout); err != nil {
			return nil, err
		}
		// the physical writer now belongs to the session; the process
		// gets a serialized bridge below, next to the TTY echo bridge
		stdout = nil
	}

	if d := k.Session(sessionPID); d != nil && (opts.NewSession || io.Stdin == nil) {
		stdin = d.CreateStream(pgid)
	}

	// a session child writes through its own bridge into the shared
	// writer, so killing it never disturbs a sibling's output handle
	if s := k.sessionRec(sessionPID); s != nil {
		if stdout == nil {
			stdout = stream.NewWritable(s.out.Handle(), stream.Bytes)
		}
		if stderr == nil {
			stderr = stream.NewWritable(s.out.Handle(), stream.Bytes)
		}
	}

	if parent != nil {
		if stdout == nil {
			stdout = parent.Stdout()
		}
		if stderr == nil {
			stderr = parent.Stderr()
		}
		if stdin == nil {
			stdin = parent.Stdin()
		}
	}

	var e *env.Env
	base := k.rootEnv
	if parent != nil {
		base = parent.Env()
	}
	if copyEnv {
		e = base.Clone()
	} else {
		e = base
	}

	dir := opts.Dir
	if dir == "" {
		if parent != nil {
			dir = parent.Dir()
		} else {
			dir = "/"
		}
	}

	var parentPID uint32
	if parent != nil {
		parentPID = parent.PID()
	}

	p := proc.New(proc.Params{
		PID:        pid,
		PGID:       pgid,
		ParentPID:  parentPID,
		SessionPID: sessionPID,
		Name:       name,
		Env:        e,
		FS:         k.fs,
		Dir:        dir,
		Stdin:      stdin,
		Stdout:     stdout,
		Stderr:     stderr,
		Logger:     k.logger,
		Finalizer:  k.finalizeExit,
	})

	k.mu.Lock()
	k.procs[pid] = p
	k.mu.Unlock()

	if sessionPID > 0 {
		e.Set(sessionEnvKey, formatPID(sessionPID))
	}
	if opts.NewGroup && !opts.NewSession {
		if d := k.Session(sessionPID); d != nil {
			d.SetForeground(pgid)
		}
	}

	k.logger.Debug("spawned", "pid", pid, "pgid", pgid, "session", sessionPID, "name", name)

	p.MarkRunning()
	// the task waits until Spawn has returned the handle to its caller
	start := make(chan struct{})
	go func() {
		<-start
		k.runTask(p, task)
	}()
	defer close(start)
	return p, nil
}

// runTask is the spawn shim: it runs the task, converts failure into an
// exit code, reports diagnostics to the process's stderr best-effort, and
// always funnels into ExitProcess.
func (k *Kernel) runTask(p *proc.Process, task sys.Task) {
	code := 1
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("task panicked", "pid", p.PID(), "name", p.Name(), "panic", r)
			k.reportError(p, fmt.Sprintf("%s: panic: %v", p.Name(), r))
			code = 1
		}
		k.ExitProcess(p.PID(), code)
	}()

	c, err := task(context.Background(), k, p)
	if err != nil {
		k.reportError(p, fmt.Sprintf("%s: %v", p.Name(), err))
		code = exitCodeFor(err)
		return
	}
	code = c
}

// exitCodeFor maps a task error to the exit-code contract: signalled
// termination is 128+signal, everything else is 1.
func exitCodeFor(err error) int {
	var serr *proc.SignalError
	if errors.As(err, &serr) {
		return serr.Sig.ExitCode()
	}
	if errors.Is(err, proc.ErrInterrupted) {
		return proc.SIGINT.ExitCode()
	}
	return 1
}

// reportError writes a diagnostic line to the process's stderr. The kernel
// never emits onto stdout on a process's behalf.
func (k *Kernel) reportError(p *proc.Process, msg string) {
	s := p.Stderr()
	if s == nil {
		return
	}
	w, err := s.TextWriter()
	if err != nil {
		return
	}
	defer w.Release()
	if _, err := w.WriteString(msg + "\r\n"); err != nil {
		k.logger.Debug("stderr diagnostic dropped", "pid", p.PID(), "error", err)
	}
}

// StartProcess resolves path, loads its entry point, and spawns a process
// running it. The loader's module keys are released when the process
// exits, or immediately if the spawn itself fails.
func (k *Kernel) StartProcess(ctx context.Context, parent *proc.Process, name string, args []string, copyEnv bool, io sys.IO, opts sys.SpawnOptions) (*proc.Process, error) {
	resolved, err := k.Resolve(parent, name)
	if err != nil {
		return nil, err
	}
	entry, keys, err := k.loader.Load(ctx, resolved, k.fs)
	if err != nil {
		return nil, err
	}

	task := func(ctx context.Context, s sys.Syscalls, self *proc.Process) (int, error) {
		return entry(ctx, args, s, self)
	}
	p, err := k.Spawn(parent, path.Base(resolved), task, copyEnv, io, opts)
	if err != nil {
		k.loader.Release(keys)
		return nil, err
	}
	p.AddCleanup(func() {
		k.loader.Release(keys)
	})
	return p, nil
}

// ExecPath starts path and waits for it.
func (k *Kernel) ExecPath(ctx context.Context, parent *proc.Process, name string, args []string, copyEnv bool, io sys.IO, opts sys.SpawnOptions) (int, error) {
	p, err := k.StartProcess(ctx, parent, name, args, copyEnv, io, opts)
	if err != nil {
		return 0, err
	}
	return p.Wait(ctx)
}
