package kernel

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/nick/minisys/internal/env"
	"github.com/nick/minisys/internal/loader"
	"github.com/nick/minisys/internal/proc"
	"github.com/nick/minisys/internal/stream"
	"github.com/nick/minisys/internal/sys"
	"github.com/nick/minisys/internal/vfs"
)

func newTestKernel() *Kernel {
	rootEnv := env.New()
	rootEnv.Set("PATH", "/bin")
	return New(Config{
		FS:      vfs.NewMemFS(),
		Loader:  loader.NewRegistry(),
		RootEnv: rootEnv,
	})
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// blockOnStdin is a task that reads one chunk from stdin and surfaces the
// read error as the task result.
func blockOnStdin(ctx context.Context, s sys.Syscalls, self *proc.Process) (int, error) {
	r, err := self.Stdin().TextReader()
	if err != nil {
		return 1, err
	}
	defer r.Release()
	if _, err := r.ReadChunk(); err != nil {
		return 0, err
	}
	return 0, nil
}

func TestKernel_SimpleExec(t *testing.T) {
	k := newTestKernel()
	out := stream.NewChunkPipe()

	task := func(ctx context.Context, s sys.Syscalls, self *proc.Process) (int, error) {
		w, err := self.Stdout().TextWriter()
		if err != nil {
			return 1, err
		}
		defer w.Release()
		if _, err := w.WriteString("hello\n"); err != nil {
			return 1, err
		}
		return 0, nil
	}

	p, err := k.Spawn(nil, "hello", task, true,
		sys.IO{Stdout: stream.NewWritable(out, stream.Bytes)}, sys.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	code, err := p.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 0 {
		t.Errorf("Expected exit code 0, got %d", code)
	}

	chunk, err := out.ReadChunk()
	if err != nil {
		t.Fatalf("output read failed: %v", err)
	}
	if string(chunk) != "hello\n" {
		t.Errorf("Expected hello output, got %q", chunk)
	}
	if k.Process(p.PID()) != nil {
		t.Error("Expected the process to be removed from the table")
	}
}

func TestKernel_PidsMonotonic(t *testing.T) {
	k := newTestKernel()
	noop := func(ctx context.Context, s sys.Syscalls, self *proc.Process) (int, error) {
		return 0, nil
	}
	var last uint32
	for i := 0; i < 3; i++ {
		p, err := k.Spawn(nil, "noop", noop, true, sys.IO{}, sys.SpawnOptions{})
		if err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
		if p.PID() <= last {
			t.Errorf("Expected pids to increase, got %d after %d", p.PID(), last)
		}
		last = p.PID()
		p.Wait(waitCtx(t))
	}
}

func TestKernel_PGIDPlacement(t *testing.T) {
	k := newTestKernel()
	block := func(ctx context.Context, s sys.Syscalls, self *proc.Process) (int, error) {
		<-self.Done()
		return 0, nil
	}

	parent, err := k.Spawn(nil, "parent", block, true, sys.IO{}, sys.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn parent failed: %v", err)
	}
	if parent.PGID() != parent.PID() {
		t.Errorf("Expected a parentless process to lead its own group")
	}

	inherit, _ := k.Spawn(parent, "inherit", block, true, sys.IO{}, sys.SpawnOptions{})
	if inherit.PGID() != parent.PGID() {
		t.Errorf("Expected inherited pgid %d, got %d", parent.PGID(), inherit.PGID())
	}

	leader, _ := k.Spawn(parent, "leader", block, true, sys.IO{}, sys.SpawnOptions{NewGroup: true})
	if leader.PGID() != leader.PID() {
		t.Errorf("Expected new-group child to lead its own group")
	}

	joined, _ := k.Spawn(parent, "joined", block, true, sys.IO{}, sys.SpawnOptions{PGID: leader.PGID()})
	if joined.PGID() != leader.PGID() {
		t.Errorf("Expected explicit pgid %d, got %d", leader.PGID(), joined.PGID())
	}

	for _, p := range []*proc.Process{parent, inherit, leader, joined} {
		p.Kill(proc.SIGKILL)
	}
}

func TestKernel_CtrlCInterruptsBlockingRead(t *testing.T) {
	k := newTestKernel()
	physIn := stream.NewChunkPipe()
	physOut := stream.NewChunkPipe()

	p, err := k.Spawn(nil, "sh", blockOnStdin, true, sys.IO{
		Stdin:  stream.NewReadable(physIn, stream.Bytes),
		Stdout: stream.NewWritable(physOut, stream.Bytes),
	}, sys.SpawnOptions{NewSession: true})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	physIn.WriteString("\x03")

	code, err := p.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 130 {
		t.Errorf("Expected exit code 130, got %d", code)
	}

	echo, err := physOut.ReadChunk()
	if err != nil {
		t.Fatalf("echo read failed: %v", err)
	}
	if string(echo) != "^C\r\n" {
		t.Errorf("Expected ^C echo on physical output, got %q", echo)
	}
	if k.Process(p.PID()) != nil {
		t.Error("Expected the process to be removed from the table")
	}
}

func TestKernel_CtrlZSuspendsForegroundGroup(t *testing.T) {
	k := newTestKernel()
	physIn := stream.NewChunkPipe()
	physOut := stream.NewChunkPipe()

	leader, err := k.Spawn(nil, "sh", blockOnStdin, true, sys.IO{
		Stdin:  stream.NewReadable(physIn, stream.Bytes),
		Stdout: stream.NewWritable(physOut, stream.Bytes),
	}, sys.SpawnOptions{NewSession: true})
	if err != nil {
		t.Fatalf("Spawn leader failed: %v", err)
	}

	child, err := k.Spawn(leader, "job", blockOnStdin, true, sys.IO{}, sys.SpawnOptions{NewGroup: true})
	if err != nil {
		t.Fatalf("Spawn child failed: %v", err)
	}
	if child.SessionPID() != leader.PID() {
		t.Errorf("Expected child session %d, got %d", leader.PID(), child.SessionPID())
	}
	if leader.State() != proc.Suspended {
		t.Errorf("Expected leader Suspended while child holds foreground, got %v", leader.State())
	}

	physIn.WriteString("\x1a")

	waitFor(t, "child suspension", func() bool { return child.State() == proc.Suspended })
	waitFor(t, "foreground restore", func() bool {
		fg, ok := k.GetForegroundPGID(leader.PID())
		return ok && fg == leader.PID()
	})

	d := k.Session(leader.PID())
	if d == nil {
		t.Fatal("Expected the session to survive")
	}
	if !d.Subscribed(child.PGID()) {
		t.Error("Expected the suspended group's subscriber to survive Ctrl-Z")
	}
	if leader.State() != proc.Running {
		t.Errorf("Expected leader Running again, got %v", leader.State())
	}

	// a later foreground handoff back to the stopped job must be possible
	if err := k.SetForegroundPGID(leader.PID(), child.PGID()); err != nil {
		t.Errorf("SetForegroundPGID failed: %v", err)
	}

	child.Kill(proc.SIGKILL)
	leader.Kill(proc.SIGKILL)
}

func TestKernel_PipeOrder(t *testing.T) {
	k := newTestKernel()
	pipe := stream.NewChunkPipe()

	writer := func(ctx context.Context, s sys.Syscalls, self *proc.Process) (int, error) {
		w, err := self.Stdout().TextWriter()
		if err != nil {
			return 1, err
		}
		for _, line := range []string{"1\n", "2\n", "3\n"} {
			if _, err := w.WriteString(line); err != nil {
				return 1, err
			}
		}
		w.Release()
		return 0, self.Stdout().Close()
	}

	collected := make(chan string, 1)
	reader := func(ctx context.Context, s sys.Syscalls, self *proc.Process) (int, error) {
		r, err := self.Stdin().ByteReader()
		if err != nil {
			return 1, err
		}
		defer r.Release()
		data, err := io.ReadAll(r)
		if err != nil {
			return 1, err
		}
		collected <- string(data)
		return 0, nil
	}

	a, err := k.Spawn(nil, "a", writer, true,
		sys.IO{Stdout: stream.NewWritable(pipe, stream.Bytes)}, sys.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn a failed: %v", err)
	}
	b, err := k.Spawn(nil, "b", reader, true,
		sys.IO{Stdin: stream.NewReadable(pipe, stream.Bytes)}, sys.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn b failed: %v", err)
	}

	if code, _ := a.Wait(waitCtx(t)); code != 0 {
		t.Errorf("Expected writer exit 0, got %d", code)
	}
	if code, _ := b.Wait(waitCtx(t)); code != 0 {
		t.Errorf("Expected reader exit 0, got %d", code)
	}
	if got := <-collected; got != "1\n2\n3\n" {
		t.Errorf("Expected 1\\n2\\n3\\n, got %q", got)
	}
}

func TestKernel_TaskPanicBecomesExitOne(t *testing.T) {
	k := newTestKernel()
	boom := func(ctx context.Context, s sys.Syscalls, self *proc.Process) (int, error) {
		panic("blew up")
	}
	stderr := stream.NewChunkPipe()
	p, err := k.Spawn(nil, "boom", boom, true,
		sys.IO{Stderr: stream.NewWritable(stderr, stream.Bytes)}, sys.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	code, err := p.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 1 {
		t.Errorf("Expected exit code 1 after panic, got %d", code)
	}
	diag, err := stderr.ReadChunk()
	if err != nil {
		t.Fatalf("stderr read failed: %v", err)
	}
	if len(diag) == 0 {
		t.Error("Expected a diagnostic on stderr")
	}
}

func TestKernel_SecondSessionAttachFails(t *testing.T) {
	k := newTestKernel()
	physIn := stream.NewChunkPipe()
	physOut := stream.NewChunkPipe()

	leader, err := k.Spawn(nil, "sh", blockOnStdin, true, sys.IO{
		Stdin:  stream.NewReadable(physIn, stream.Bytes),
		Stdout: stream.NewWritable(physOut, stream.Bytes),
	}, sys.SpawnOptions{NewSession: true})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	err = k.CreateSession(leader.PID(),
		stream.NewReadable(stream.NewChunkPipe(), stream.Bytes),
		stream.NewWritable(stream.NewChunkPipe(), stream.Bytes))
	if err == nil {
		t.Error("Expected attaching a second tty to the session to fail")
	}

	leader.Kill(proc.SIGKILL)
}

// holdStdin keeps consuming stdin until it errors, so the session stays up.
func holdStdin(ctx context.Context, s sys.Syscalls, self *proc.Process) (int, error) {
	r, err := self.Stdin().TextReader()
	if err != nil {
		return 1, err
	}
	defer r.Release()
	for {
		if _, err := r.ReadChunk(); err != nil {
			return 0, nil
		}
	}
}

func TestKernel_ScrollbackCapturesEcho(t *testing.T) {
	k := newTestKernel()
	physIn := stream.NewChunkPipe()
	physOut := stream.NewChunkPipe()

	leader, err := k.Spawn(nil, "sh", holdStdin, true, sys.IO{
		Stdin:  stream.NewReadable(physIn, stream.Bytes),
		Stdout: stream.NewWritable(physOut, stream.Bytes),
	}, sys.SpawnOptions{NewSession: true})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	physIn.WriteString("ok\r")
	waitFor(t, "echo in scrollback", func() bool {
		return string(k.SessionScrollback(leader.PID())) == "ok\r\n"
	})

	leader.Kill(proc.SIGKILL)
}

func TestKernel_SessionDiesWithLeader(t *testing.T) {
	k := newTestKernel()
	physIn := stream.NewChunkPipe()
	physOut := stream.NewChunkPipe()

	leader, err := k.Spawn(nil, "sh", blockOnStdin, true, sys.IO{
		Stdin:  stream.NewReadable(physIn, stream.Bytes),
		Stdout: stream.NewWritable(physOut, stream.Bytes),
	}, sys.SpawnOptions{NewSession: true})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if k.Session(leader.PID()) == nil {
		t.Fatal("Expected a session for the leader")
	}

	leader.Kill(proc.SIGKILL)
	if _, err := leader.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if k.Session(leader.PID()) != nil {
		t.Error("Expected the session to die with its leader")
	}
}

func TestKernel_SignalForegroundKills(t *testing.T) {
	k := newTestKernel()
	physIn := stream.NewChunkPipe()
	physOut := stream.NewChunkPipe()

	leader, err := k.Spawn(nil, "sh", blockOnStdin, true, sys.IO{
		Stdin:  stream.NewReadable(physIn, stream.Bytes),
		Stdout: stream.NewWritable(physOut, stream.Bytes),
	}, sys.SpawnOptions{NewSession: true})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	k.SignalForeground(leader.PID(), proc.SIGKILL)

	code, err := leader.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 137 {
		t.Errorf("Expected exit code 137, got %d", code)
	}
}

func TestKernel_ExitProcessUnknownPidIsNoop(t *testing.T) {
	k := newTestKernel()
	k.ExitProcess(999, 0) // must not panic
}

func TestKernel_TaskErrorMapsToSignalCode(t *testing.T) {
	if got := exitCodeFor(&proc.SignalError{Sig: proc.SIGKILL}); got != 137 {
		t.Errorf("Expected 137, got %d", got)
	}
	if got := exitCodeFor(proc.ErrInterrupted); got != 130 {
		t.Errorf("Expected 130, got %d", got)
	}
	if got := exitCodeFor(errors.New("other")); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
}
