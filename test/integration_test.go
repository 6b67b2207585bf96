//go:build integration

// Integration tests for the minisys console.
//
// The binary is built once in TestMain and driven through a real pty, so
// the raw-mode terminal handling and the kernel's line discipline are
// exercised end to end.
//
// Run with:
//
//	go test -tags=integration -v ./test/
package integration_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var minisysBin string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "minisys-build")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	minisysBin = filepath.Join(dir, "minisys")
	build := exec.Command("go", "build", "-o", minisysBin, "../cmd/minisys")
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		panic(err)
	}

	os.Exit(m.Run())
}

// console wraps a running minisys process attached to a pty.
type console struct {
	cmd *exec.Cmd
	tty *os.File

	mu  sync.Mutex
	out strings.Builder
}

func startConsole(t *testing.T, args ...string) *console {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "minisys.yaml")
	content := "env_file: " + filepath.Join(dir, "env.kv") + "\n" +
		"log_file: " + filepath.Join(dir, "minisys.log") + "\n"
	require.NoError(t, os.WriteFile(cfg, []byte(content), 0o644))

	cmd := exec.Command(minisysBin, append([]string{"-f", cfg}, args...)...)
	tty, err := pty.Start(cmd)
	require.NoError(t, err)

	c := &console{cmd: cmd, tty: tty}
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := tty.Read(buf)
			if n > 0 {
				c.mu.Lock()
				c.out.Write(buf[:n])
				c.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
		tty.Close()
	})
	return c
}

func (c *console) output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func (c *console) send(t *testing.T, s string) {
	t.Helper()
	_, err := c.tty.Write([]byte(s))
	require.NoError(t, err)
}

func (c *console) waitFor(t *testing.T, substr string) string {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if out := c.output(); strings.Contains(out, substr) {
			return out
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q; output so far:\n%s", substr, c.output())
	return ""
}

func (c *console) waitExit(t *testing.T) int {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()
	select {
	case <-done:
		return c.cmd.ProcessState.ExitCode()
	case <-time.After(10 * time.Second):
		t.Fatal("console did not exit")
		return -1
	}
}

func TestConsole_EchoAndCleanExit(t *testing.T) {
	c := startConsole(t)

	c.waitFor(t, "$ ")
	c.send(t, "echo hello\r")
	out := c.waitFor(t, "hello\r\n$ ")
	assert.Contains(t, out, "echo hello\r\n", "typed line should be echoed by the line discipline")

	c.send(t, "\x04") // EOF ends the shell
	assert.Equal(t, 0, c.waitExit(t))
}

func TestConsole_CtrlCKillsForeground(t *testing.T) {
	c := startConsole(t)

	c.waitFor(t, "$ ")
	c.send(t, "partial\x03")
	c.waitFor(t, "partial^C\r\n")

	// the prompt is the foreground group, so the interrupt terminates
	// the whole session
	assert.Equal(t, 130, c.waitExit(t))
}

func TestConsole_OneShotInitCommand(t *testing.T) {
	c := startConsole(t, "echo", "one-shot")
	c.waitFor(t, "one-shot\r\n")
	assert.Equal(t, 0, c.waitExit(t))
}
