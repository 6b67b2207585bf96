// Package programs holds the built-in user programs. Each registers its
// entry point with the loader registry from init, so a blank import of
// this package is enough to populate loader.Default.
package programs

import (
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/nick/minisys/internal/loader"
	"github.com/nick/minisys/internal/proc"
	"github.com/nick/minisys/internal/stream"
	"github.com/nick/minisys/internal/sys"
)

func init() {
	loader.Register("init", initMain)
	loader.Register("echo", echoMain)
	loader.Register("cat", catMain)
	loader.Register("env", envMain)
}

// writeString acquires the stream's text writer transiently so children
// sharing the same stdout can acquire it while the caller is waiting.
func writeString(s *stream.Stream, text string) {
	if s == nil {
		return
	}
	w, err := s.TextWriter()
	if err != nil {
		return
	}
	defer w.Release()
	w.WriteString(text)
}

// initMain is the boot program. With args it executes them as one command
// line and exits with its code; without args it runs an interactive
// read-eval loop on the controlling TTY.
func initMain(ctx context.Context, args []string, s sys.Syscalls, self *proc.Process) (int, error) {
	if len(args) > 0 {
		return s.ExecPath(ctx, self, args[0], args[1:], true, sys.IO{}, sys.SpawnOptions{NewGroup: true})
	}

	in, err := self.Stdin().TextReader()
	if err != nil {
		return 1, err
	}
	defer in.Release()

	prompt := self.Env().Get("PS1")
	for {
		writeString(self.Stdout(), prompt)
		line, err := in.ReadLine()
		if errors.Is(err, proc.ErrInterrupted) {
			if self.State() == proc.Terminated {
				// the interrupt also killed this process; stop
				// instead of spinning on the dead subscriber
				return proc.SIGINT.ExitCode(), nil
			}
			writeString(self.Stdout(), "\r\n")
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, nil
			}
			return 1, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" {
			return 0, nil
		}
		if _, err := s.ExecPath(ctx, self, fields[0], fields[1:], true, sys.IO{}, sys.SpawnOptions{NewGroup: true}); err != nil {
			writeString(self.Stderr(), err.Error()+"\r\n")
		}
	}
}

func echoMain(ctx context.Context, args []string, s sys.Syscalls, self *proc.Process) (int, error) {
	out, err := self.Stdout().TextWriter()
	if err != nil {
		return 1, err
	}
	defer out.Release()
	if _, err := out.WriteString(strings.Join(args, " ") + "\r\n"); err != nil {
		return 1, err
	}
	return 0, nil
}

func catMain(ctx context.Context, args []string, s sys.Syscalls, self *proc.Process) (int, error) {
	out, err := self.Stdout().ByteWriter()
	if err != nil {
		return 1, err
	}
	defer out.Release()

	if len(args) == 0 {
		in, err := self.Stdin().ByteReader()
		if err != nil {
			return 1, err
		}
		defer in.Release()
		if _, err := io.Copy(out, in); err != nil {
			return 1, err
		}
		return 0, nil
	}

	for _, name := range args {
		p := name
		if !path.IsAbs(p) {
			p = path.Join(self.Dir(), p)
		}
		f, err := self.FS().Open(p)
		if err != nil {
			return 1, err
		}
		_, cerr := io.Copy(out, f)
		f.Close()
		if cerr != nil {
			return 1, cerr
		}
	}
	return 0, nil
}

func envMain(ctx context.Context, args []string, s sys.Syscalls, self *proc.Process) (int, error) {
	out, err := self.Stdout().TextWriter()
	if err != nil {
		return 1, err
	}
	defer out.Release()

	vars := self.Env().All()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := out.WriteString(k + "=" + vars[k] + "\r\n"); err != nil {
			return 1, err
		}
	}
	return 0, nil
}
