package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/muesli/cancelreader"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/nick/minisys/internal/config"
	"github.com/nick/minisys/internal/stream"
	"github.com/nick/minisys/internal/sys"

	_ "github.com/nick/minisys/internal/programs"
)

// setupLogger routes kernel diagnostics to the configured file; with no
// file everything is discarded so nothing leaks onto the raw terminal.
func setupLogger(logPath string) (*slog.Logger, *os.File, error) {
	if logPath == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(slog.NewTextHandler(f, nil)), f, nil
}

func main() {
	cli := ParseCLI()

	cfg, err := config.LoadConfig(cli.ConfigFile)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if len(cli.Init) > 0 {
		cfg.Init = cli.Init
	}

	logger, logFile, err := setupLogger(cfg.LogFile)
	if err != nil {
		slog.Error("log file open failed", "error", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	k, err := boot(cfg, logger)
	if err != nil {
		slog.Error("boot failed", "error", err)
		os.Exit(1)
	}

	// raw mode: the kernel's TTY driver owns the line discipline from here
	stdinFd := int(os.Stdin.Fd())
	var oldState *term.State
	if term.IsTerminal(stdinFd) {
		oldState, err = term.MakeRaw(stdinFd)
		if err != nil {
			slog.Error("raw mode failed", "error", err)
			os.Exit(1)
		}
	}
	restore := func() {
		if oldState != nil {
			term.Restore(stdinFd, oldState)
		}
	}

	reader, err := cancelreader.NewReader(os.Stdin)
	if err != nil {
		restore()
		slog.Error("stdin reader failed", "error", err)
		os.Exit(1)
	}

	// pump the physical terminal into the session stdin pipe
	stdinPipe := stream.NewChunkPipe()
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := reader.Read(buf)
			if n > 0 {
				stdinPipe.Write(buf[:n])
			}
			if err != nil {
				stdinPipe.Close()
				return
			}
		}
	}()

	// host signals: SIGWINCH is irrelevant without a UI surface, SIGTERM
	// and SIGHUP unwind the console
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGHUP, unix.SIGWINCH)
	go func() {
		for s := range sigCh {
			if s == unix.SIGWINCH {
				continue
			}
			logger.Info("console shutting down", "signal", s)
			reader.Cancel()
			return
		}
	}()

	ioStreams := sys.IO{
		Stdin:  stream.NewReadable(stdinPipe, stream.Bytes),
		Stdout: stream.NewWritable(os.Stdout, stream.Bytes),
	}
	code, err := k.ExecPath(context.Background(), nil, cfg.Init[0], cfg.Init[1:], false,
		ioStreams, sys.SpawnOptions{NewSession: true})
	reader.Cancel()
	restore()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	os.Exit(code)
}
