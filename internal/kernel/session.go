package kernel

import (
	"fmt"
	"io"

	"github.com/nick/minisys/internal/proc"
	"github.com/nick/minisys/internal/stream"
	"github.com/nick/minisys/internal/tty"
)

// CreateSession attaches a TTY to sessionPID over the physical stdin and
// stdout streams. The physical writer is acquired here, exactly once per
// session lifetime; echo and program output both route through serialized
// bridges into it.
func (k *Kernel) CreateSession(sessionPID uint32, stdin, stdout *stream.Stream) error {
	_, _, err := k.createSession(sessionPID, stdin, stdout)
	return err
}

func (k *Kernel) createSession(sessionPID uint32, stdin, stdout *stream.Stream) (*tty.Driver, *stream.SerialWriter, error) {
	k.mu.Lock()
	if _, exists := k.sessions[sessionPID]; exists {
		k.mu.Unlock()
		return nil, nil, fmt.Errorf("session %d already has a tty", sessionPID)
	}
	k.mu.Unlock()

	// the one-time physical writer acquisition
	bw, err := stdout.ByteWriter()
	if err != nil {
		return nil, nil, fmt.Errorf("acquire physical writer for session %d: %w", sessionPID, err)
	}
	br, err := stdin.ByteReader()
	if err != nil {
		bw.Release()
		return nil, nil, fmt.Errorf("acquire physical reader for session %d: %w", sessionPID, err)
	}
	scroll := stream.NewScrollback(k.sbSize)
	out := stream.NewSerialWriter(io.MultiWriter(scroll, bw))

	d := tty.NewDriver(sessionPID, out.Handle(), k.logger)
	d.OnSignal(func(pgid uint32, sig proc.Signal) {
		k.dispatchTTY(d, pgid, sig)
	})
	d.OnForeground(func(fg uint32) {
		leader := k.Process(sessionPID)
		if leader == nil {
			return
		}
		if fg == sessionPID {
			leader.Resume()
		} else {
			leader.Suspend()
		}
	})

	k.mu.Lock()
	k.sessions[sessionPID] = &session{driver: d, out: out, scroll: scroll}
	k.mu.Unlock()

	go d.Pump(br)

	k.logger.Debug("session created", "session", sessionPID)
	return d, out, nil
}

// Session returns the TTY driver for sessionPID, or nil.
func (k *Kernel) Session(sessionPID uint32) *tty.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if s := k.sessions[sessionPID]; s != nil {
		return s.driver
	}
	return nil
}

// SetForegroundPGID rewires which group receives the session's input. The
// session leader is Suspended whenever the foreground is not its own
// group, Running otherwise.
func (k *Kernel) SetForegroundPGID(sessionPID, pgid uint32) error {
	d := k.Session(sessionPID)
	if d == nil {
		return fmt.Errorf("no session %d", sessionPID)
	}
	d.SetForeground(pgid)
	return nil
}

// GetForegroundPGID reports the session's foreground group.
func (k *Kernel) GetForegroundPGID(sessionPID uint32) (uint32, bool) {
	d := k.Session(sessionPID)
	if d == nil {
		return 0, false
	}
	return d.Foreground(), true
}

// SetTTYMode switches the session's line discipline.
func (k *Kernel) SetTTYMode(sessionPID uint32, mode tty.Mode) error {
	d := k.Session(sessionPID)
	if d == nil {
		return fmt.Errorf("no session %d", sessionPID)
	}
	d.SetMode(mode)
	return nil
}

// SessionScrollback returns a copy of the bytes the session has emitted on
// its physical output.
func (k *Kernel) SessionScrollback(sessionPID uint32) []byte {
	k.mu.RLock()
	s := k.sessions[sessionPID]
	k.mu.RUnlock()
	if s == nil {
		return nil
	}
	return s.scroll.Bytes()
}
