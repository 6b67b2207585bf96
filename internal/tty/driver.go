package tty

import (
	"io"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/nick/minisys/internal/proc"
	"github.com/nick/minisys/internal/stream"
)

// Mode selects the line discipline.
type Mode int

const (
	// Cooked performs line editing, echo, and control-key interpretation.
	Cooked Mode = iota
	// Raw forwards bytes untouched, without echo.
	Raw
)

func (m Mode) String() string {
	if m == Raw {
		return "raw"
	}
	return "cooked"
}

// SignalFunc delivers a control-key signal to a process group.
type SignalFunc func(pgid uint32, sig proc.Signal)

// ForegroundFunc observes foreground-group changes.
type ForegroundFunc func(pgid uint32)

// cell is one line-buffer entry: the bytes of a single input unit and the
// number of screen cells its echo occupies (1 for printables, 2 for
// caret-notated controls).
type cell struct {
	b     []byte
	width int
}

// Driver implements the TTY line discipline for one session: cooked-mode
// editing and echo, raw-mode passthrough, control-key signal translation,
// and per-PGID input fan-out.
//
// Input must not block: when no subscriber is registered for the current
// foreground group, the input is dropped and a diagnostic logged.
type Driver struct {
	sessionID uint32

	mu      sync.Mutex
	mode    Mode
	fg      uint32
	line    []cell
	carry   []byte // partial multi-byte sequence across Feed calls
	subs    map[uint32]*stream.ChunkPipe
	pending []func() // signal dispatches deferred until the lock drops

	echo io.Writer

	signal       SignalFunc
	onForeground ForegroundFunc

	logger *slog.Logger
}

// NewDriver builds a driver for the session. echo is a bridge into the
// session's shared physical writer; the driver never closes it.
func NewDriver(sessionID uint32, echo io.Writer, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		sessionID: sessionID,
		fg:        sessionID,
		subs:      map[uint32]*stream.ChunkPipe{},
		echo:      echo,
		logger:    logger,
	}
}

func (d *Driver) SessionID() uint32 { return d.sessionID }

// OnSignal installs the kernel's signal dispatch.
func (d *Driver) OnSignal(fn SignalFunc) {
	d.mu.Lock()
	d.signal = fn
	d.mu.Unlock()
}

// OnForeground installs the kernel's foreground-change observer, used to
// flip the session leader between Running and Suspended.
func (d *Driver) OnForeground(fn ForegroundFunc) {
	d.mu.Lock()
	d.onForeground = fn
	d.mu.Unlock()
}

func (d *Driver) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *Driver) SetMode(m Mode) {
	d.mu.Lock()
	d.mode = m
	d.mu.Unlock()
}

// Foreground returns the current foreground PGID.
func (d *Driver) Foreground() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fg
}

// SetForeground rewires the foreground group. The change is visible
// atomically to the next incoming character.
func (d *Driver) SetForeground(pgid uint32) {
	d.mu.Lock()
	d.fg = pgid
	fn := d.onForeground
	d.mu.Unlock()
	if fn != nil {
		fn(pgid)
	}
}

// CreateStream registers a fresh text input stream for pgid and returns it
// wrapped with a mode-setter callback. An existing subscriber for the same
// group is closed first.
func (d *Driver) CreateStream(pgid uint32) *stream.Stream {
	pipe := stream.NewChunkPipe()
	d.mu.Lock()
	if old, ok := d.subs[pgid]; ok {
		old.Close()
	}
	d.subs[pgid] = pipe
	d.mu.Unlock()

	s := stream.NewReadable(pipe, stream.Text)
	s.OnSetMode = func(raw bool) {
		if raw {
			d.SetMode(Raw)
		} else {
			d.SetMode(Cooked)
		}
	}
	return s
}

// Unsubscribe closes and removes the input channel for pgid.
func (d *Driver) Unsubscribe(pgid uint32) {
	d.mu.Lock()
	pipe, ok := d.subs[pgid]
	if ok {
		delete(d.subs, pgid)
	}
	d.mu.Unlock()
	if ok {
		pipe.Close()
	}
}

// Subscribed reports whether pgid has an input channel.
func (d *Driver) Subscribed(pgid uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.subs[pgid]
	return ok
}

// Shutdown closes and drops every subscriber, so pending readers see EOF;
// used when the session leader exits.
func (d *Driver) Shutdown() {
	d.mu.Lock()
	subs := d.subs
	d.subs = map[uint32]*stream.ChunkPipe{}
	d.mu.Unlock()
	for _, pipe := range subs {
		pipe.Close()
	}
}

// Pump feeds the driver from the session's physical input until the reader
// errors out.
func (d *Driver) Pump(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			d.Feed(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				d.logger.Debug("tty input pump stopped", "session", d.sessionID, "error", err)
			}
			return
		}
	}
}

// Feed runs the line discipline over one input chunk. Signal dispatch is
// deferred until the driver lock drops, so the kernel's handlers may call
// back into the driver.
func (d *Driver) Feed(p []byte) {
	d.mu.Lock()

	if d.mode == Raw {
		d.deliver(p)
	} else {
		buf := append(d.carry, p...)
		d.carry = nil
		for len(buf) > 0 {
			b := buf[0]
			if b < utf8.RuneSelf {
				buf = buf[1:]
				d.cookByte(b)
				continue
			}
			if !utf8.FullRune(buf) {
				d.carry = append(d.carry, buf...)
				break
			}
			_, size := utf8.DecodeRune(buf)
			d.cookRune(buf[:size])
			buf = buf[size:]
		}
	}

	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// cookByte handles a single-byte input unit in cooked mode.
func (d *Driver) cookByte(b byte) {
	switch {
	case b == 0x03: // Ctrl-C
		d.writeEcho([]byte("^C\r\n"))
		d.interruptForeground()
		d.line = nil

	case b == 0x1A: // Ctrl-Z
		d.writeEcho([]byte("^Z\r\n"))
		if d.signal != nil {
			fg, sig := d.fg, d.signal
			d.pending = append(d.pending, func() { sig(fg, proc.SIGTSTP) })
		}
		d.line = nil

	case b == 0x04: // Ctrl-D / EOT
		if len(d.line) > 0 {
			d.deliver(d.lineBytes())
			d.line = nil
			return
		}
		if pipe, ok := d.subs[d.fg]; ok {
			pipe.Close()
			delete(d.subs, d.fg)
		}

	case b == 0x7F || b == 0x08: // BS / DEL
		if len(d.line) == 0 {
			return
		}
		last := d.line[len(d.line)-1]
		d.line = d.line[:len(d.line)-1]
		d.eraseCells(last.width)

	case b == '\r' || b == '\n':
		d.writeEcho([]byte("\r\n"))
		d.line = append(d.line, cell{b: []byte{'\n'}, width: 0})
		d.deliver(d.lineBytes())
		d.line = nil

	case b < 32 && b != '\t':
		d.writeEcho([]byte{'^', b + 64})
		d.line = append(d.line, cell{b: []byte{b}, width: 2})

	default:
		d.writeEcho([]byte{b})
		d.line = append(d.line, cell{b: []byte{b}, width: 1})
	}
}

// cookRune handles one multi-byte printable rune.
func (d *Driver) cookRune(seq []byte) {
	d.writeEcho(seq)
	c := cell{b: make([]byte, len(seq)), width: 1}
	copy(c.b, seq)
	d.line = append(d.line, c)
}

// interruptForeground terminates the foreground subscriber with an
// interrupted error, drops it, and queues SIGINT for the group. The
// subscriber dies first so a blocked read observes the interrupt rather
// than a later teardown error.
func (d *Driver) interruptForeground() {
	if pipe, ok := d.subs[d.fg]; ok {
		pipe.Abort(proc.ErrInterrupted)
		delete(d.subs, d.fg)
	}
	if d.signal != nil {
		fg, sig := d.fg, d.signal
		d.pending = append(d.pending, func() { sig(fg, proc.SIGINT) })
	}
}

func (d *Driver) lineBytes() []byte {
	var out []byte
	for _, c := range d.line {
		out = append(out, c.b...)
	}
	return out
}

// deliver hands a chunk to the foreground subscriber. The TTY never
// blocks: without a subscriber the input is dropped and logged.
func (d *Driver) deliver(p []byte) {
	pipe, ok := d.subs[d.fg]
	if !ok {
		d.logger.Warn("tty input dropped: no subscriber",
			"session", d.sessionID, "pgid", d.fg, "bytes", len(p))
		return
	}
	if _, err := pipe.Write(p); err != nil {
		d.logger.Warn("tty input dropped: subscriber rejected write",
			"session", d.sessionID, "pgid", d.fg, "error", err)
	}
}

// eraseCells backs over w screen cells: w BS, then w SPACE, then w BS.
func (d *Driver) eraseCells(w int) {
	if w <= 0 {
		return
	}
	seq := make([]byte, 0, 3*w)
	for i := 0; i < w; i++ {
		seq = append(seq, 0x08)
	}
	for i := 0; i < w; i++ {
		seq = append(seq, ' ')
	}
	for i := 0; i < w; i++ {
		seq = append(seq, 0x08)
	}
	d.writeEcho(seq)
}

func (d *Driver) writeEcho(p []byte) {
	if d.echo == nil {
		return
	}
	if _, err := d.echo.Write(p); err != nil {
		d.logger.Debug("tty echo write failed", "session", d.sessionID, "error", err)
	}
}
