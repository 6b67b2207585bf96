package stream

import (
	"io"
	"sync"
)

// Kind tags the element type a Stream was constructed around.
type Kind int

const (
	Bytes Kind = iota
	Text
)

func (k Kind) String() string {
	if k == Text {
		return "text"
	}
	return "bytes"
}

// Aborter is implemented by endpoints that can fail pending I/O with a
// typed reason (ChunkPipe does).
type Aborter interface {
	Abort(reason error)
}

// chunkReader is detected so text readers can preserve delivery boundaries
// (a cooked-mode line arrives as one chunk).
type chunkReader interface {
	ReadChunk() ([]byte, error)
}

// Stream wraps one directional endpoint and hands out byte- or text-typed
// readers/writers. Access of the opposite kind to the stream's own is
// bridged by a cached UTF-8 codec; the decoder tolerates multi-byte
// sequences split across chunk boundaries.
//
// At most one reader and one writer may be held at a time; a second
// acquisition fails with ErrBusy until Release.
type Stream struct {
	kind Kind

	mu         sync.Mutex
	src        io.Reader
	sink       io.Writer
	readerHeld bool
	writerHeld bool

	// cached codec state survives release/re-acquire cycles
	textReader *TextReader
	byteReader *ByteReader
	textWriter *TextWriter
	byteWriter *ByteWriter

	// OnSetMode, when non-nil, lets the holder flip the line discipline of
	// the TTY feeding this stream (raw=true disables cooking).
	OnSetMode func(raw bool)
}

// NewReadable wraps a read endpoint.
func NewReadable(src io.Reader, kind Kind) *Stream {
	return &Stream{kind: kind, src: src}
}

// NewWritable wraps a write endpoint.
func NewWritable(sink io.Writer, kind Kind) *Stream {
	return &Stream{kind: kind, sink: sink}
}

func (s *Stream) Kind() Kind { return s.kind }

// SetMode forwards to the TTY mode-setter wired at spawn time. It is a
// no-op on streams not backed by a TTY.
func (s *Stream) SetMode(raw bool) {
	if s.OnSetMode != nil {
		s.OnSetMode(raw)
	}
}

// ByteReader acquires the read side as bytes.
func (s *Stream) ByteReader() (*ByteReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return nil, io.ErrClosedPipe
	}
	if s.readerHeld {
		return nil, ErrBusy
	}
	s.readerHeld = true
	if s.byteReader == nil {
		s.byteReader = &ByteReader{s: s, r: s.src}
	}
	return s.byteReader, nil
}

// TextReader acquires the read side as text, interposing the UTF-8 decoder
// when the stream is byte-kinded.
func (s *Stream) TextReader() (*TextReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return nil, io.ErrClosedPipe
	}
	if s.readerHeld {
		return nil, ErrBusy
	}
	s.readerHeld = true
	if s.textReader == nil {
		s.textReader = &TextReader{s: s, r: s.src}
	}
	return s.textReader, nil
}

// ByteWriter acquires the write side as bytes.
func (s *Stream) ByteWriter() (*ByteWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return nil, io.ErrClosedPipe
	}
	if s.writerHeld {
		return nil, ErrBusy
	}
	s.writerHeld = true
	if s.byteWriter == nil {
		s.byteWriter = &ByteWriter{s: s, w: s.sink}
	}
	return s.byteWriter, nil
}

// TextWriter acquires the write side as text; the encoder is plain UTF-8
// byte emission.
func (s *Stream) TextWriter() (*TextWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return nil, io.ErrClosedPipe
	}
	if s.writerHeld {
		return nil, ErrBusy
	}
	s.writerHeld = true
	if s.textWriter == nil {
		s.textWriter = &TextWriter{s: s, w: s.sink}
	}
	return s.textWriter, nil
}

func (s *Stream) releaseReader() {
	s.mu.Lock()
	s.readerHeld = false
	s.mu.Unlock()
}

func (s *Stream) releaseWriter() {
	s.mu.Lock()
	s.writerHeld = false
	s.mu.Unlock()
}

// Abort cancels the underlying endpoint; pending and future I/O complete
// with reason. Endpoints without abort support are closed instead.
func (s *Stream) Abort(reason error) {
	s.mu.Lock()
	src, sink := s.src, s.sink
	s.mu.Unlock()
	if a, ok := src.(Aborter); ok {
		a.Abort(reason)
	} else if c, ok := src.(io.Closer); ok && src != nil {
		c.Close()
	}
	if sink == nil {
		return
	}
	if a, ok := sink.(Aborter); ok {
		a.Abort(reason)
	} else if c, ok := sink.(io.Closer); ok {
		c.Close()
	}
}

// Close shuts the underlying endpoint down cleanly (EOF for readers).
func (s *Stream) Close() error {
	s.mu.Lock()
	src, sink := s.src, s.sink
	s.mu.Unlock()
	var err error
	if c, ok := src.(io.Closer); ok && src != nil {
		err = c.Close()
	}
	if c, ok := sink.(io.Closer); ok && sink != nil {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
