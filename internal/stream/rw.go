package stream

import (
	"io"
	"unicode/utf8"
)

// ByteReader reads raw bytes from a stream's endpoint.
type ByteReader struct {
	s *Stream
	r io.Reader
}

func (br *ByteReader) Read(p []byte) (int, error) {
	return br.r.Read(p)
}

// ReadChunk returns one delivery unit when the endpoint preserves chunk
// boundaries, else a plain buffered read.
func (br *ByteReader) ReadChunk() ([]byte, error) {
	if cr, ok := br.r.(chunkReader); ok {
		return cr.ReadChunk()
	}
	buf := make([]byte, 4096)
	n, err := br.r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

// ReadChunkInto reads one delivery unit into the caller's fixed buffer,
// surfacing ErrBufferOverflow when it does not fit.
func (br *ByteReader) ReadChunkInto(p []byte) (int, error) {
	if cp, ok := br.r.(*ChunkPipe); ok {
		return cp.ReadChunkInto(p)
	}
	return br.r.Read(p)
}

// Release returns the read side so another holder may acquire it.
func (br *ByteReader) Release() {
	br.s.releaseReader()
}

// TextReader decodes the byte endpoint into strings. Partial multi-byte
// sequences at a chunk edge are carried into the next read, so split UTF-8
// never produces replacement runes mid-stream.
type TextReader struct {
	s     *Stream
	r     io.Reader
	carry []byte
}

// ReadChunk returns the next delivery unit as a string. At clean EOF any
// carried partial sequence is flushed as-is.
func (tr *TextReader) ReadChunk() (string, error) {
	for {
		var raw []byte
		var err error
		if cr, ok := tr.r.(chunkReader); ok {
			raw, err = cr.ReadChunk()
		} else {
			buf := make([]byte, 4096)
			var n int
			n, err = tr.r.Read(buf)
			raw = buf[:n]
		}
		if err != nil {
			if err == io.EOF && len(tr.carry) > 0 {
				out := string(tr.carry)
				tr.carry = nil
				return out, nil
			}
			return "", err
		}
		buf := append(tr.carry, raw...)
		tr.carry = nil
		// hold back a trailing incomplete multi-byte sequence
		cut := len(buf)
		for i := len(buf) - 1; i >= 0 && i > len(buf)-utf8.UTFMax; i-- {
			if utf8.RuneStart(buf[i]) {
				if !utf8.FullRune(buf[i:]) {
					cut = i
				}
				break
			}
		}
		if cut < len(buf) {
			tr.carry = append(tr.carry, buf[cut:]...)
		}
		if cut == 0 {
			continue // nothing complete yet, wait for the rest
		}
		return string(buf[:cut]), nil
	}
}

// ReadLine reads chunks until a newline or EOF and returns the
// accumulated text including the trailing newline when present.
func (tr *TextReader) ReadLine() (string, error) {
	var out []byte
	for {
		chunk, err := tr.ReadChunk()
		if err != nil {
			if err == io.EOF && len(out) > 0 {
				return string(out), nil
			}
			return string(out), err
		}
		out = append(out, chunk...)
		if len(chunk) > 0 && chunk[len(chunk)-1] == '\n' {
			return string(out), nil
		}
	}
}

func (tr *TextReader) Release() {
	tr.s.releaseReader()
}

// ByteWriter writes raw bytes to a stream's endpoint.
type ByteWriter struct {
	s *Stream
	w io.Writer
}

func (bw *ByteWriter) Write(p []byte) (int, error) {
	return bw.w.Write(p)
}

func (bw *ByteWriter) Release() {
	bw.s.releaseWriter()
}

// TextWriter writes strings as UTF-8 bytes.
type TextWriter struct {
	s *Stream
	w io.Writer
}

func (tw *TextWriter) WriteString(str string) (int, error) {
	return tw.w.Write([]byte(str))
}

func (tw *TextWriter) Write(p []byte) (int, error) {
	return tw.w.Write(p)
}

func (tw *TextWriter) Release() {
	tw.s.releaseWriter()
}
