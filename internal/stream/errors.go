package stream

import "errors"

var (
	// ErrBusy is returned when acquiring a reader or writer on a stream
	// whose reader/writer is already held.
	ErrBusy = errors.New("stream busy")

	// ErrClosed is returned by writes into a closed pipe.
	ErrClosed = errors.New("stream closed")

	// ErrBufferOverflow is returned by ReadChunkInto when the next chunk
	// does not fit the provided buffer. The chunk stays queued.
	ErrBufferOverflow = errors.New("buffer overflow")
)
