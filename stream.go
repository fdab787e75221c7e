package kvtree

import (
	"bufio"
	"bytes"
	"io"
)

const streamBufferSize = 4096

// ValueStream is a bounded, buffered view over a stored value. It never reads
// beyond the end of the value.
type ValueStream struct {
	*bufio.Reader
	size int64
}

// NewValueStream returns a stream over [start, end) of r.
func NewValueStream(r io.ReaderAt, start, end int64) *ValueStream {
	if end < start {
		end = start
	}
	size := end - start

	bufSize := streamBufferSize
	if size < int64(bufSize) {
		bufSize = int(size)
	}
	if bufSize < 16 {
		bufSize = 16 // bufio minimum
	}

	return &ValueStream{
		Reader: bufio.NewReaderSize(io.NewSectionReader(r, start, size), bufSize),
		size:   size,
	}
}

// newBytesStream returns a stream over an in-memory value.
func newBytesStream(p []byte) *ValueStream {
	return NewValueStream(bytes.NewReader(p), 0, int64(len(p)))
}

// Size returns the total length of the stream in bytes.
func (s *ValueStream) Size() int64 { return s.size }
