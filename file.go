package kvtree

import (
	"bytes"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// source is a random-access file handle owned by a reader.
type source interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// openSource opens path for reading, optionally memory-mapped.
func openSource(path string, useMmap bool) (source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	// zero-length files cannot be mapped
	if !useMmap || stat.Size() < FooterSize {
		return &fileSource{File: f, size: stat.Size()}, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &mmapSource{Reader: bytes.NewReader(m), m: m, f: f}, nil
}

type fileSource struct {
	*os.File
	size int64
}

func (s *fileSource) Size() int64 { return s.size }

type mmapSource struct {
	*bytes.Reader
	m mmap.MMap
	f *os.File
}

func (s *mmapSource) Close() error {
	err := s.m.Unmap()
	if e := s.f.Close(); e != nil && err == nil {
		err = e
	}
	return err
}
