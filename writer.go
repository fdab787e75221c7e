package kvtree

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriterOptions define writer specific options.
type WriterOptions struct {
	// BlockSize is the target size in bytes of each block. Keys must be
	// shorter than the block size. A single entry that exceeds the block size
	// is stored in a block of its own.
	// Default: 16KiB.
	BlockSize int

	// CacheGroupSize is the number of keys readers decode at once when
	// scanning a block. It is stored in the manifest.
	// Default: 1.
	CacheGroupSize int

	// The value compression codec to use.
	// Default: NoCompression.
	Compression Compression

	// Manifest entries to store with the file. Values are persisted verbatim.
	Manifest Manifest

	// Metrics receives build counters.
	// Default: NoMetrics.
	Metrics Metrics
}

func (o *WriterOptions) norm() *WriterOptions {
	var oo WriterOptions
	if o != nil {
		oo = *o
	}

	if oo.BlockSize < 1 {
		oo.BlockSize = defaultBlockSize
	}
	if oo.CacheGroupSize < 1 {
		oo.CacheGroupSize = defaultCacheGroupSize
	}
	if !oo.Compression.isValid() {
		oo.Compression = NoCompression
	}
	if oo.Metrics == nil {
		oo.Metrics = NoMetrics
	}

	return &oo
}

// Writer instances can write a file.
type Writer struct {
	w io.Writer
	c io.Closer // set if the writer owns the output
	o *WriterOptions

	codec    Codec
	manifest Manifest

	offset   int64       // the current file offset
	block    blockWriter // the current block
	index    []blockInfo
	lastKey  []byte
	keyCount int64

	buf []byte // scratch buffer
	enc []byte // encoded value buffer

	closed bool
}

// NewWriter wraps a writer and returns a Writer.
func NewWriter(w io.Writer, o *WriterOptions) *Writer {
	o = o.norm()

	manifest := o.Manifest.Copy()
	if _, ok := manifest[ManifestWriterClass]; !ok {
		manifest[ManifestWriterClass] = "kvtree.Writer"
	}
	if _, ok := manifest[ManifestReaderClass]; !ok {
		manifest[ManifestReaderClass] = "kvtree.Reader"
	}

	return &Writer{
		w:        w,
		o:        o,
		codec:    codecs[o.Compression],
		manifest: manifest,
	}
}

// Create creates a file at path, including any missing parent directories,
// and returns a Writer that owns it.
func Create(path string, o *WriterOptions) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	fw := &fileWriter{Writer: bufio.NewWriterSize(f, 64*1024), f: f}
	w := NewWriter(fw, o)
	w.c = fw
	w.manifest[ManifestFilename] = path
	return w, nil
}

// Manifest returns the manifest which will be stored on Close. Callers may add
// their own entries until then.
func (w *Writer) Manifest() Manifest { return w.manifest }

// Append appends an entry to the file. Keys must be strictly ascending.
func (w *Writer) Append(key, value []byte) error {
	if w.closed {
		return errClosed
	}

	if w.keyCount != 0 && bytes.Compare(key, w.lastKey) <= 0 {
		return errors.Wrapf(ErrOutOfOrder, "%q must be > %q", key, w.lastKey)
	}
	if len(key) >= w.o.BlockSize {
		return errors.Wrapf(ErrKeyTooLong, "%d bytes, block size is %d", len(key), w.o.BlockSize)
	}

	val := value
	if w.o.Compression != NoCompression {
		w.enc = w.codec.Encode(w.enc[:0], value)
		val = w.enc
	}

	if w.block.Len() != 0 && w.block.Size()+entrySize(key, val) > w.o.BlockSize {
		if err := w.flush(); err != nil {
			return err
		}
	}

	w.block.Add(key, val)
	w.lastKey = append(w.lastKey[:0], key...)
	w.keyCount++
	w.o.Metrics.Increment(MetricRecordsWritten)

	return nil
}

// Close flushes all buffered data and writes the vocabulary, the manifest and
// the footer.
func (w *Writer) Close() error {
	if w.closed {
		return errClosed
	}
	w.closed = true

	err := w.finish()
	if w.c != nil {
		if e := w.c.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (w *Writer) finish() error {
	if err := w.flush(); err != nil {
		return err
	}

	w.manifest[ManifestEmptyIndexFile] = len(w.index) == 0
	w.manifest[ManifestKeyCount] = w.keyCount
	w.manifest[ManifestBlockCount] = len(w.index)
	w.manifest[ManifestBlockSize] = w.o.BlockSize
	w.manifest[ManifestMaxKeySize] = w.o.BlockSize - 1
	w.manifest[ManifestCacheGroupSize] = w.o.CacheGroupSize
	w.manifest[ManifestCompression] = w.codec.Name()

	vocabularyOffset := w.offset
	w.buf = appendVocabulary(w.buf[:0], successor(w.lastKey), w.index)
	if err := w.writeRaw(w.buf); err != nil {
		return err
	}

	manifestOffset := w.offset
	data, err := w.manifest.marshal()
	if err != nil {
		return err
	}
	if err := w.writeRaw(data); err != nil {
		return err
	}

	if err := w.writeFooter(vocabularyOffset, manifestOffset); err != nil {
		return err
	}

	log.Infow("wrote file", "keys", w.keyCount, "blocks", len(w.index), "bytes", w.offset)
	return nil
}

// writeFooter writes the fixed-size footer.
//
//	+-----------------------------+---------------------------+---------------------+-----------------+
//	| vocabulary offset (8 bytes) | manifest offset (8 bytes) | block size (4 bytes)| magic (8 bytes) |
//	+-----------------------------+---------------------------+---------------------+-----------------+
func (w *Writer) writeFooter(vocabularyOffset, manifestOffset int64) error {
	var tmp [FooterSize]byte
	binary.BigEndian.PutUint64(tmp[0:], uint64(vocabularyOffset))
	binary.BigEndian.PutUint64(tmp[8:], uint64(manifestOffset))
	binary.BigEndian.PutUint32(tmp[16:], uint32(w.o.BlockSize))
	binary.BigEndian.PutUint64(tmp[20:], MagicNumber)
	return w.writeRaw(tmp[:])
}

func (w *Writer) writeRaw(p []byte) error {
	n, err := w.w.Write(p)
	w.offset += int64(n)
	return err
}

func (w *Writer) flush() error {
	if w.block.Len() == 0 {
		return nil
	}

	w.buf = w.block.AppendHeader(w.buf[:0])
	info := blockInfo{
		Slot:         len(w.index),
		FirstKey:     append([]byte(nil), w.block.FirstKey()...),
		Offset:       w.offset,
		HeaderLength: int64(len(w.buf)),
	}

	if err := w.writeRaw(w.buf); err != nil {
		return err
	}
	if err := w.writeRaw(w.block.Values()); err != nil {
		return err
	}
	info.Length = w.offset - info.Offset

	log.Debugw("flushed block", "slot", info.Slot, "keys", w.block.Len(), "bytes", info.Length)
	w.o.Metrics.Increment(MetricBlocksWritten)

	w.index = append(w.index, info)
	w.block.Reset()
	return nil
}

// fileWriter buffers writes to an owned file.
type fileWriter struct {
	*bufio.Writer
	f *os.File
}

func (w *fileWriter) Close() error {
	if err := w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}
