package split

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"

	"github.com/bsm/kvtree"
	"github.com/pkg/errors"
)

// ValueWriterOptions define value writer specific options.
type ValueWriterOptions struct {
	// ValueBlockSize is an opaque hint stored in the shard trailer.
	// Default: 0.
	ValueBlockSize uint16

	// Metrics receives a kvtree.MetricValuesStored count for every value.
	// Default: kvtree.NoMetrics.
	Metrics kvtree.Metrics
}

func (o *ValueWriterOptions) norm() *ValueWriterOptions {
	var oo ValueWriterOptions
	if o != nil {
		oo = *o
	}

	if oo.Metrics == nil {
		oo.Metrics = kvtree.NoMetrics
	}
	return &oo
}

// ValueWriter appends values to a single shard file. Keys may arrive in any
// order. The location of each value is passed to the next KeyProcessor once
// the value is complete, i.e. when the next key is started or the writer is
// closed.
type ValueWriter struct {
	f *os.File
	w *bufio.Writer
	o *ValueWriterOptions

	next   KeyProcessor
	id     int32
	offset int64

	key    []byte
	info   KeyInfo
	hasKey bool
	closed bool
}

// NewValueWriter creates shard file number id within dir.
func NewValueWriter(dir string, id int, next KeyProcessor, o *ValueWriterOptions) (*ValueWriter, error) {
	if id < 0 || id > math.MaxInt32 {
		return nil, errors.Errorf("split: invalid shard number %d", id)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	f, err := os.Create(shardPath(dir, int32(id)))
	if err != nil {
		return nil, err
	}

	return &ValueWriter{
		f:    f,
		w:    bufio.NewWriterSize(f, 64*1024),
		o:    o.norm(),
		next: next,
		id:   int32(id),
	}, nil
}

// StartKey completes the previous value and starts a new one for key.
func (w *ValueWriter) StartKey(key []byte) error {
	if w.closed {
		return errClosed
	}
	if err := w.flush(); err != nil {
		return err
	}

	w.key = append(w.key[:0], key...)
	w.info = KeyInfo{ValueOutputID: w.id, ValueOffset: w.offset}
	w.hasKey = true
	return nil
}

// Write appends p to the value of the current key.
func (w *ValueWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errClosed
	}
	if !w.hasKey {
		return 0, errNoKey
	}

	n, err := w.w.Write(p)
	w.offset += int64(n)
	w.info.ValueLength += int64(n)
	return n, err
}

// Append stores a complete value for key.
func (w *ValueWriter) Append(key, value []byte) error {
	if err := w.StartKey(key); err != nil {
		return err
	}
	_, err := w.Write(value)
	return err
}

// Close completes the last value, writes the trailer and closes the file.
// It does not close the next KeyProcessor, which may be shared.
func (w *ValueWriter) Close() error {
	if w.closed {
		return errClosed
	}

	err := w.flush()
	w.closed = true

	if err == nil {
		var tmp [TrailerSize]byte
		binary.BigEndian.PutUint16(tmp[0:], w.o.ValueBlockSize)
		binary.BigEndian.PutUint64(tmp[2:], MagicNumber)
		_, err = w.w.Write(tmp[:])
	}
	if err == nil {
		err = w.w.Flush()
	}
	if e := w.f.Close(); e != nil && err == nil {
		err = e
	}

	log.Debugw("closed shard", "shard", w.id, "bytes", w.offset)
	return err
}

func (w *ValueWriter) flush() error {
	if !w.hasKey {
		return nil
	}

	w.hasKey = false
	if err := w.next.Process(w.key, w.info); err != nil {
		return err
	}
	w.o.Metrics.Increment(kvtree.MetricValuesStored)
	return nil
}
