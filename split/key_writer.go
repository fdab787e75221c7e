package split

import (
	"bytes"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bsm/kvtree"
	"github.com/pkg/errors"
)

// KeyWriter collects the key infos of one or more value writers and stores
// them in the key index on Close. It is safe for concurrent use.
type KeyWriter struct {
	dir string
	o   kvtree.WriterOptions

	mu      sync.Mutex
	arena   []byte
	entries []keyEntry
	closed  bool
}

type keyEntry struct {
	start, end int // key position within the arena
	info       KeyInfo
}

// NewKeyWriter returns a writer for the key index of the split directory dir.
// The value block size of vo is recorded in the manifest and should match
// the options passed to the value writers.
func NewKeyWriter(dir string, vo *ValueWriterOptions, o *kvtree.WriterOptions) *KeyWriter {
	w := &KeyWriter{dir: dir}
	if o != nil {
		w.o = *o
	}
	w.o.Manifest = w.o.Manifest.Copy()
	w.o.Manifest[ManifestValueBlockSize] = int64(vo.norm().ValueBlockSize)
	w.o.Manifest[kvtree.ManifestWriterClass] = "split.KeyWriter"
	w.o.Manifest[kvtree.ManifestReaderClass] = "split.Reader"
	return w
}

// Process implements KeyProcessor.
func (w *KeyWriter) Process(key []byte, info KeyInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errClosed
	}

	start := len(w.arena)
	w.arena = append(w.arena, key...)
	w.entries = append(w.entries, keyEntry{start: start, end: len(w.arena), info: info})
	return nil
}

// Close sorts the collected keys and writes the key index. All value writers
// must be closed before.
func (w *KeyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errClosed
	}
	w.closed = true

	sort.Slice(w.entries, func(i, j int) bool {
		return bytes.Compare(w.key(i), w.key(j)) < 0
	})

	fw, err := kvtree.Create(filepath.Join(w.dir, KeysFilename), &w.o)
	if err != nil {
		return err
	}

	var buf []byte
	for i := range w.entries {
		buf = w.entries[i].info.AppendBinary(buf[:0])
		if err := fw.Append(w.key(i), buf); err != nil {
			_ = fw.Close()
			return errors.Wrap(err, "split: write key index")
		}
	}
	if err := fw.Close(); err != nil {
		return err
	}

	log.Infow("wrote key index", "dir", w.dir, "keys", len(w.entries))
	w.arena, w.entries = nil, nil
	return nil
}

func (w *KeyWriter) key(i int) []byte {
	e := w.entries[i]
	return w.arena[e.start:e.end]
}
