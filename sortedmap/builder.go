package sortedmap

import (
	"bytes"
	"sort"

	"github.com/bsm/kvtree"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("kvtree/sortedmap")

// SortedBuilder writes a sorted map file. Keys must be put in strictly
// ascending order of their encoded form.
type SortedBuilder[K, V any] struct {
	w    *kvtree.Writer
	path string
	kc   Codec[K]
	vc   Codec[V]

	kbuf, vbuf []byte
	n          int64
}

// NewSortedBuilder creates a sorted map file at path.
func NewSortedBuilder[K, V any](path string, kc Codec[K], vc Codec[V], o *kvtree.WriterOptions) (*SortedBuilder[K, V], error) {
	w, err := kvtree.Create(path, o)
	if err != nil {
		return nil, err
	}
	return &SortedBuilder[K, V]{w: w, path: path, kc: kc, vc: vc}, nil
}

// Manifest returns the manifest which will be stored on Close.
func (b *SortedBuilder[K, V]) Manifest() kvtree.Manifest { return b.w.Manifest() }

// Put adds an entry.
func (b *SortedBuilder[K, V]) Put(key K, value V) error {
	var err error
	if b.kbuf, err = b.kc.Encode(b.kbuf[:0], key); err != nil {
		return err
	}
	if b.vbuf, err = b.vc.Encode(b.vbuf[:0], value); err != nil {
		return err
	}
	return b.put(b.kbuf, b.vbuf)
}

func (b *SortedBuilder[K, V]) put(key, value []byte) error {
	if err := b.w.Append(key, value); err != nil {
		return err
	}
	b.n++
	return nil
}

// Close finishes the file.
func (b *SortedBuilder[K, V]) Close() error {
	if err := b.w.Close(); err != nil {
		return err
	}
	log.Infow("created sorted map", "path", b.path, "keys", b.n)
	return nil
}

// --------------------------------------------------------------------

// Builder writes a sorted map file from entries in any order. Entries are
// buffered in memory and sorted on Close. For duplicate keys, the last value
// wins.
type Builder[K, V any] struct {
	path     string
	o        kvtree.WriterOptions
	manifest kvtree.Manifest
	kc       Codec[K]
	vc       Codec[V]

	arena   []byte
	entries []entry
	closed  bool
}

type entry struct {
	seq          int
	kStart, kEnd int
	vStart, vEnd int
}

// NewBuilder returns a builder for a file at path. Nothing is written
// until Close.
func NewBuilder[K, V any](path string, kc Codec[K], vc Codec[V], o *kvtree.WriterOptions) *Builder[K, V] {
	b := &Builder[K, V]{path: path, kc: kc, vc: vc}
	if o != nil {
		b.o = *o
	}
	b.manifest = b.o.Manifest.Copy()
	return b
}

// Manifest returns the manifest which will be stored on Close.
func (b *Builder[K, V]) Manifest() kvtree.Manifest { return b.manifest }

// Len returns the number of buffered entries, including duplicates.
func (b *Builder[K, V]) Len() int { return len(b.entries) }

// Put buffers an entry.
func (b *Builder[K, V]) Put(key K, value V) error {
	if b.closed {
		return errClosed
	}

	var err error
	e := entry{seq: len(b.entries), kStart: len(b.arena)}
	if b.arena, err = b.kc.Encode(b.arena, key); err != nil {
		b.arena = b.arena[:e.kStart]
		return err
	}
	e.kEnd = len(b.arena)
	e.vStart = e.kEnd
	if b.arena, err = b.vc.Encode(b.arena, value); err != nil {
		b.arena = b.arena[:e.kStart]
		return err
	}
	e.vEnd = len(b.arena)

	b.entries = append(b.entries, e)
	return nil
}

// Close sorts the buffered entries and writes the file.
func (b *Builder[K, V]) Close() error {
	if b.closed {
		return errClosed
	}
	b.closed = true

	sort.Slice(b.entries, func(i, j int) bool {
		if c := bytes.Compare(b.key(i), b.key(j)); c != 0 {
			return c < 0
		}
		return b.entries[i].seq < b.entries[j].seq
	})

	o := b.o
	o.Manifest = b.manifest
	sb, err := NewSortedBuilder(b.path, b.kc, b.vc, &o)
	if err != nil {
		return err
	}

	for i := range b.entries {
		// skip all but the last of a run of duplicates
		if i+1 < len(b.entries) && bytes.Equal(b.key(i), b.key(i+1)) {
			continue
		}

		e := b.entries[i]
		if err := sb.put(b.key(i), b.arena[e.vStart:e.vEnd]); err != nil {
			_ = sb.w.Close()
			return err
		}
	}

	b.arena, b.entries = nil, nil
	return sb.Close()
}

func (b *Builder[K, V]) key(i int) []byte {
	e := b.entries[i]
	return b.arena[e.kStart:e.kEnd]
}
