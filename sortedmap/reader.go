package sortedmap

import (
	"bytes"
	"sort"

	"github.com/bsm/kvtree"
	"github.com/pkg/errors"
)

var errClosed = errors.New("sortedmap: is closed")

// Reader is a read-only view of a sorted map file with raw byte keys and
// values. A Reader is safe for concurrent use.
type Reader struct {
	r *kvtree.Reader
}

// Open opens the sorted map at path.
func Open(path string, o *kvtree.ReaderOptions) (*Reader, error) {
	r, err := kvtree.Open(path, o)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r}, nil
}

// Manifest returns the stored metadata.
func (r *Reader) Manifest() kvtree.Manifest { return r.r.Manifest() }

// Len returns the number of entries.
func (r *Reader) Len() int64 { return r.r.NumKeys() }

// ContainsKey returns true if key exists.
func (r *Reader) ContainsKey(key []byte) (bool, error) {
	iter, err := r.r.Lookup(key)
	if err == kvtree.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	iter.Release()
	return true, nil
}

// Get returns the value of key. It may return a kvtree.ErrNotFound error.
func (r *Reader) Get(key []byte) ([]byte, error) {
	return r.r.Get(key)
}

// Iterator returns an iterator positioned at the first entry.
func (r *Reader) Iterator() (*kvtree.Iterator, error) {
	return r.r.Iterator()
}

// Keys returns all keys in order.
func (r *Reader) Keys() ([][]byte, error) {
	keys := make([][]byte, 0, r.Len())
	err := r.each(func(iter *kvtree.Iterator) error {
		keys = append(keys, append([]byte(nil), iter.Key()...))
		return nil
	})
	return keys, err
}

// ForEach calls fn for every entry in order, until fn returns an error.
// Key and value must not be retained.
func (r *Reader) ForEach(fn func(key, value []byte) error) error {
	var buf []byte
	return r.each(func(iter *kvtree.Iterator) error {
		var err error
		if buf, err = iter.AppendValue(buf[:0]); err != nil {
			return err
		}
		return fn(iter.Key(), buf)
	})
}

func (r *Reader) each(fn func(*kvtree.Iterator) error) error {
	iter, err := r.r.Iterator()
	if err != nil {
		return err
	}
	defer iter.Release()

	for ; !iter.Done(); iter.Next() {
		if err := fn(iter); err != nil {
			return err
		}
	}
	return iter.Err()
}

// BulkGet looks up many keys in a single forward pass. Keys which cannot be
// found are omitted from the result.
func (r *Reader) BulkGet(keys [][]byte) (map[string][]byte, error) {
	sorted := make([][]byte, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	res := make(map[string][]byte, len(keys))

	iter, err := r.r.Iterator()
	if err != nil {
		return nil, err
	}
	defer iter.Release()

	for _, key := range sorted {
		if !iter.SkipTo(key) {
			break
		}
		if !bytes.Equal(iter.Key(), key) {
			continue
		}

		val, err := iter.Value()
		if err != nil {
			return nil, err
		}
		res[string(key)] = val
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.r.Close()
}
