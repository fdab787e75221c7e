package sortedmap

import (
	"github.com/bsm/kvtree"
)

// Wrapper is a typed view of a Reader.
type Wrapper[K comparable, V any] struct {
	*Reader
	kc Codec[K]
	vc Codec[V]
}

// Wrap wraps a reader.
func Wrap[K comparable, V any](r *Reader, kc Codec[K], vc Codec[V]) *Wrapper[K, V] {
	return &Wrapper[K, V]{Reader: r, kc: kc, vc: vc}
}

// OpenWrapper opens the sorted map at path as a typed view.
func OpenWrapper[K comparable, V any](path string, kc Codec[K], vc Codec[V], o *kvtree.ReaderOptions) (*Wrapper[K, V], error) {
	r, err := Open(path, o)
	if err != nil {
		return nil, err
	}
	return Wrap(r, kc, vc), nil
}

// FromMap writes all entries of m to a new file at path and opens it.
func FromMap[K comparable, V any](path string, m map[K]V, kc Codec[K], vc Codec[V], o *kvtree.WriterOptions) (*Wrapper[K, V], error) {
	b := NewBuilder(path, kc, vc, o)
	for k, v := range m {
		if err := b.Put(k, v); err != nil {
			return nil, err
		}
	}
	if err := b.Close(); err != nil {
		return nil, err
	}
	return OpenWrapper(path, kc, vc, nil)
}

// ContainsKey returns true if key exists.
func (w *Wrapper[K, V]) ContainsKey(key K) (bool, error) {
	raw, err := w.kc.Encode(nil, key)
	if err != nil {
		return false, err
	}
	return w.Reader.ContainsKey(raw)
}

// Get returns the value of key. It may return a kvtree.ErrNotFound error.
func (w *Wrapper[K, V]) Get(key K) (V, error) {
	var zero V

	raw, err := w.kc.Encode(nil, key)
	if err != nil {
		return zero, err
	}

	data, err := w.Reader.Get(raw)
	if err != nil {
		return zero, err
	}
	return w.vc.Decode(data)
}

// Keys returns all keys in order.
func (w *Wrapper[K, V]) Keys() ([]K, error) {
	keys := make([]K, 0, w.Len())
	err := w.Reader.each(func(iter *kvtree.Iterator) error {
		key, err := w.kc.Decode(iter.Key())
		if err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	return keys, err
}

// ForEach calls fn for every entry in order, until fn returns an error.
func (w *Wrapper[K, V]) ForEach(fn func(key K, value V) error) error {
	return w.Reader.ForEach(func(rk, rv []byte) error {
		key, err := w.kc.Decode(rk)
		if err != nil {
			return err
		}
		val, err := w.vc.Decode(rv)
		if err != nil {
			return err
		}
		return fn(key, val)
	})
}

// BulkGet looks up many keys in a single forward pass. Keys which cannot be
// found are omitted from the result.
func (w *Wrapper[K, V]) BulkGet(keys []K) (map[K]V, error) {
	raw := make([][]byte, 0, len(keys))
	byRaw := make(map[string]K, len(keys))
	for _, key := range keys {
		rk, err := w.kc.Encode(nil, key)
		if err != nil {
			return nil, err
		}
		raw = append(raw, rk)
		byRaw[string(rk)] = key
	}

	found, err := w.Reader.BulkGet(raw)
	if err != nil {
		return nil, err
	}

	res := make(map[K]V, len(found))
	for rk, rv := range found {
		val, err := w.vc.Decode(rv)
		if err != nil {
			return nil, err
		}
		res[byRaw[rk]] = val
	}
	return res, nil
}
