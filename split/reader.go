package split

import (
	"os"
	"sync"

	"github.com/bsm/kvtree"
	"github.com/pkg/errors"
)

// Reader reads a split directory. Shard files are opened on first use and
// kept open until Close. A Reader is safe for concurrent use.
type Reader struct {
	keys *kvtree.Reader
	dir  string

	mu     sync.Mutex
	shards map[int32]*shard
}

type shard struct {
	f         *os.File
	size      int64 // size of the value data
	blockSize uint16
}

// Open opens a split directory. The path may either point to the directory
// or to the key index within.
func Open(path string, o *kvtree.ReaderOptions) (*Reader, error) {
	keys, dir, err := resolve(path)
	if err != nil {
		return nil, err
	}

	kr, err := kvtree.Open(keys, o)
	if err != nil {
		return nil, err
	}

	return &Reader{
		keys:   kr,
		dir:    dir,
		shards: make(map[int32]*shard),
	}, nil
}

// Manifest returns the manifest of the key index.
func (r *Reader) Manifest() kvtree.Manifest { return r.keys.Manifest() }

// NumKeys returns the number of stored keys.
func (r *Reader) NumKeys() int64 { return r.keys.NumKeys() }

// Iterator returns an iterator positioned at the first key.
func (r *Reader) Iterator() (*Iterator, error) {
	iter, err := r.keys.Iterator()
	if err != nil {
		return nil, err
	}
	return &Iterator{Iterator: iter, r: r}, nil
}

// Seek returns an iterator positioned at the first key >= key.
func (r *Reader) Seek(key []byte) (*Iterator, error) {
	iter, err := r.keys.Seek(key)
	if err != nil {
		return nil, err
	}
	return &Iterator{Iterator: iter, r: r}, nil
}

// Lookup returns an iterator positioned exactly at key.
// It may return an kvtree.ErrNotFound error.
func (r *Reader) Lookup(key []byte) (*Iterator, error) {
	iter, err := r.keys.Lookup(key)
	if err != nil {
		return nil, err
	}
	return &Iterator{Iterator: iter, r: r}, nil
}

// Append appends the value of key to dst.
// It may return an kvtree.ErrNotFound error.
func (r *Reader) Append(dst, key []byte) ([]byte, error) {
	iter, err := r.Lookup(key)
	if err != nil {
		return dst, err
	}
	defer iter.Release()

	return iter.AppendValue(dst)
}

// Get is a shortcut for Append(nil, key).
func (r *Reader) Get(key []byte) ([]byte, error) {
	return r.Append(nil, key)
}

// Close closes the key index and all open shards.
func (r *Reader) Close() error {
	err := r.keys.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.shards {
		if e := s.f.Close(); e != nil && err == nil {
			err = e
		}
		delete(r.shards, id)
	}
	return err
}

func (r *Reader) shard(id int32) (*shard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.shards[id]; ok {
		return s, nil
	}

	f, err := os.Open(shardPath(r.dir, id))
	if err != nil {
		return nil, err
	}

	size, blockSize, err := readTrailer(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "shard %d", id)
	}

	s := &shard{f: f, size: size, blockSize: blockSize}
	r.shards[id] = s
	return s, nil
}

// --------------------------------------------------------------------

// Iterator iterates over a split directory. Key navigation is delegated to
// the key index, values are resolved through their KeyInfo.
type Iterator struct {
	*kvtree.Iterator
	r *Reader

	info   KeyInfo
	shard  *shard
	loaded []byte // the key the info was loaded for
}

// Info returns the location of the current value.
func (i *Iterator) Info() (KeyInfo, error) {
	if err := i.load(); err != nil {
		return KeyInfo{}, err
	}
	return i.info, nil
}

// ValueStart returns the offset of the current value within its shard.
func (i *Iterator) ValueStart() (int64, error) {
	info, err := i.Info()
	return info.ValueOffset, err
}

// ValueEnd returns the offset at which the current value ends.
func (i *Iterator) ValueEnd() (int64, error) {
	info, err := i.Info()
	return info.ValueEnd(), err
}

// ValueLength returns the length of the current value.
func (i *Iterator) ValueLength() (int64, error) {
	info, err := i.Info()
	return info.ValueLength, err
}

// ValueBlockSize returns the value block size hint stored with the shard of
// the current value.
func (i *Iterator) ValueBlockSize() (uint16, error) {
	if err := i.load(); err != nil {
		return 0, err
	}
	return i.shard.blockSize, nil
}

// Value returns a copy of the current value.
func (i *Iterator) Value() ([]byte, error) {
	return i.AppendValue(nil)
}

// AppendValue appends the current value to dst.
func (i *Iterator) AppendValue(dst []byte) ([]byte, error) {
	if err := i.load(); err != nil {
		return dst, err
	}

	n := len(dst)
	sz := int(i.info.ValueLength)
	if cap(dst)-n < sz {
		grown := make([]byte, n, n+sz)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:n+sz]

	if sz == 0 {
		return dst, nil
	}
	if _, err := i.shard.f.ReadAt(dst[n:], i.info.ValueOffset); err != nil {
		return dst[:n], err
	}
	return dst, nil
}

// ValueStream returns a bounded stream over the current value.
func (i *Iterator) ValueStream() (*kvtree.ValueStream, error) {
	if err := i.load(); err != nil {
		return nil, err
	}
	return kvtree.NewValueStream(i.shard.f, i.info.ValueOffset, i.info.ValueEnd()), nil
}

// SubValueStream returns a bounded stream over length bytes of the current
// value, starting at offset. The range is clipped to the value.
func (i *Iterator) SubValueStream(offset, length int64) (*kvtree.ValueStream, error) {
	if err := i.load(); err != nil {
		return nil, err
	}

	start, end := i.info.ValueOffset, i.info.ValueEnd()
	min := start + offset
	if min > end {
		min = end
	}
	if min < start {
		min = start
	}
	max := min + length
	if max > end {
		max = end
	}
	return kvtree.NewValueStream(i.shard.f, min, max), nil
}

func (i *Iterator) load() error {
	if err := i.Err(); err != nil {
		return err
	}

	key := i.Key()
	if key == nil {
		return kvtree.ErrNotFound
	}
	if i.shard != nil && string(key) == string(i.loaded) {
		return nil
	}

	raw, err := i.Iterator.Value()
	if err != nil {
		return err
	}

	var info KeyInfo
	if err := info.UnmarshalBinary(raw); err != nil {
		return err
	}

	s, err := i.r.shard(info.ValueOutputID)
	if err != nil {
		return err
	}
	if info.ValueEnd() > s.size {
		return errors.Wrapf(kvtree.ErrCorrupt, "value of %q exceeds shard %d", key, info.ValueOutputID)
	}

	i.info, i.shard = info, s
	i.loaded = append(i.loaded[:0], key...)
	return nil
}
