package kvtree

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// ReaderOptions define reader specific options.
type ReaderOptions struct {
	// Mmap memory-maps the file instead of using positional reads.
	// Only applies to Open.
	Mmap bool

	// CacheGroupSize overrides the number of keys decoded at once while
	// scanning a block.
	// Default: the value stored in the manifest.
	CacheGroupSize int
}

func (o *ReaderOptions) norm() *ReaderOptions {
	var oo ReaderOptions
	if o != nil {
		oo = *o
	}
	return &oo
}

// Reader instances can seek and iterate across data in files. A Reader is
// safe for concurrent use, but each Iterator must only be used by a single
// goroutine.
type Reader struct {
	r io.ReaderAt
	c io.Closer // set if the reader owns the input

	size      int64
	blockSize int
	vocab     *vocabulary
	manifest  Manifest
	codec     Codec
	compress  bool
	groupSize int
}

// NewReader opens a reader.
func NewReader(r io.ReaderAt, size int64, o *ReaderOptions) (*Reader, error) {
	o = o.norm()

	if size < FooterSize {
		return nil, ErrTruncated
	}

	// read footer
	footerOffset := size - FooterSize
	footer := make([]byte, FooterSize)
	if err := readFull(r, footer, footerOffset); err != nil {
		return nil, err
	}

	// parse footer
	if binary.BigEndian.Uint64(footer[20:]) != MagicNumber {
		return nil, ErrBadMagic
	}
	vocabularyOffset := int64(binary.BigEndian.Uint64(footer[0:]))
	manifestOffset := int64(binary.BigEndian.Uint64(footer[8:]))
	blockSize := int(binary.BigEndian.Uint32(footer[16:]))

	if vocabularyOffset < 0 || manifestOffset < vocabularyOffset || manifestOffset > footerOffset {
		return nil, errors.Wrap(ErrCorrupt, "footer offsets out of range")
	}

	// read vocabulary
	data := make([]byte, footerOffset-vocabularyOffset)
	if err := readFull(r, data, vocabularyOffset); err != nil {
		return nil, err
	}

	vocab, err := parseVocabulary(data[:manifestOffset-vocabularyOffset], vocabularyOffset)
	if err != nil {
		return nil, errors.Wrap(err, "vocabulary")
	}

	// parse manifest
	manifest, err := parseManifest(data[manifestOffset-vocabularyOffset:])
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "manifest: %v", err)
	}

	codec, err := codecByName(manifest.GetString(ManifestCompression, ""))
	if err != nil {
		return nil, err
	}

	groupSize := o.CacheGroupSize
	if groupSize < 1 {
		groupSize = int(manifest.GetInt(ManifestCacheGroupSize, defaultCacheGroupSize))
	}

	log.Debugw("opened file", "blocks", vocab.Len(), "bytes", size)

	return &Reader{
		r:         r,
		size:      size,
		blockSize: blockSize,
		vocab:     vocab,
		manifest:  manifest,
		codec:     codec,
		compress:  codec.Name() != NoCompression.String(),
		groupSize: groupSize,
	}, nil
}

// Open opens the file at path. The returned Reader owns the file and must be
// closed after use.
func Open(path string, o *ReaderOptions) (*Reader, error) {
	o = o.norm()

	src, err := openSource(path, o.Mmap)
	if err != nil {
		return nil, err
	}

	r, err := NewReader(src, src.Size(), o)
	if err != nil {
		_ = src.Close()
		return nil, errors.Wrapf(err, "open %s", path)
	}
	r.c = src
	return r, nil
}

// IsBTree returns true if the file at path ends with the kvtree magic number.
// A false result means the file is definitely not readable.
func IsBTree(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return false, err
	}
	if stat.Size() < FooterSize {
		return false, nil
	}

	var tmp [8]byte
	if err := readFull(f, tmp[:], stat.Size()-8); err != nil {
		return false, err
	}
	return binary.BigEndian.Uint64(tmp[:]) == MagicNumber, nil
}

// Manifest returns the stored metadata.
func (r *Reader) Manifest() Manifest { return r.manifest }

// NumBlocks returns the number of stored blocks.
func (r *Reader) NumBlocks() int { return r.vocab.Len() }

// NumKeys returns the number of stored keys.
func (r *Reader) NumKeys() int64 { return r.manifest.GetInt(ManifestKeyCount, 0) }

// BlockSize returns the block size the file was written with.
func (r *Reader) BlockSize() int { return r.blockSize }

// Size returns the total file size.
func (r *Reader) Size() int64 { return r.size }

// Iterator returns an iterator positioned at the first key. For empty files
// the iterator is immediately done.
func (r *Reader) Iterator() (*Iterator, error) {
	if r.manifest.GetBool(ManifestEmptyIndexFile, false) {
		return r.newIterator(nil)
	}
	return r.newIterator(r.vocab.Slot(0))
}

// Seek returns an iterator positioned at the first key >= key.
func (r *Reader) Seek(key []byte) (*Iterator, error) {
	iter, err := r.Iterator()
	if err != nil {
		return nil, err
	}
	iter.Find(key)
	if err := iter.Err(); err != nil {
		iter.Release()
		return nil, err
	}
	return iter, nil
}

// Lookup returns an iterator positioned exactly at key.
// It may return an ErrNotFound error.
func (r *Reader) Lookup(key []byte) (*Iterator, error) {
	b := r.vocab.Get(key, 0)
	if b == nil {
		return nil, ErrNotFound
	}

	iter, err := r.newIterator(b)
	if err != nil {
		return nil, err
	}

	if !iter.Find(key) || !bytes.Equal(iter.Key(), key) {
		err := iter.Err()
		iter.Release()
		if err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return iter, nil
}

// Append retrieves a single value for a key. Unlike Get it
// appends it to dst instead of allocating a new byte slice.
// It may return an ErrNotFound error.
func (r *Reader) Append(dst []byte, key []byte) ([]byte, error) {
	iter, err := r.Lookup(key)
	if err != nil {
		return dst, err
	}
	defer iter.Release()

	return iter.AppendValue(dst)
}

// Get is a shortcut for Append(nil, key).
// It may return an ErrNotFound error.
func (r *Reader) Get(key []byte) ([]byte, error) {
	return r.Append(nil, key)
}

// Close releases the underlying file, if owned.
func (r *Reader) Close() error {
	if r.c == nil {
		return nil
	}
	err := r.c.Close()
	r.c = nil
	return err
}

func (r *Reader) newIterator(b *blockInfo) (*Iterator, error) {
	iter := &Iterator{r: r}
	if b == nil {
		iter.done = true
		return iter, nil
	}

	if err := iter.load(b); err != nil {
		iter.Release()
		return nil, err
	}
	return iter, nil
}

// readFull reads exactly len(p) bytes at off.
func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// --------------------------------------------------------------------

var bufPool sync.Pool

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p) //nolint:staticcheck
	}
}
