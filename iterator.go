package kvtree

import (
	"bytes"
	"io"
)

// Iterator is a cursor over the entries of a file. Unlike a scanner, an
// Iterator is always positioned on an entry while it is not Done:
//
//	for ; !iter.Done(); iter.Next() {
//		...
//	}
//
// When the end of the file is reached, the cursor stays pinned to the last
// entry.
type Iterator struct {
	r *Reader

	block  *blockInfo   // the current block
	dec    blockDecoder // decoded keys of the current block
	header []byte       // raw header of the current block
	index  int          // the current key within the block

	done bool
	err  error
}

// Key returns the key of the current entry.
func (i *Iterator) Key() []byte {
	if i.block == nil || i.index >= i.dec.Cached() {
		return nil
	}
	key, _ := i.dec.Key(i.index)
	return key
}

// Done returns true once the cursor has moved past the last entry, or an
// error occurred.
func (i *Iterator) Done() bool { return i.done }

// Err exposes iterator errors, if any.
func (i *Iterator) Err() error {
	return i.err
}

// Next advances the cursor to the next entry and returns true if successful.
func (i *Iterator) Next() bool {
	if i.err != nil || i.done {
		return false
	}

	i.index++
	if i.index >= i.dec.Count() {
		return i.nextBlock()
	}
	if _, err := i.dec.Key(i.index); err != nil {
		return i.fail(err)
	}
	return true
}

// Find positions the cursor at the first entry >= key, seeking backwards if
// necessary. It returns false if no such entry exists.
func (i *Iterator) Find(key []byte) bool {
	if i.err != nil || i.block == nil {
		return false
	}

	// reload if the key is outside the current block
	if !i.block.contains(key) {
		if b := i.r.vocab.Get(key, 0); b != i.block {
			if err := i.load(b); err != nil {
				return i.fail(err)
			}
		}
	}

	// restart at the beginning of the block when seeking backwards
	if bytes.Compare(key, i.Key()) < 0 {
		i.index = 0
	}

	i.done = false
	return i.scan(key)
}

// SkipTo moves the cursor forward to the first entry >= key. Keys passed to
// successive calls must be non-decreasing; this is not validated.
func (i *Iterator) SkipTo(key []byte) bool {
	if i.err != nil || i.block == nil {
		return false
	}

	// reload if the key is beyond the current block, searching forward only
	if bytes.Compare(key, i.block.NextSlotKey) >= 0 {
		if b := i.r.vocab.Get(key, i.block.Slot); b != i.block {
			if err := i.load(b); err != nil {
				return i.fail(err)
			}
		}
	}

	i.done = false
	return i.scan(key)
}

// ValueStart returns the absolute file offset of the current value.
func (i *Iterator) ValueStart() int64 {
	start, _ := i.valueRange()
	return start
}

// ValueEnd returns the absolute file offset at which the current value ends.
func (i *Iterator) ValueEnd() int64 {
	_, end := i.valueRange()
	return end
}

// ValueLength returns the stored length of the current value. For compressed
// files this is the encoded length.
func (i *Iterator) ValueLength() int64 {
	start, end := i.valueRange()
	return end - start
}

// Value returns a copy of the current value.
func (i *Iterator) Value() ([]byte, error) {
	return i.AppendValue(nil)
}

// AppendValue appends the current value to dst.
func (i *Iterator) AppendValue(dst []byte) ([]byte, error) {
	if i.block == nil {
		return dst, ErrNotFound
	}

	start, end := i.valueRange()
	if !i.r.compress {
		return appendAt(dst, i.r.r, start, end)
	}

	raw := fetchBuffer(int(end - start))
	defer releaseBuffer(raw)

	if err := readFull(i.r.r, raw, start); err != nil {
		return dst, err
	}
	return i.r.codec.Decode(dst, raw)
}

// ValueStream returns a bounded stream over the current value. Values in
// compressed files are decoded into memory first.
func (i *Iterator) ValueStream() (*ValueStream, error) {
	if i.block == nil {
		return nil, ErrNotFound
	}

	if i.r.compress {
		val, err := i.Value()
		if err != nil {
			return nil, err
		}
		return newBytesStream(val), nil
	}

	start, end := i.valueRange()
	return NewValueStream(i.r.r, start, end), nil
}

// SubValueStream returns a bounded stream over length bytes of the current
// value, starting at offset. The range is clipped to the value and the file.
func (i *Iterator) SubValueStream(offset, length int64) (*ValueStream, error) {
	if i.block == nil {
		return nil, ErrNotFound
	}

	if i.r.compress {
		val, err := i.Value()
		if err != nil {
			return nil, err
		}
		min, max := clip(0, int64(len(val)), offset, length, int64(len(val)))
		return newBytesStream(val[min:max]), nil
	}

	start, end := i.valueRange()
	min, max := clip(start, end, offset, length, i.r.size)
	return NewValueStream(i.r.r, min, max), nil
}

// Release releases the iterator and frees up resources. The iterator must not be used
// after this method is called.
func (i *Iterator) Release() {
	releaseBuffer(i.header)
	i.header = nil
	i.err = errReleased
	i.done = true
}

func (i *Iterator) load(b *blockInfo) error {
	releaseBuffer(i.header)
	i.header = fetchBuffer(int(b.HeaderLength))
	if err := readFull(i.r.r, i.header, b.Offset); err != nil {
		return err
	}

	if err := i.dec.Reset(i.header, b.Length-b.HeaderLength, i.r.groupSize); err != nil {
		return err
	}
	if i.dec.Count() == 0 {
		return ErrCorrupt
	}
	if _, err := i.dec.Key(0); err != nil {
		return err
	}

	i.block = b
	i.index = 0
	i.done = false
	return nil
}

func (i *Iterator) nextBlock() bool {
	next := i.r.vocab.Slot(i.block.Slot + 1)
	if next == nil {
		i.index = i.dec.Count() - 1
		i.done = true
		return false
	}

	if err := i.load(next); err != nil {
		return i.fail(err)
	}
	return true
}

// scan moves forward from the current position to the first key >= key,
// continuing into the next block if the current one is exhausted.
func (i *Iterator) scan(key []byte) bool {
	for ; i.index < i.dec.Count(); i.index++ {
		cur, err := i.dec.Key(i.index)
		if err != nil {
			return i.fail(err)
		}
		if bytes.Compare(cur, key) >= 0 {
			return true
		}
	}

	i.index = i.dec.Count() - 1
	return i.nextBlock()
}

func (i *Iterator) fail(err error) bool {
	i.err = err
	i.done = true
	return false
}

// valueRange returns the absolute [start, end) file range of the current
// value.
func (i *Iterator) valueRange() (int64, int64) {
	if i.block == nil {
		return 0, 0
	}

	blockEnd := i.block.Offset + i.block.Length
	start := i.block.Offset + i.block.HeaderLength
	if i.index > 0 {
		rev, _ := i.dec.ReverseEnd(i.index - 1)
		start = blockEnd - rev
	}
	rev, _ := i.dec.ReverseEnd(i.index)
	return start, blockEnd - rev
}

// clip restricts [start+offset, start+offset+length) to [start, min(end, limit)).
func clip(start, end, offset, length, limit int64) (int64, int64) {
	if limit < end {
		end = limit
	}

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
	return min, max
}

// appendAt appends [start, end) of r to dst.
func appendAt(dst []byte, r io.ReaderAt, start, end int64) ([]byte, error) {
	n := len(dst)
	sz := int(end - start)
	if cap(dst)-n < sz {
		grown := make([]byte, n, n+sz)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:n+sz]

	if err := readFull(r, dst[n:], start); err != nil {
		return dst[:n], err
	}
	return dst, nil
}
