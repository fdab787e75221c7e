package kvtree

import (
	"github.com/bsm/kvtree/vbyte"
)

// Estimated per-entry header overhead: shared prefix, key length and
// reverse end offset.
const entryOverhead = 6

// blockWriter buffers the entries of the current block.
type blockWriter struct {
	keys    []byte // concatenated keys
	keyEnds []int  // end offset of each key in keys
	vals    []byte // concatenated (encoded) values
	valEnds []int  // end offset of each value in vals
}

func entrySize(key, val []byte) int {
	return len(key) + len(val) + entryOverhead
}

// Len returns the number of buffered entries.
func (b *blockWriter) Len() int { return len(b.keyEnds) }

// Size returns a conservative estimate of the encoded block size.
func (b *blockWriter) Size() int {
	return 8 + len(b.keys) + len(b.vals) + b.Len()*entryOverhead
}

// FirstKey returns the first key in the block.
func (b *blockWriter) FirstKey() []byte { return b.key(0) }

func (b *blockWriter) key(i int) []byte {
	min := 0
	if i > 0 {
		min = b.keyEnds[i-1]
	}
	return b.keys[min:b.keyEnds[i]]
}

// Add appends an entry. Value must already be encoded.
func (b *blockWriter) Add(key, val []byte) {
	b.keys = append(b.keys, key...)
	b.keyEnds = append(b.keyEnds, len(b.keys))
	b.vals = append(b.vals, val...)
	b.valEnds = append(b.valEnds, len(b.vals))
}

// AppendHeader appends the prefix-compressed key header to dst.
//
//	+-----------------+----------------+-----------+-------------------+---------------------+------------------------+----------------+-------------------+-----+
//	| count (varint)  | key len 0 (vb) | key 0     | reverse end 0 (vb)| shared 1 (vb)       | key len 1 (vb)         | suffix 1       | reverse end 1 (vb)| ... |
//	+-----------------+----------------+-----------+-------------------+---------------------+------------------------+----------------+-------------------+-----+
//
// A reverse end is the distance from the end of the block back to the end of
// the entry's value.
func (b *blockWriter) AppendHeader(dst []byte) []byte {
	n := b.Len()
	total := len(b.vals)

	dst = vbyte.AppendUvarint(dst, uint64(n))

	var prev []byte
	for i := 0; i < n; i++ {
		key := b.key(i)
		if i == 0 {
			dst = vbyte.AppendUvarint(dst, uint64(len(key)))
			dst = append(dst, key...)
		} else {
			shared := commonPrefix(prev, key)
			dst = vbyte.AppendUvarint(dst, uint64(shared))
			dst = vbyte.AppendUvarint(dst, uint64(len(key)))
			dst = append(dst, key[shared:]...)
		}
		dst = vbyte.AppendUvarint(dst, uint64(total-b.valEnds[i]))
		prev = key
	}
	return dst
}

// Values returns the concatenated value bytes.
func (b *blockWriter) Values() []byte { return b.vals }

// Reset clears the buffer.
func (b *blockWriter) Reset() {
	b.keys = b.keys[:0]
	b.keyEnds = b.keyEnds[:0]
	b.vals = b.vals[:0]
	b.valEnds = b.valEnds[:0]
}

// --------------------------------------------------------------------

// blockDecoder lazily decodes a block header, groupSize keys at a time.
// Key i can only be restored once key i-1 is known.
type blockDecoder struct {
	header    []byte
	read      int
	groupSize int
	valueLen  int64 // length of the value area following the header

	count int      // number of keys in the block
	keys  [][]byte // decoded keys
	ends  []int64  // decoded reverse ends
	arena []byte   // backing storage for keys
}

// Reset starts decoding a new header, followed by valueLen bytes of values.
func (d *blockDecoder) Reset(header []byte, valueLen int64, groupSize int) error {
	count, n := vbyte.Uvarint(header)
	if n <= 0 || count > uint64(len(header)) || valueLen < 0 {
		return ErrCorrupt
	}
	if groupSize < 1 {
		groupSize = 1
	}

	*d = blockDecoder{
		header:    header,
		read:      n,
		groupSize: groupSize,
		valueLen:  valueLen,
		count:     int(count),
		keys:      make([][]byte, 0, int(count)),
		ends:      make([]int64, 0, int(count)),
	}
	return nil
}

// Count returns the number of keys in the block.
func (d *blockDecoder) Count() int { return d.count }

// Cached returns the number of keys decoded so far.
func (d *blockDecoder) Cached() int { return len(d.keys) }

// Key returns the i-th key, decoding as required.
func (d *blockDecoder) Key(i int) ([]byte, error) {
	if err := d.ensure(i); err != nil {
		return nil, err
	}
	return d.keys[i], nil
}

// ReverseEnd returns the reverse end offset of the i-th value.
func (d *blockDecoder) ReverseEnd(i int) (int64, error) {
	if err := d.ensure(i); err != nil {
		return 0, err
	}
	return d.ends[i], nil
}

func (d *blockDecoder) ensure(i int) error {
	for i >= len(d.keys) {
		if err := d.decodeGroup(); err != nil {
			return err
		}
	}
	return nil
}

func (d *blockDecoder) decodeGroup() error {
	if len(d.keys) >= d.count {
		return ErrCorrupt
	}

	for i := 0; i < d.groupSize && len(d.keys) < d.count; i++ {
		shared := uint64(0)
		if len(d.keys) != 0 {
			if shared = d.uvarint(); shared > uint64(len(d.keys[len(d.keys)-1])) {
				return ErrCorrupt
			}
		}

		klen := d.uvarint()
		if d.read < 0 || klen < shared || klen-shared > uint64(len(d.header)-d.read) {
			return ErrCorrupt
		}

		start := len(d.arena)
		if shared != 0 {
			d.arena = append(d.arena, d.keys[len(d.keys)-1][:shared]...)
		}
		d.arena = append(d.arena, d.header[d.read:d.read+int(klen-shared)]...)
		d.read += int(klen - shared)

		// reverse ends must not increase and must stay within the value area
		maxRev := uint64(d.valueLen)
		if k := len(d.ends); k != 0 {
			maxRev = uint64(d.ends[k-1])
		}
		rev := d.uvarint()
		if d.read < 0 || rev > maxRev {
			return ErrCorrupt
		}

		d.keys = append(d.keys, d.arena[start:len(d.arena):len(d.arena)])
		d.ends = append(d.ends, int64(rev))
	}
	return nil
}

// uvarint reads the next number, setting read to -1 on failure.
func (d *blockDecoder) uvarint() uint64 {
	if d.read < 0 {
		return 0
	}
	v, n := vbyte.Uvarint(d.header[d.read:])
	if n <= 0 {
		d.read = -1
		return 0
	}
	d.read += n
	return v
}
