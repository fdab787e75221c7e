package kvtree

import (
	"bytes"
	"encoding/binary"

	"github.com/bsm/kvtree/vbyte"
)

// vocabulary is the in-memory index of all blocks.
//
//	+------------------------+---------------+--------------------------+-----------+-----------------+----------------------+-----+
//	| sentinel len (4 bytes) | sentinel key  | first key len 0 (varint) | first key | offset 0 (vb)   | header length 0 (vb) | ... |
//	+------------------------+---------------+--------------------------+-----------+-----------------+----------------------+-----+
type vocabulary struct {
	slots    []blockInfo
	sentinel []byte
}

// appendVocabulary renders the vocabulary for the given blocks.
func appendVocabulary(dst []byte, sentinel []byte, blocks []blockInfo) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(sentinel)))
	dst = append(dst, tmp[:]...)
	dst = append(dst, sentinel...)

	for _, b := range blocks {
		dst = vbyte.AppendUvarint(dst, uint64(len(b.FirstKey)))
		dst = append(dst, b.FirstKey...)
		dst = vbyte.AppendUvarint(dst, uint64(b.Offset))
		dst = vbyte.AppendUvarint(dst, uint64(b.HeaderLength))
	}
	return dst
}

// parseVocabulary decodes a vocabulary. The value data of the last block
// ends at dataEnd.
func parseVocabulary(data []byte, dataEnd int64) (*vocabulary, error) {
	if len(data) < 4 {
		return nil, ErrCorrupt
	}
	slen := binary.BigEndian.Uint32(data)
	if uint64(slen) > uint64(len(data)-4) {
		return nil, ErrCorrupt
	}

	v := &vocabulary{
		sentinel: append([]byte(nil), data[4:4+slen]...),
	}

	var last int64
	for pos := 4 + int(slen); pos < len(data); {
		klen, n := vbyte.Uvarint(data[pos:])
		if n <= 0 || klen > uint64(len(data)-pos-n) {
			return nil, ErrCorrupt
		}
		pos += n

		key := data[pos : pos+int(klen) : pos+int(klen)]
		pos += int(klen)

		offset, n := vbyte.Uvarint(data[pos:])
		if n <= 0 {
			return nil, ErrCorrupt
		}
		pos += n

		hlen, n := vbyte.Uvarint(data[pos:])
		if n <= 0 {
			return nil, ErrCorrupt
		}
		pos += n

		// both must lie within the data section before converting
		if dataEnd < 0 || offset > uint64(dataEnd) || hlen < 1 || hlen > uint64(dataEnd) {
			return nil, ErrCorrupt
		}
		if int64(offset) < last {
			return nil, ErrCorrupt
		}

		if i := len(v.slots); i != 0 {
			v.slots[i-1].Length = int64(offset) - last
			v.slots[i-1].NextSlotKey = key
		}
		v.slots = append(v.slots, blockInfo{
			Slot:         len(v.slots),
			FirstKey:     key,
			Offset:       int64(offset),
			HeaderLength: int64(hlen),
		})
		last = int64(offset)
	}

	if i := len(v.slots); i != 0 {
		if dataEnd < last {
			return nil, ErrCorrupt
		}
		v.slots[i-1].Length = dataEnd - last
		v.slots[i-1].NextSlotKey = v.sentinel
	}

	for i := range v.slots {
		if v.slots[i].HeaderLength > v.slots[i].Length {
			return nil, ErrCorrupt
		}
	}
	return v, nil
}

// Len returns the number of slots.
func (v *vocabulary) Len() int { return len(v.slots) }

// Slot returns the n-th block info, or nil if out of range.
func (v *vocabulary) Slot(n int) *blockInfo {
	if n < 0 || n >= len(v.slots) {
		return nil
	}
	return &v.slots[n]
}

// Get returns the block which may contain key, searching slots >= minSlot
// only. The result satisfies FirstKey <= key < NextSlotKey, except for keys
// before the first key of minSlot (returns minSlot) or past the sentinel
// (returns the last slot). It returns nil for an empty vocabulary.
func (v *vocabulary) Get(key []byte, minSlot int) *blockInfo {
	if len(v.slots) == 0 {
		return nil
	}
	if minSlot < 0 {
		minSlot = 0
	}
	if max := len(v.slots) - 1; minSlot > max {
		minSlot = max
	}

	small, big := minSlot, len(v.slots)-1
	for big-small > 1 {
		middle := small + (big-small)/2
		if bytes.Compare(v.slots[middle].FirstKey, key) <= 0 {
			small = middle
		} else {
			big = middle
		}
	}

	if bytes.Compare(v.slots[big].FirstKey, key) <= 0 {
		return &v.slots[big]
	}
	return &v.slots[small]
}
