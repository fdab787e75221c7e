package sortedmap

import (
	"bytes"
	"container/heap"

	"github.com/bsm/kvtree"
)

// MergeFunc resolves the values of a key present in more than one input.
// Values are passed in input order.
type MergeFunc func(key []byte, values [][]byte) ([]byte, error)

// TakeFirst keeps the value of the first input which contains the key.
func TakeFirst(_ []byte, values [][]byte) ([]byte, error) {
	return values[0], nil
}

// Merge writes the sorted union of all inputs to dst. Values of keys present
// in more than one input are resolved by fn, which defaults to TakeFirst. It
// does not close dst.
func Merge(dst *SortedBuilder[[]byte, []byte], inputs []*Reader, fn MergeFunc) error {
	if fn == nil {
		fn = TakeFirst
	}

	var group []*mergeCursor
	h := make(mergeHeap, 0, len(inputs))
	defer func() {
		for _, c := range append(h, group...) {
			c.iter.Release()
		}
	}()

	for pos, r := range inputs {
		iter, err := r.Iterator()
		if err != nil {
			return err
		}
		if iter.Done() {
			iter.Release()
			continue
		}
		h = append(h, &mergeCursor{iter: iter, pos: pos})
	}
	heap.Init(&h)

	var key []byte
	var values [][]byte

	for h.Len() != 0 {
		// pop all cursors positioned at the smallest key, in input order
		group = append(group[:0], heap.Pop(&h).(*mergeCursor))
		key = append(key[:0], group[0].iter.Key()...)
		for h.Len() != 0 && bytes.Equal(h[0].iter.Key(), key) {
			group = append(group, heap.Pop(&h).(*mergeCursor))
		}

		values = values[:0]
		for _, c := range group {
			val, err := c.iter.Value()
			if err != nil {
				return err
			}
			values = append(values, val)
		}

		val, err := fn(key, values)
		if err != nil {
			return err
		}
		if err := dst.put(key, val); err != nil {
			return err
		}

		for _, c := range group {
			if c.iter.Next() {
				heap.Push(&h, c)
				continue
			}

			err := c.iter.Err()
			c.iter.Release()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

type mergeCursor struct {
	iter *kvtree.Iterator
	pos  int
}

type mergeHeap []*mergeCursor

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].iter.Key(), h[j].iter.Key()); c != 0 {
		return c < 0
	}
	return h[i].pos < h[j].pos
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*mergeCursor)) }

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
