package kvtree

import (
	"bytes"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
)

var log = logging.Logger("kvtree")

// MagicNumber terminates every kvtree file.
const MagicNumber uint64 = 0x1a2b3c4d5e6f7a8d

// FooterSize is the size of the fixed file footer in bytes.
const FooterSize = 8 + 8 + 4 + 8

const (
	defaultBlockSize      = 16 * 1024
	defaultCacheGroupSize = 1
)

// ErrNotFound is returned by the reader when a key cannot be found.
var ErrNotFound = errors.New("kvtree: not found")

// Format errors, returned when a file cannot be opened.
var (
	ErrBadMagic       = errors.New("kvtree: bad magic number")
	ErrTruncated      = errors.New("kvtree: file is truncated")
	ErrCorrupt        = errors.New("kvtree: file is corrupt")
	ErrBadCompression = errors.New("kvtree: bad compression codec")
)

// Ordering errors, returned by the writer.
var (
	ErrOutOfOrder = errors.New("kvtree: out-of-order append")
	ErrKeyTooLong = errors.New("kvtree: key is too long")
)

var (
	errClosed   = errors.New("kvtree: is closed")
	errReleased = errors.New("kvtree: iterator was released")
)

// IsFormatError returns true if err indicates that a file is not a valid
// kvtree file.
func IsFormatError(err error) bool {
	switch errors.Cause(err) {
	case ErrBadMagic, ErrTruncated, ErrCorrupt, ErrBadCompression:
		return true
	}
	return false
}

// blockInfo describes a single block of the file.
type blockInfo struct {
	Slot         int    // position within the vocabulary
	FirstKey     []byte // first key in the block
	NextSlotKey  []byte // first key of the next block, exclusive upper bound
	Offset       int64  // block offset position
	Length       int64  // total length, including the header
	HeaderLength int64  // length of the key header
}

// contains returns true if key falls within [FirstKey, NextSlotKey).
func (b *blockInfo) contains(key []byte) bool {
	return bytes.Compare(b.FirstKey, key) <= 0 && bytes.Compare(key, b.NextSlotKey) < 0
}

// successor returns the smallest key that sorts after key.
func successor(key []byte) []byte {
	next := make([]byte, len(key)+1)
	copy(next, key)
	return next
}

// commonPrefix returns the length of the shared prefix of a and b.
func commonPrefix(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
