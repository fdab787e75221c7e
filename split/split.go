/*
Package split implements a sharded kvtree. Any number of value writers append
raw values to private shard files, in any key order and without coordination.
A single key writer collects the position of every value and stores them in
an ordinary kvtree file, keyed by the original key.

    Directory layout:
    +------------+---------+---------+-----+
    | split.keys | shard 0 | shard 1 | ... |
    +------------+---------+---------+-----+

    Shard file:
    +---------+---------+-----+----------------------------+-----------------+
    | value 0 | value 1 | ... | value block size (2 bytes) | magic (8 bytes) |
    +---------+---------+-----+----------------------------+-----------------+

    Key info (stored as the value of split.keys):
    +------------------+------------------------+------------------------+
    | shard (4 bytes)  | value offset (8 bytes) | value length (8 bytes) |
    +------------------+------------------------+------------------------+
*/
package split

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bsm/kvtree"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
)

var log = logging.Logger("kvtree/split")

// MagicNumber terminates every shard file.
const MagicNumber uint64 = 0x2b3c4d5e6f7a8b9c

// KeysFilename is the name of the key index within a split directory.
const KeysFilename = "split.keys"

// TrailerSize is the size of the shard file trailer in bytes.
const TrailerSize = 2 + 8

// KeyInfoSize is the encoded size of a KeyInfo.
const KeyInfoSize = 4 + 8 + 8

// ManifestValueBlockSize is the manifest key holding the value block size hint.
const ManifestValueBlockSize = "valueBlockSize"

var (
	errNoKey  = errors.New("split: no key started")
	errClosed = errors.New("split: is closed")
)

// KeyInfo locates a value within a shard.
type KeyInfo struct {
	ValueOutputID int32 // the shard number
	ValueOffset   int64 // offset of the value within the shard
	ValueLength   int64 // length of the value
}

// ValueEnd returns the offset at which the value ends.
func (k KeyInfo) ValueEnd() int64 { return k.ValueOffset + k.ValueLength }

// AppendBinary appends the encoded info to dst.
func (k KeyInfo) AppendBinary(dst []byte) []byte {
	var tmp [KeyInfoSize]byte
	binary.BigEndian.PutUint32(tmp[0:], uint32(k.ValueOutputID))
	binary.BigEndian.PutUint64(tmp[4:], uint64(k.ValueOffset))
	binary.BigEndian.PutUint64(tmp[12:], uint64(k.ValueLength))
	return append(dst, tmp[:]...)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (k KeyInfo) MarshalBinary() ([]byte, error) {
	return k.AppendBinary(make([]byte, 0, KeyInfoSize)), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (k *KeyInfo) UnmarshalBinary(data []byte) error {
	if len(data) != KeyInfoSize {
		return errors.Wrapf(kvtree.ErrCorrupt, "key info of %d bytes", len(data))
	}

	*k = KeyInfo{
		ValueOutputID: int32(binary.BigEndian.Uint32(data[0:])),
		ValueOffset:   int64(binary.BigEndian.Uint64(data[4:])),
		ValueLength:   int64(binary.BigEndian.Uint64(data[12:])),
	}
	if k.ValueOutputID < 0 || k.ValueOffset < 0 || k.ValueLength < 0 {
		return errors.Wrapf(kvtree.ErrCorrupt, "invalid key info %+v", *k)
	}
	return nil
}

// KeyProcessor receives the location of every stored value. Implementations
// must not retain key after returning.
type KeyProcessor interface {
	Process(key []byte, info KeyInfo) error
}

// IsBTree returns true if path is a split directory, or the key index within
// one, with a valid key index and shard 0.
func IsBTree(path string) (bool, error) {
	keys, dir, err := resolve(path)
	if err != nil {
		return false, err
	}

	if ok, err := kvtree.IsBTree(keys); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	} else if !ok {
		return false, nil
	}

	f, err := os.Open(shardPath(dir, 0))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	defer f.Close()

	_, _, err = readTrailer(f)
	if errors.Cause(err) == kvtree.ErrBadMagic || errors.Cause(err) == kvtree.ErrTruncated {
		return false, nil
	}
	return err == nil, err
}

// resolve returns the key index path and the split directory.
func resolve(path string) (string, string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return "", "", err
	}
	if stat.IsDir() {
		return filepath.Join(path, KeysFilename), path, nil
	}
	return path, filepath.Dir(path), nil
}

func shardPath(dir string, id int32) string {
	return filepath.Join(dir, strconv.FormatInt(int64(id), 10))
}

// readTrailer validates the trailer of a shard file and returns the size of
// its value data and the stored value block size.
func readTrailer(f *os.File) (int64, uint16, error) {
	stat, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	if stat.Size() < TrailerSize {
		return 0, 0, kvtree.ErrTruncated
	}

	var tmp [TrailerSize]byte
	if _, err := f.ReadAt(tmp[:], stat.Size()-TrailerSize); err != nil {
		return 0, 0, err
	}
	if binary.BigEndian.Uint64(tmp[2:]) != MagicNumber {
		return 0, 0, kvtree.ErrBadMagic
	}
	return stat.Size() - TrailerSize, binary.BigEndian.Uint16(tmp[0:]), nil
}
