package sortedmap

import (
	"encoding/binary"
	"encoding/json"

	"github.com/bsm/kvtree"
	"github.com/bsm/kvtree/vbyte"
	"github.com/pkg/errors"
)

// Codec converts typed keys or values to bytes and back. Key codecs must
// preserve order: a < b must imply bytes.Compare(Encode(a), Encode(b)) < 0.
type Codec[T any] interface {
	Encode(dst []byte, v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// StringCodec stores strings verbatim. It preserves order.
type StringCodec struct{}

func (StringCodec) Encode(dst []byte, v string) ([]byte, error) { return append(dst, v...), nil }
func (StringCodec) Decode(data []byte) (string, error)          { return string(data), nil }

// BytesCodec stores byte slices verbatim. It preserves order.
type BytesCodec struct{}

func (BytesCodec) Encode(dst []byte, v []byte) ([]byte, error) { return append(dst, v...), nil }

// Decode returns a copy of data.
func (BytesCodec) Decode(data []byte) ([]byte, error) {
	return append(make([]byte, 0, len(data)), data...), nil
}

// Uint64Codec stores numbers as 8 big endian bytes. It preserves order.
type Uint64Codec struct{}

func (Uint64Codec) Encode(dst []byte, v uint64) ([]byte, error) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(dst, tmp[:]...), nil
}

func (Uint64Codec) Decode(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, errors.Wrapf(kvtree.ErrCorrupt, "uint64 of %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// VarintCodec stores numbers vbyte encoded. It does not preserve order and
// should only be used for values.
type VarintCodec struct{}

func (VarintCodec) Encode(dst []byte, v uint64) ([]byte, error) {
	return vbyte.AppendUvarint(dst, v), nil
}

func (VarintCodec) Decode(data []byte) (uint64, error) {
	v, n := vbyte.Uvarint(data)
	if n <= 0 || n != len(data) {
		return 0, errors.Wrap(kvtree.ErrCorrupt, "bad varint")
	}
	return v, nil
}

// JSONCodec stores values as JSON. It does not preserve order and should
// only be used for values.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(dst []byte, v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return dst, err
	}
	return append(dst, data...), nil
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
