package kvtree

import (
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression is the value compression codec.
type Compression byte

// Supported compression codecs
const (
	NoCompression Compression = iota
	SnappyCompression
	ZstdCompression
	unknownCompression
)

func (c Compression) isValid() bool {
	return c >= NoCompression && c < unknownCompression
}

// String returns the codec name, as stored in the manifest.
func (c Compression) String() string {
	if c.isValid() {
		return codecs[c].Name()
	}
	return "unknown"
}

// Codec transforms value bytes. Offsets within a block always refer to the
// encoded bytes, so codecs never affect key addressing.
type Codec interface {
	// Name is persisted in the manifest under the "compression" key.
	Name() string
	// Encode appends the encoded src to dst.
	Encode(dst, src []byte) []byte
	// Decode appends the decoded src to dst.
	Decode(dst, src []byte) ([]byte, error)
}

var codecs = [...]Codec{
	NoCompression:     plainCodec{},
	SnappyCompression: snappyCodec{},
	ZstdCompression:   &zstdCodec{},
}

// codecByName resolves a manifest codec name. An empty name is treated as
// uncompressed, for files written without a "compression" key.
func codecByName(name string) (Codec, error) {
	if name == "" {
		return plainCodec{}, nil
	}
	for _, c := range codecs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, ErrBadCompression
}

// --------------------------------------------------------------------

type plainCodec struct{}

func (plainCodec) Name() string                           { return "none" }
func (plainCodec) Encode(dst, src []byte) []byte          { return append(dst, src...) }
func (plainCodec) Decode(dst, src []byte) ([]byte, error) { return append(dst, src...), nil }

type snappyCodec struct{}

func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Encode(dst, src []byte) []byte {
	return append(dst, snappy.Encode(nil, src)...)
}

func (snappyCodec) Decode(dst, src []byte) ([]byte, error) {
	plain, err := snappy.Decode(nil, src)
	if err != nil {
		return dst, err
	}
	return append(dst, plain...), nil
}

type zstdCodec struct {
	once sync.Once
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	err  error
}

func (*zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) init() error {
	c.once.Do(func() {
		if c.enc, c.err = zstd.NewWriter(nil); c.err != nil {
			return
		}
		c.dec, c.err = zstd.NewReader(nil)
	})
	return c.err
}

func (c *zstdCodec) Encode(dst, src []byte) []byte {
	if err := c.init(); err != nil {
		panic(err)
	}
	return c.enc.EncodeAll(src, dst)
}

func (c *zstdCodec) Decode(dst, src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return dst, err
	}
	return c.dec.DecodeAll(src, dst)
}
