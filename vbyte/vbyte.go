// Package vbyte implements the variable-byte integer encoding used for every
// offset and length in kvtree files.
//
// Integers are written as little-endian 7-bit groups. Unlike encoding/binary
// varints, the stop bit (0x80) marks the LAST byte of a number, so zero is
// encoded as the single byte 0x80 and any value below 128 as value|0x80.
//
//     value   encoded
//     0       80
//     1       81
//     127     ff
//     128     00 81
//     300     2c 82
package vbyte

import (
	"io"

	"github.com/pkg/errors"
)

// MaxLen64 is the maximum length of a vbyte-encoded 64-bit integer.
const MaxLen64 = 10

// ErrOverflow is returned when a number exceeds 64 bits.
var ErrOverflow = errors.New("vbyte: varint overflows a 64-bit integer")

const stopBit = 0x80

// Size returns the number of bytes required to encode v.
func Size(v uint64) int {
	n := 1
	for v >= stopBit {
		v >>= 7
		n++
	}
	return n
}

// PutUvarint encodes v into buf and returns the number of bytes written.
// It panics if buf is too small.
func PutUvarint(buf []byte, v uint64) int {
	i := 0
	for v >= stopBit {
		buf[i] = byte(v & 0x7f)
		v >>= 7
		i++
	}
	buf[i] = byte(v) | stopBit
	return i + 1
}

// AppendUvarint appends the encoded form of v to dst.
func AppendUvarint(dst []byte, v uint64) []byte {
	for v >= stopBit {
		dst = append(dst, byte(v&0x7f))
		v >>= 7
	}
	return append(dst, byte(v)|stopBit)
}

// Uvarint decodes a number from buf and returns it with the number of bytes
// read. If n == 0, buf was too short; if n < 0, the value overflowed 64 bits
// and -n is the number of bytes read.
func Uvarint(buf []byte) (uint64, int) {
	var x uint64
	var s uint
	for i, b := range buf {
		if i == MaxLen64 {
			return 0, -(i + 1)
		}
		if b&stopBit != 0 {
			if i == MaxLen64-1 && b&0x7f > 1 {
				return 0, -(i + 1)
			}
			return x | uint64(b&0x7f)<<s, i + 1
		}
		x |= uint64(b) << s
		s += 7
	}
	return 0, 0
}

// ReadUvarint reads a number from r.
func ReadUvarint(r io.ByteReader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < MaxLen64; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return x, err
		}
		if b&stopBit != 0 {
			if i == MaxLen64-1 && b&0x7f > 1 {
				return x, ErrOverflow
			}
			return x | uint64(b&0x7f)<<s, nil
		}
		x |= uint64(b) << s
		s += 7
	}
	return x, ErrOverflow
}

// ReadUvarint32 reads a number from r, truncated to 32 bits. The full
// encoded number is always consumed.
func ReadUvarint32(r io.ByteReader) (uint32, error) {
	v, err := ReadUvarint(r)
	return uint32(v), err
}
