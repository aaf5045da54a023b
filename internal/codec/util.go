package codec

import (
	"encoding/binary"
	"math"

	"github.com/RoanBrand/minimq/internal/model"
)

// PackUint16 writes v big endian and returns 2.
func PackUint16(buf []byte, v uint16) int {
	binary.BigEndian.PutUint16(buf, v)
	return 2
}

// UnpackUint16 reads a big endian uint16.
func UnpackUint16(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf)
}

// PackStr writes a 2 byte length prefixed MQTT string.
func PackStr(buf []byte, s string) int {
	n := PackUint16(buf, uint16(len(s)))
	return n + copy(buf[n:], s)
}

func packBytes(buf []byte, b []byte) int {
	n := PackUint16(buf, uint16(len(b)))
	return n + copy(buf[n:], b)
}

func strSize(s string) (int, error) {
	if len(s) > math.MaxUint16 {
		return 0, model.ErrMalformedRequest
	}
	return len(s) + 2, nil
}

// unpackStr reads a length prefixed string from the start of buf.
func unpackStr(buf []byte) ([]byte, int, error) {
	if len(buf) < 2 {
		return nil, 0, model.ErrMalformedResponse
	}
	l := int(UnpackUint16(buf))
	if len(buf) < 2+l {
		return nil, 0, model.ErrMalformedResponse
	}
	return buf[2 : 2+l], 2 + l, nil
}
