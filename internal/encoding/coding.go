// Package encoding provides the little-endian fixed-width and varint
// primitives shared by the WAL, write batches, checkpoints and pool
// metadata.
//
// Varints use 7-bit groups with the MSB as continuation flag.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarint32Length is the maximum number of bytes a varint32 can occupy.
const MaxVarint32Length = 5

// MaxVarint64Length is the maximum number of bytes a varint64 can occupy.
const MaxVarint64Length = 10

var (
	// ErrBufferTooSmall is returned when the input ends inside a value.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")
	// ErrVarintOverflow is returned for a varint longer than its type allows.
	ErrVarintOverflow = errors.New("encoding: varint overflow")
)

// EncodeFixed32 writes value into dst[0:4].
func EncodeFixed32(dst []byte, value uint32) {
	binary.LittleEndian.PutUint32(dst, value)
}

// DecodeFixed32 reads a uint32 from src[0:4].
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// EncodeFixed64 writes value into dst[0:8].
func EncodeFixed64(dst []byte, value uint64) {
	binary.LittleEndian.PutUint64(dst, value)
}

// DecodeFixed64 reads a uint64 from src[0:8].
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendFixed32 appends a little-endian uint32.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends a little-endian uint64.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// AppendVarint32 appends value as a varint.
func AppendVarint32(dst []byte, value uint32) []byte {
	return AppendVarint64(dst, uint64(value))
}

// AppendVarint64 appends value as a varint.
func AppendVarint64(dst []byte, value uint64) []byte {
	for value >= 0x80 {
		dst = append(dst, byte(value)|0x80)
		value >>= 7
	}
	return append(dst, byte(value))
}

// DecodeVarint32 decodes a varint32 from src and returns the value and the
// number of bytes consumed.
func DecodeVarint32(src []byte) (uint32, int, error) {
	v, n, err := decodeVarint(src, MaxVarint32Length)
	if err != nil {
		return 0, 0, err
	}
	if v > 0xffffffff {
		return 0, 0, ErrVarintOverflow
	}
	return uint32(v), n, nil
}

// DecodeVarint64 decodes a varint64 from src.
func DecodeVarint64(src []byte) (uint64, int, error) {
	return decodeVarint(src, MaxVarint64Length)
}

func decodeVarint(src []byte, maxLen int) (uint64, int, error) {
	var result uint64
	for i := 0; i < maxLen; i++ {
		if i >= len(src) {
			return 0, 0, ErrBufferTooSmall
		}
		b := src[i]
		result |= uint64(b&0x7f) << (7 * uint(i))
		if b < 0x80 {
			return result, i + 1, nil
		}
	}
	return 0, 0, ErrVarintOverflow
}

// VarintLength returns the number of bytes needed to encode v as a varint.
func VarintLength(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// AppendLengthPrefixedSlice appends [varint32 len][bytes].
func AppendLengthPrefixedSlice(dst []byte, value []byte) []byte {
	dst = AppendVarint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// DecodeLengthPrefixedSlice decodes [varint32 len][bytes] from src. The
// returned slice aliases src.
func DecodeLengthPrefixedSlice(src []byte) ([]byte, int, error) {
	length, n, err := DecodeVarint32(src)
	if err != nil {
		return nil, 0, err
	}
	end := n + int(length)
	if end > len(src) || end < n {
		return nil, 0, ErrBufferTooSmall
	}
	return src[n:end], end, nil
}

// Decoder reads sequential values from a byte slice. The first failure is
// sticky: later reads return zero values and Err reports it.
type Decoder struct {
	data []byte
	pos  int
	err  error
}

// NewDecoder creates a Decoder over data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.data) - d.pos }

// Err returns the first decode error.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// Fixed32 reads a fixed 32-bit value.
func (d *Decoder) Fixed32() uint32 {
	if d.err != nil || d.Remaining() < 4 {
		d.fail(ErrBufferTooSmall)
		return 0
	}
	v := DecodeFixed32(d.data[d.pos:])
	d.pos += 4
	return v
}

// Fixed64 reads a fixed 64-bit value.
func (d *Decoder) Fixed64() uint64 {
	if d.err != nil || d.Remaining() < 8 {
		d.fail(ErrBufferTooSmall)
		return 0
	}
	v := DecodeFixed64(d.data[d.pos:])
	d.pos += 8
	return v
}

// Uvarint reads a varint64.
func (d *Decoder) Uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n, err := DecodeVarint64(d.data[d.pos:])
	if err != nil {
		d.fail(err)
		return 0
	}
	d.pos += n
	return v
}

// Byte reads one byte.
func (d *Decoder) Byte() byte {
	if d.err != nil || d.Remaining() < 1 {
		d.fail(ErrBufferTooSmall)
		return 0
	}
	b := d.data[d.pos]
	d.pos++
	return b
}

// LengthPrefixed reads a length-prefixed slice aliasing the input.
func (d *Decoder) LengthPrefixed() []byte {
	if d.err != nil {
		return nil
	}
	v, n, err := DecodeLengthPrefixedSlice(d.data[d.pos:])
	if err != nil {
		d.fail(err)
		return nil
	}
	d.pos += n
	return v
}

// Bytes reads n raw bytes aliasing the input.
func (d *Decoder) Bytes(n int) []byte {
	if d.err != nil || n < 0 || d.Remaining() < n {
		d.fail(ErrBufferTooSmall)
		return nil
	}
	v := d.data[d.pos : d.pos+n]
	d.pos += n
	return v
}
