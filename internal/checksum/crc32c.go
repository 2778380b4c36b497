// Package checksum provides the two checksums used on disk:
//   - CRC32C (Castagnoli), masked before storage, for WAL record headers
//   - XXH3-64 for checkpoint files and pool metadata
//
// XXH3 also serves as the key hash for hashed flavors.
package checksum

import (
	"hash/crc32"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

const maskDelta = 0xa282ead8

// Value computes the CRC32C checksum of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// Extend computes the CRC32C of concat(A, data) where initCRC is the CRC32C of A.
func Extend(initCRC uint32, data []byte) uint32 {
	return crc32.Update(initCRC, crc32cTable, data)
}

// Mask returns a masked representation of crc. Stored CRCs are always
// masked, since a CRC over data that embeds CRCs is weak.
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask reverses Mask.
func Unmask(maskedCRC uint32) uint32 {
	rot := maskedCRC - maskDelta
	return (rot >> 17) | (rot << 15)
}

// MaskedValue is Mask(Value(data)).
func MaskedValue(data []byte) uint32 {
	return Mask(Value(data))
}
