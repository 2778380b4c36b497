// Package wal implements the write-ahead log of a pool.
//
// A log file is a sequence of 32 KiB blocks. A logical record is written as
// one or more physical fragments; a fragment never straddles a block, and a
// block tail too short for a header is zero-padded.
//
//	+----------+---------+------+---------+
//	| CRC (4B) | Len(2B) | Type | Payload |
//	+----------+---------+------+---------+
//
// CRC is the masked CRC32C of Type + Payload.
package wal

// BlockSize is the size of each block in the log file.
const BlockSize = 32768

// HeaderSize is checksum (4) + length (2) + type (1).
const HeaderSize = 7

// MaxRecordPayload is the largest fragment payload.
const MaxRecordPayload = BlockSize - HeaderSize

// RecordType is the fragment type byte. Values are on disk.
type RecordType uint8

const (
	// ZeroType marks zero padding or preallocated space.
	ZeroType RecordType = 0
	// FullType is a record that fits in one fragment.
	FullType RecordType = 1
	// FirstType is the first fragment of a split record.
	FirstType RecordType = 2
	// MiddleType is an interior fragment.
	MiddleType RecordType = 3
	// LastType is the final fragment.
	LastType RecordType = 4

	maxRecordType = LastType
)

// String returns the string representation of a RecordType.
func (t RecordType) String() string {
	switch t {
	case ZeroType:
		return "ZeroType"
	case FullType:
		return "FullType"
	case FirstType:
		return "FirstType"
	case MiddleType:
		return "MiddleType"
	case LastType:
		return "LastType"
	default:
		return "UnknownType"
	}
}
