package checksum

import "fmt"

// Type identifies the checksum recorded in a file header.
type Type uint8

const (
	// TypeNoChecksum means the payload is not checksummed.
	TypeNoChecksum Type = 0
	// TypeCRC32C is masked CRC32C widened to 64 bits.
	TypeCRC32C Type = 1
	// TypeXXH3 is XXH3-64.
	TypeXXH3 Type = 4
)

// String returns a human-readable name for the checksum type.
func (t Type) String() string {
	switch t {
	case TypeNoChecksum:
		return "NoChecksum"
	case TypeCRC32C:
		return "CRC32C"
	case TypeXXH3:
		return "XXH3"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Compute returns the checksum of data under t.
func Compute(t Type, data []byte) uint64 {
	switch t {
	case TypeCRC32C:
		return uint64(MaskedValue(data))
	case TypeXXH3:
		return XXH3(data)
	default:
		return 0
	}
}

// Verify reports whether sum is the checksum of data under t.
// TypeNoChecksum always verifies.
func Verify(t Type, data []byte, sum uint64) bool {
	if t == TypeNoChecksum {
		return true
	}
	return Compute(t, data) == sum
}
