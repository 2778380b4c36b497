package checksum

import (
	"github.com/zeebo/xxh3"
)

// XXH3 returns the 64-bit XXH3 hash of data.
func XXH3(data []byte) uint64 {
	return xxh3.Hash(data)
}

// XXH3String hashes s without copying it.
func XXH3String(s string) uint64 {
	return xxh3.HashString(s)
}

// XXH3Digest is an incremental XXH3 hasher for streamed file contents.
type XXH3Digest struct {
	h *xxh3.Hasher
}

// NewXXH3Digest returns an empty digest.
func NewXXH3Digest() *XXH3Digest {
	return &XXH3Digest{h: xxh3.New()}
}

// Write adds p to the digest. It never fails.
func (d *XXH3Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Sum64 returns the hash of everything written so far.
func (d *XXH3Digest) Sum64() uint64 {
	return d.h.Sum64()
}
