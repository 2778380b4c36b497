// Package flavor defines the contract between the engine and its storage
// strategies.
//
// A Store owns the records. Reads that must not observe later writes go
// through a Snapshot; ordered flavors expose Cursors over a snapshot. The
// engine owns every policy above that: capacity, the single-writer rule,
// iterator states and status mapping.
package flavor

import (
	"bytes"
	"errors"

	"github.com/aalhour/poolkv/internal/batch"
	"github.com/aalhour/poolkv/internal/compression"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/internal/vfs"
)

var (
	// ErrNotSupported is returned for operations outside a flavor's
	// capabilities.
	ErrNotSupported = errors.New("flavor: operation not supported")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("flavor: store closed")
)

// Capabilities describes what a flavor can do.
type Capabilities struct {
	// Sorted flavors visit records in ascending key order natively.
	Sorted bool
	// Iterators reports support for cursors.
	Iterators bool
	// BoundedRanges reports support for above/below/between scans.
	BoundedRanges bool
	// Persistent flavors keep records across Close.
	Persistent bool
}

// Options carries the resolved open-time settings to a flavor.
type Options struct {
	Dir             string
	FS              vfs.FS
	Capacity        int64
	CreateIfMissing bool
	ErrorIfExists   bool
	Sync            bool
	Compression     compression.Type
	WALSizeLimit    int64
	ParanoidChecks  bool

	// Shards is the cmap shard count, a power of two.
	Shards int
	// MaxHeight is the stree skiplist height limit.
	MaxHeight int
	// BlockCacheCapacity and WriteBuffer tune the lsm flavor.
	BlockCacheCapacity int
	WriteBuffer        int

	Logger logging.Logger
}

// Usage is the live data held by a store.
type Usage struct {
	Records int64
	// Bytes is the sum of key and value lengths.
	Bytes int64
}

// Stats describes a store.
type Stats struct {
	Usage
	Capacity           int64
	LastSequence       uint64
	CheckpointSequence uint64
	WALBytes           int64
	Detail             string
}

// Store is an open flavor instance.
type Store interface {
	Capabilities() Capabilities

	// Get returns the current value of key. The slice is never modified
	// by the store and may be retained.
	Get(key []byte) ([]byte, bool, error)

	// Write applies b atomically and durably, per the store's durability.
	Write(b *batch.WriteBatch) error

	// Snapshot pins the current state.
	Snapshot() (Snapshot, error)

	Usage() Usage

	// Defrag compacts the store's structures. The percentages select the
	// portion of the store to work on where the flavor can honor them.
	Defrag(startPercent, amountPercent int) error

	Stats() Stats
	Close() error
}

// Snapshot is a read-only, point-in-time view.
type Snapshot interface {
	Get(key []byte) ([]byte, bool, error)

	// Scan calls fn for every record in r in ascending key order. A non-nil
	// error from fn stops the scan and is returned as is.
	Scan(r Range, fn func(key, value []byte) error) error

	// NewCursor returns an unpositioned cursor, or ErrNotSupported.
	NewCursor() (Cursor, error)

	Release()
}

// Cursor is a bidirectional position over a snapshot. Key and Value are
// valid until the cursor moves.
type Cursor interface {
	Valid() bool
	Key() []byte
	Value() []byte

	First()
	Last()
	SeekGE(target []byte)
	SeekGT(target []byte)
	SeekLE(target []byte)
	SeekLT(target []byte)
	Next()
	Prev()

	Err() error
	Close() error
}

// Range selects keys by exclusive bounds.
type Range struct {
	Lower, Upper       []byte
	HasLower, HasUpper bool
}

// All selects every key.
func All() Range { return Range{} }

// Above selects keys > k.
func Above(k []byte) Range { return Range{Lower: k, HasLower: true} }

// Below selects keys < k.
func Below(k []byte) Range { return Range{Upper: k, HasUpper: true} }

// Between selects keys > lower and < upper.
func Between(lower, upper []byte) Range {
	return Range{Lower: lower, Upper: upper, HasLower: true, HasUpper: true}
}

// Bounded reports whether r has any bound.
func (r Range) Bounded() bool { return r.HasLower || r.HasUpper }

// Empty reports whether no key can satisfy r.
func (r Range) Empty() bool {
	return r.HasLower && r.HasUpper && bytes.Compare(r.Lower, r.Upper) >= 0
}

// Contains reports whether key falls in r.
func (r Range) Contains(key []byte) bool {
	if r.HasLower && bytes.Compare(key, r.Lower) <= 0 {
		return false
	}
	if r.HasUpper && bytes.Compare(key, r.Upper) >= 0 {
		return false
	}
	return true
}

// ScanCursor walks c over r, ascending.
func ScanCursor(c Cursor, r Range, fn func(key, value []byte) error) error {
	if r.Empty() {
		return nil
	}
	if r.HasLower {
		c.SeekGT(r.Lower)
	} else {
		c.First()
	}
	for ; c.Valid(); c.Next() {
		if r.HasUpper && bytes.Compare(c.Key(), r.Upper) >= 0 {
			break
		}
		if err := fn(c.Key(), c.Value()); err != nil {
			return err
		}
	}
	return c.Err()
}
