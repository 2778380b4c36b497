// Package blackhole is the flavor that accepts every write and keeps
// nothing. It is useful for measuring the engine's own overhead.
package blackhole

import (
	"github.com/aalhour/poolkv/internal/batch"
	"github.com/aalhour/poolkv/internal/flavor"
)

// Name is the registered flavor name.
const Name = "blackhole"

// Store discards writes.
type Store struct{}

// Open returns a Store. Options are ignored.
func Open(flavor.Options) (*Store, error) { return &Store{}, nil }

// Capabilities implements flavor.Store.
func (Store) Capabilities() flavor.Capabilities { return flavor.Capabilities{} }

// Get never finds anything.
func (Store) Get([]byte) ([]byte, bool, error) { return nil, false, nil }

// Write validates b and drops it.
func (Store) Write(b *batch.WriteBatch) error {
	_, err := flavor.Ops(b)
	return err
}

// Snapshot returns an empty view.
func (Store) Snapshot() (flavor.Snapshot, error) { return snapshot{}, nil }

// Usage is always zero.
func (Store) Usage() flavor.Usage { return flavor.Usage{} }

// Defrag has nothing to do.
func (Store) Defrag(int, int) error { return nil }

// Stats is always zero.
func (Store) Stats() flavor.Stats { return flavor.Stats{} }

// Close does nothing.
func (Store) Close() error { return nil }

type snapshot struct{}

func (snapshot) Get([]byte) ([]byte, bool, error) { return nil, false, nil }

func (snapshot) Scan(r flavor.Range, _ func(key, value []byte) error) error {
	if r.Bounded() {
		return flavor.ErrNotSupported
	}
	return nil
}

func (snapshot) NewCursor() (flavor.Cursor, error) { return nil, flavor.ErrNotSupported }

func (snapshot) Release() {}
