// Package vsmap is the volatile sorted flavor: a copy-on-write B-tree held
// in memory. Snapshots are lazy B-tree clones, so a reader never blocks the
// writer for longer than the clone itself.
package vsmap

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/aalhour/poolkv/internal/batch"
	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/internal/logging"
)

// Name is the registered flavor name.
const Name = "vsmap"

const degree = 32

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool { return bytes.Compare(a.key, b.key) < 0 }

// Store is an in-memory sorted map.
type Store struct {
	mu       sync.RWMutex
	tree     *btree.BTreeG[item]
	usage    flavor.Counter
	capacity int64
	logger   logging.Logger
	closed   bool
}

// Open creates an empty store. Nothing outlives Close.
func Open(opts flavor.Options) (*Store, error) {
	return &Store{
		tree:     btree.NewG(degree, less),
		capacity: opts.Capacity,
		logger:   logging.OrDefault(opts.Logger),
	}, nil
}

// Capabilities implements flavor.Store.
func (s *Store) Capabilities() flavor.Capabilities {
	return flavor.Capabilities{Sorted: true, Iterators: true, BoundedRanges: true}
}

// Get implements flavor.Store.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, flavor.ErrClosed
	}
	it, ok := s.tree.Get(item{key: key})
	return it.value, ok, nil
}

// Write implements flavor.Store.
func (s *Store) Write(b *batch.WriteBatch) error {
	ops, err := flavor.Ops(b)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return flavor.ErrClosed
	}
	for _, op := range ops {
		if op.Delete {
			if old, ok := s.tree.Delete(item{key: op.Key}); ok {
				s.usage.Delete(old.key, old.value)
			}
			continue
		}
		it := item{key: flavor.Clone(op.Key), value: flavor.Clone(op.Value)}
		old, existed := s.tree.ReplaceOrInsert(it)
		s.usage.Put(it.key, it.value, old.value, existed)
	}
	return nil
}

// Snapshot implements flavor.Store.
func (s *Store) Snapshot() (flavor.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, flavor.ErrClosed
	}
	return &snapshot{tree: s.tree.Clone()}, nil
}

// Usage implements flavor.Store.
func (s *Store) Usage() flavor.Usage { return s.usage.Usage() }

// Defrag rebuilds the tree, dropping the nodes shared with released
// snapshots.
func (s *Store) Defrag(startPercent, amountPercent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return flavor.ErrClosed
	}
	fresh := btree.NewG(degree, less)
	s.tree.Ascend(func(it item) bool {
		fresh.ReplaceOrInsert(it)
		return true
	})
	if fresh.Len() != s.tree.Len() {
		return fmt.Errorf("vsmap: rebuilt %d of %d records", fresh.Len(), s.tree.Len())
	}
	s.tree = fresh
	s.logger.Debugf(logging.NSDB+"vsmap: rebuilt %d records", fresh.Len())
	return nil
}

// Stats implements flavor.Store.
func (s *Store) Stats() flavor.Stats {
	return flavor.Stats{Usage: s.usage.Usage(), Capacity: s.capacity}
}

// Close drops every record.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.tree.Clear(false)
		s.usage.Reset()
	}
	return nil
}

type snapshot struct {
	tree *btree.BTreeG[item]
}

func (sn *snapshot) Get(key []byte) ([]byte, bool, error) {
	it, ok := sn.tree.Get(item{key: key})
	return it.value, ok, nil
}

func (sn *snapshot) Scan(r flavor.Range, fn func(key, value []byte) error) error {
	if r.Empty() {
		return nil
	}
	var err error
	visit := func(it item) bool {
		if r.HasLower && bytes.Equal(it.key, r.Lower) {
			return true
		}
		err = fn(it.key, it.value)
		return err == nil
	}
	switch {
	case r.HasLower && r.HasUpper:
		sn.tree.AscendRange(item{key: r.Lower}, item{key: r.Upper}, visit)
	case r.HasLower:
		sn.tree.AscendGreaterOrEqual(item{key: r.Lower}, visit)
	case r.HasUpper:
		sn.tree.AscendLessThan(item{key: r.Upper}, visit)
	default:
		sn.tree.Ascend(visit)
	}
	return err
}

func (sn *snapshot) NewCursor() (flavor.Cursor, error) {
	return flavor.NewSeekCursor(seeker{sn.tree}), nil
}

func (sn *snapshot) Release() {}

// seeker answers positional queries on an immutable clone.
type seeker struct {
	tree *btree.BTreeG[item]
}

func found(it item, ok bool) ([]byte, []byte, bool) {
	if !ok {
		return nil, nil, false
	}
	return it.key, it.value, true
}

func (s seeker) First() ([]byte, []byte, bool) { return found(s.tree.Min()) }
func (s seeker) Last() ([]byte, []byte, bool)  { return found(s.tree.Max()) }

func (s seeker) SeekGE(target []byte) ([]byte, []byte, bool) {
	var res item
	var ok bool
	s.tree.AscendGreaterOrEqual(item{key: target}, func(it item) bool {
		res, ok = it, true
		return false
	})
	return found(res, ok)
}

func (s seeker) SeekGT(target []byte) ([]byte, []byte, bool) {
	var res item
	var ok bool
	s.tree.AscendGreaterOrEqual(item{key: target}, func(it item) bool {
		if bytes.Equal(it.key, target) {
			return true
		}
		res, ok = it, true
		return false
	})
	return found(res, ok)
}

func (s seeker) SeekLE(target []byte) ([]byte, []byte, bool) {
	var res item
	var ok bool
	s.tree.DescendLessOrEqual(item{key: target}, func(it item) bool {
		res, ok = it, true
		return false
	})
	return found(res, ok)
}

func (s seeker) SeekLT(target []byte) ([]byte, []byte, bool) {
	var res item
	var ok bool
	s.tree.DescendLessOrEqual(item{key: target}, func(it item) bool {
		if bytes.Equal(it.key, target) {
			return true
		}
		res, ok = it, true
		return false
	})
	return found(res, ok)
}
