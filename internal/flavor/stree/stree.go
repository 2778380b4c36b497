// Package stree is the persistent sorted flavor. Records live in a
// multi-version skiplist; the pool makes them durable.
//
// Each write is tagged with its pool sequence. A snapshot is a pair of
// (skiplist, sequence), so taking one costs two atomic loads and readers
// never wait for the writer.
package stree

import (
	"sync/atomic"

	"github.com/aalhour/poolkv/internal/batch"
	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/internal/memtable"
	"github.com/aalhour/poolkv/internal/pool"
)

// Name is the registered flavor name.
const Name = "stree"

// Store is a pool-backed sorted map.
type Store struct {
	pool      *pool.Pool
	logger    logging.Logger
	maxHeight int

	mem     atomic.Pointer[memtable.MemTable]
	visible atomic.Uint64
	usage   flavor.Counter
	closed  atomic.Bool
}

// Open opens or creates the pool in opts.Dir and recovers its records.
func Open(opts flavor.Options) (*Store, error) {
	s := &Store{
		logger:    logging.OrDefault(opts.Logger),
		maxHeight: opts.MaxHeight,
	}
	s.mem.Store(memtable.New(opts.MaxHeight))

	p, err := pool.Open(pool.Options{
		FS:              opts.FS,
		Dir:             opts.Dir,
		Flavor:          Name,
		Capacity:        opts.Capacity,
		CreateIfMissing: opts.CreateIfMissing,
		ErrorIfExists:   opts.ErrorIfExists,
		Sync:            opts.Sync,
		Compression:     opts.Compression,
		WALSizeLimit:    opts.WALSizeLimit,
		ParanoidChecks:  opts.ParanoidChecks,
		Logger:          opts.Logger,
	}, (*index)(s))
	if err != nil {
		return nil, err
	}
	s.pool = p
	s.visible.Store(p.LastSequence())
	return s, nil
}

// Capabilities implements flavor.Store.
func (s *Store) Capabilities() flavor.Capabilities {
	return flavor.Capabilities{Sorted: true, Iterators: true, BoundedRanges: true, Persistent: true}
}

// view loads the skiplist before the sequence. A Defrag swap between the
// two loads leaves an older skiplist that still holds every record up to
// the swap point.
func (s *Store) view() (*memtable.MemTable, uint64) {
	mem := s.mem.Load()
	return mem, s.visible.Load()
}

// Get implements flavor.Store.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, flavor.ErrClosed
	}
	mem, seq := s.view()
	v, ok := mem.Get(key, seq)
	return v, ok, nil
}

// Write implements flavor.Store.
func (s *Store) Write(b *batch.WriteBatch) error {
	if s.closed.Load() {
		return flavor.ErrClosed
	}
	return s.pool.Write(b)
}

// Snapshot implements flavor.Store.
func (s *Store) Snapshot() (flavor.Snapshot, error) {
	if s.closed.Load() {
		return nil, flavor.ErrClosed
	}
	mem, seq := s.view()
	return &snapshot{mem: mem, seq: seq}, nil
}

// Usage implements flavor.Store.
func (s *Store) Usage() flavor.Usage { return s.usage.Usage() }

// Defrag drops superseded versions by rebuilding the skiplist at the
// current sequence, then checkpoints so the WAL can be retired.
func (s *Store) Defrag(startPercent, amountPercent int) error {
	if s.closed.Load() {
		return flavor.ErrClosed
	}
	err := s.pool.Exclusive(func() error {
		old := s.mem.Load()
		fresh := old.Compact(s.visible.Load(), s.maxHeight)
		s.mem.Store(fresh)
		s.logger.Infof(logging.NSDB+"stree: compacted %d versions into %d", old.Entries(), fresh.Entries())
		return nil
	})
	if err != nil {
		return err
	}
	return s.pool.Checkpoint()
}

// Stats implements flavor.Store.
func (s *Store) Stats() flavor.Stats {
	ps := s.pool.Stats()
	return flavor.Stats{
		Usage:              s.usage.Usage(),
		Capacity:           ps.Capacity,
		LastSequence:       ps.LastSequence,
		CheckpointSequence: ps.CheckpointSequence,
		WALBytes:           ps.WALBytes,
	}
}

// Close syncs and releases the pool.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.pool.Close()
}

// index is the pool's view of the store. The pool serializes every call.
type index Store

func (x *index) Load(key, value []byte) error {
	s := (*Store)(x)
	mem := s.mem.Load()
	old, existed := mem.Get(key, memtable.MaxSequence)
	mem.Add(0, memtable.KindValue, key, value)
	s.usage.Put(key, value, old, existed)
	return nil
}

func (x *index) Apply(b *batch.WriteBatch) error {
	s := (*Store)(x)
	ops, err := flavor.Ops(b)
	if err != nil {
		return err
	}
	mem := s.mem.Load()
	seq := b.Sequence()
	for _, op := range ops {
		old, existed := mem.Get(op.Key, memtable.MaxSequence)
		if op.Delete {
			if existed {
				mem.Add(seq, memtable.KindDeletion, op.Key, nil)
				s.usage.Delete(op.Key, old)
			}
		} else {
			mem.Add(seq, memtable.KindValue, op.Key, op.Value)
			s.usage.Put(op.Key, op.Value, old, existed)
		}
		seq++
	}
	s.visible.Store(b.LastSequence())
	return nil
}

func (x *index) Dump(fn func(key, value []byte) error) error {
	s := (*Store)(x)
	mem, seq := s.view()
	it := mem.NewIterator(seq)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return nil
}

type snapshot struct {
	mem *memtable.MemTable
	seq uint64
}

func (sn *snapshot) Get(key []byte) ([]byte, bool, error) {
	v, ok := sn.mem.Get(key, sn.seq)
	return v, ok, nil
}

func (sn *snapshot) Scan(r flavor.Range, fn func(key, value []byte) error) error {
	c, _ := sn.NewCursor()
	return flavor.ScanCursor(c, r, fn)
}

func (sn *snapshot) NewCursor() (flavor.Cursor, error) {
	return &cursor{it: sn.mem.NewIterator(sn.seq)}, nil
}

func (sn *snapshot) Release() {}

type cursor struct {
	it *memtable.SnapshotIterator
}

func (c *cursor) Valid() bool          { return c.it.Valid() }
func (c *cursor) Key() []byte          { return c.it.Key() }
func (c *cursor) Value() []byte        { return c.it.Value() }
func (c *cursor) First()               { c.it.SeekToFirst() }
func (c *cursor) Last()                { c.it.SeekToLast() }
func (c *cursor) SeekGE(target []byte) { c.it.SeekGE(target) }
func (c *cursor) SeekGT(target []byte) { c.it.SeekGT(target) }
func (c *cursor) SeekLE(target []byte) { c.it.SeekLE(target) }
func (c *cursor) SeekLT(target []byte) { c.it.SeekLT(target) }
func (c *cursor) Next()                { c.it.Next() }
func (c *cursor) Prev()                { c.it.Prev() }
func (c *cursor) Err() error           { return nil }
func (c *cursor) Close() error         { return nil }
