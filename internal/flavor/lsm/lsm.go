// Package lsm is the persistent sorted flavor delegated to goleveldb. The
// pool directory holds a leveldb database plus the POOL metadata file that
// names the flavor and capacity.
package lsm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aalhour/poolkv/internal/batch"
	"github.com/aalhour/poolkv/internal/compression"
	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/internal/pool"
	"github.com/aalhour/poolkv/internal/vfs"
)

// Name is the registered flavor name.
const Name = "lsm"

// Store is a goleveldb-backed sorted map.
type Store struct {
	db       *leveldb.DB
	wo       *opt.WriteOptions
	logger   logging.Logger
	capacity int64

	mu     sync.Mutex // serializes writers for usage accounting
	usage  flavor.Counter
	closed atomic.Bool
	lock   io.Closer
}

// Open opens or creates the database in opts.Dir.
func Open(opts flavor.Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("lsm: empty directory")
	}
	fs := opts.FS
	if fs == nil {
		fs = vfs.Default()
	}
	logger := logging.OrDefault(opts.Logger)

	// goleveldb holds LOCK itself and reports a held lock as a bare errno,
	// so ownership is decided by a lock of our own first.
	mustExist := !opts.CreateIfMissing && !opts.ErrorIfExists
	lock, exists, err := pool.LockDir(fs, opts.Dir, pool.OwnerLockFileName, mustExist)
	if err != nil {
		return nil, err
	}
	s, err := openDB(fs, opts, logger, exists)
	if err != nil {
		_ = lock.Close()
		return nil, err
	}
	s.lock = lock
	logger.Infof(logging.NSPool+"lsm: opened %s with %d records", opts.Dir, s.usage.Usage().Records)
	return s, nil
}

// openDB opens the database. REQUIRES: the owner lock of opts.Dir held.
func openDB(fs vfs.FS, opts flavor.Options, logger logging.Logger, exists bool) (*Store, error) {
	if exists && opts.ErrorIfExists {
		return nil, fmt.Errorf("%w: %s", pool.ErrExist, opts.Dir)
	}
	capacity := opts.Capacity
	writeMeta := !exists
	if exists {
		meta, err := pool.ReadMeta(fs, opts.Dir)
		if err != nil {
			return nil, err
		}
		if meta.Flavor != Name {
			return nil, fmt.Errorf("%w: created by %q, opened as %q", pool.ErrFlavorMismatch, meta.Flavor, Name)
		}
		if capacity == 0 {
			capacity = meta.Capacity
		}
		writeMeta = capacity != meta.Capacity
	}

	o := &opt.Options{
		ErrorIfMissing:     !opts.CreateIfMissing && !opts.ErrorIfExists,
		ErrorIfExist:       opts.ErrorIfExists,
		BlockCacheCapacity: opts.BlockCacheCapacity,
		WriteBuffer:        opts.WriteBuffer,
		NoSync:             !opts.Sync,
		Compression:        opt.SnappyCompression,
	}
	if opts.Compression == compression.NoCompression {
		o.Compression = opt.NoCompression
	}
	if opts.ParanoidChecks {
		o.Strict = opt.StrictAll
	}

	db, err := leveldb.OpenFile(opts.Dir, o)
	if err != nil {
		return nil, translateOpenError(opts.Dir, err)
	}
	if writeMeta {
		if err := pool.WriteMeta(fs, opts.Dir, pool.NewMeta(Name, capacity)); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	s := &Store{
		db:       db,
		wo:       &opt.WriteOptions{Sync: opts.Sync},
		logger:   logger,
		capacity: capacity,
	}
	if err := s.countUsage(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func translateOpenError(dir string, err error) error {
	switch {
	case errors.Is(err, storage.ErrLocked), errors.Is(err, syscall.EWOULDBLOCK):
		return fmt.Errorf("%w: %s", pool.ErrInUse, dir)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%w: %s", pool.ErrExist, dir)
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s", pool.ErrNotExist, dir)
	case lerrors.IsCorrupted(err):
		return fmt.Errorf("%w: %v", pool.ErrCorruption, err)
	}
	return fmt.Errorf("lsm: open: %w", err)
}

func (s *Store) countUsage() error {
	it := s.db.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		s.usage.Put(it.Key(), it.Value(), nil, false)
	}
	return it.Error()
}

// Capabilities implements flavor.Store.
func (s *Store) Capabilities() flavor.Capabilities {
	return flavor.Capabilities{Sorted: true, Iterators: true, BoundedRanges: true, Persistent: true}
}

// Get implements flavor.Store.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, flavor.ErrClosed
	}
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

type pending struct {
	value  []byte
	exists bool
}

// Write implements flavor.Store.
func (s *Store) Write(b *batch.WriteBatch) error {
	if s.closed.Load() {
		return flavor.ErrClosed
	}
	ops, err := flavor.Ops(b)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Usage deltas are computed against the batch's own earlier records.
	var delta flavor.Counter
	staged := make(map[string]pending, len(ops))
	lookup := func(key []byte) ([]byte, bool, error) {
		if p, ok := staged[string(key)]; ok {
			return p.value, p.exists, nil
		}
		return s.Get(key)
	}

	lb := new(leveldb.Batch)
	for _, op := range ops {
		old, existed, err := lookup(op.Key)
		if err != nil {
			return err
		}
		if op.Delete {
			lb.Delete(op.Key)
			if existed {
				delta.Delete(op.Key, old)
			}
			staged[string(op.Key)] = pending{}
			continue
		}
		lb.Put(op.Key, op.Value)
		delta.Put(op.Key, op.Value, old, existed)
		staged[string(op.Key)] = pending{value: op.Value, exists: true}
	}
	if err := s.db.Write(lb, s.wo); err != nil {
		return err
	}
	s.usage.Add(delta.Usage())
	return nil
}

// Snapshot implements flavor.Store.
func (s *Store) Snapshot() (flavor.Snapshot, error) {
	if s.closed.Load() {
		return nil, flavor.ErrClosed
	}
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &snapshot{snap: snap}, nil
}

// Usage implements flavor.Store.
func (s *Store) Usage() flavor.Usage { return s.usage.Usage() }

// Defrag compacts the whole key space.
func (s *Store) Defrag(startPercent, amountPercent int) error {
	if s.closed.Load() {
		return flavor.ErrClosed
	}
	return s.db.CompactRange(util.Range{})
}

// Stats implements flavor.Store.
func (s *Store) Stats() flavor.Stats {
	st := flavor.Stats{Usage: s.usage.Usage(), Capacity: s.capacity}
	if !s.closed.Load() {
		if detail, err := s.db.GetProperty("leveldb.stats"); err == nil {
			st.Detail = detail
		}
	}
	return st
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.db.Close()
	if lerr := s.lock.Close(); err == nil && lerr != nil {
		err = fmt.Errorf("lsm: unlock: %w", lerr)
	}
	return err
}

type snapshot struct {
	snap *leveldb.Snapshot
}

func (sn *snapshot) Get(key []byte) ([]byte, bool, error) {
	v, err := sn.snap.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (sn *snapshot) Scan(r flavor.Range, fn func(key, value []byte) error) error {
	if r.Empty() {
		return nil
	}
	var slice *util.Range
	if r.Bounded() {
		slice = &util.Range{Start: r.Lower, Limit: r.Upper}
	}
	it := sn.snap.NewIterator(slice, nil)
	defer it.Release()
	for it.Next() {
		if r.HasLower && bytes.Equal(it.Key(), r.Lower) {
			continue
		}
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (sn *snapshot) NewCursor() (flavor.Cursor, error) {
	return &cursor{it: sn.snap.NewIterator(nil, nil)}, nil
}

func (sn *snapshot) Release() { sn.snap.Release() }

// cursor adapts a leveldb iterator. leveldb seeks are >=; the other seek
// directions step from there.
type cursor struct {
	it iterator.Iterator
}

func (c *cursor) Valid() bool   { return c.it.Valid() }
func (c *cursor) Key() []byte   { return c.it.Key() }
func (c *cursor) Value() []byte { return c.it.Value() }
func (c *cursor) First()        { c.it.First() }
func (c *cursor) Last()         { c.it.Last() }
func (c *cursor) Next()         { c.it.Next() }
func (c *cursor) Prev()         { c.it.Prev() }

func (c *cursor) SeekGE(target []byte) { c.it.Seek(target) }

func (c *cursor) SeekGT(target []byte) {
	if c.it.Seek(target) && bytes.Equal(c.it.Key(), target) {
		c.it.Next()
	}
}

func (c *cursor) SeekLE(target []byte) {
	if !c.it.Seek(target) {
		c.it.Last()
		return
	}
	if !bytes.Equal(c.it.Key(), target) {
		c.it.Prev()
	}
}

func (c *cursor) SeekLT(target []byte) {
	if c.it.Seek(target) {
		c.it.Prev()
		return
	}
	c.it.Last()
}

func (c *cursor) Err() error { return c.it.Error() }

func (c *cursor) Close() error {
	c.it.Release()
	return c.it.Error()
}
