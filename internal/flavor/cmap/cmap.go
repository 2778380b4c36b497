// Package cmap is the persistent hashed flavor. Records are spread over a
// power-of-two number of shards by the xxh3 hash of the key; each shard is
// a Go map behind its own lock. The pool makes writes durable.
//
// Hashing gives no key order, so cmap offers neither cursors nor bounded
// scans. A full scan sorts a snapshot first.
package cmap

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/aalhour/poolkv/internal/batch"
	"github.com/aalhour/poolkv/internal/checksum"
	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/internal/pool"
)

// Name is the registered flavor name.
const Name = "cmap"

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 16

type shard struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// Store is a pool-backed hash map.
type Store struct {
	pool   *pool.Pool
	logger logging.Logger
	shards []shard
	mask   uint64
	usage  flavor.Counter
	closed atomic.Bool
}

// Open opens or creates the pool in opts.Dir and recovers its records.
func Open(opts flavor.Options) (*Store, error) {
	n := opts.Shards
	if n <= 0 {
		n = DefaultShards
	}
	if n&(n-1) != 0 {
		return nil, fmt.Errorf("cmap: shard count %d is not a power of two", n)
	}
	s := &Store{
		logger: logging.OrDefault(opts.Logger),
		shards: make([]shard, n),
		mask:   uint64(n - 1),
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string][]byte)
	}

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
	return s, nil
}

func (s *Store) shardIndex(key []byte) int {
	return int(checksum.XXH3(key) & s.mask)
}

// Capabilities implements flavor.Store.
func (s *Store) Capabilities() flavor.Capabilities {
	return flavor.Capabilities{Persistent: true}
}

// Get implements flavor.Store.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, flavor.ErrClosed
	}
	sh := &s.shards[s.shardIndex(key)]
	sh.mu.RLock()
	v, ok := sh.m[string(key)]
	sh.mu.RUnlock()
	return v, ok, nil
}

// Write implements flavor.Store.
func (s *Store) Write(b *batch.WriteBatch) error {
	if s.closed.Load() {
		return flavor.ErrClosed
	}
	return s.pool.Write(b)
}

// Snapshot copies every record under all shard locks and sorts the copy.
func (s *Store) Snapshot() (flavor.Snapshot, error) {
	if s.closed.Load() {
		return nil, flavor.ErrClosed
	}
	s.lockAll(false)
	recs := make([]record, 0, s.usage.Usage().Records)
	for i := range s.shards {
		for k, v := range s.shards[i].m {
			recs = append(recs, record{key: []byte(k), value: v})
		}
	}
	s.unlockAll(false)

	slices.SortFunc(recs, func(a, b record) int { return bytes.Compare(a.key, b.key) })
	return &snapshot{recs: recs}, nil
}

func (s *Store) lockAll(write bool) {
	for i := range s.shards {
		if write {
			s.shards[i].mu.Lock()
		} else {
			s.shards[i].mu.RLock()
		}
	}
}

func (s *Store) unlockAll(write bool) {
	for i := range s.shards {
		if write {
			s.shards[i].mu.Unlock()
		} else {
			s.shards[i].mu.RUnlock()
		}
	}
}

// Usage implements flavor.Store.
func (s *Store) Usage() flavor.Usage { return s.usage.Usage() }

// Defrag rehashes the selected shards into right-sized maps, then
// checkpoints so the WAL can be retired. startPercent and amountPercent
// select a contiguous run of shards.
func (s *Store) Defrag(startPercent, amountPercent int) error {
	if s.closed.Load() {
		return flavor.ErrClosed
	}
	n := len(s.shards)
	first := n * startPercent / 100
	last := min(n, first+(n*amountPercent+99)/100)

	err := s.pool.Exclusive(func() error {
		for i := first; i < last; i++ {
			sh := &s.shards[i]
			sh.mu.Lock()
			fresh := make(map[string][]byte, len(sh.m))
			for k, v := range sh.m {
				fresh[k] = v
			}
			sh.m = fresh
			sh.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Infof(logging.NSDB+"cmap: rehashed shards [%d, %d) of %d", first, last, n)
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
		Detail:             fmt.Sprintf("shards=%d", len(s.shards)),
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

func (x *index) put(key, value []byte) {
	s := (*Store)(x)
	sh := &s.shards[s.shardIndex(key)]
	old, existed := sh.m[string(key)]
	v := flavor.Clone(value)
	sh.m[string(key)] = v
	s.usage.Put(key, v, old, existed)
}

func (x *index) del(key []byte) {
	s := (*Store)(x)
	sh := &s.shards[s.shardIndex(key)]
	if old, ok := sh.m[string(key)]; ok {
		delete(sh.m, string(key))
		s.usage.Delete(key, old)
	}
}

func (x *index) Load(key, value []byte) error {
	s := (*Store)(x)
	s.lockAll(true)
	defer s.unlockAll(true)
	x.put(key, value)
	return nil
}

// Apply holds every shard lock so a snapshot sees the whole batch or none
// of it.
func (x *index) Apply(b *batch.WriteBatch) error {
	s := (*Store)(x)
	ops, err := flavor.Ops(b)
	if err != nil {
		return err
	}
	s.lockAll(true)
	defer s.unlockAll(true)
	for _, op := range ops {
		if op.Delete {
			x.del(op.Key)
		} else {
			x.put(op.Key, op.Value)
		}
	}
	return nil
}

func (x *index) Dump(fn func(key, value []byte) error) error {
	s := (*Store)(x)
	s.lockAll(false)
	defer s.unlockAll(false)
	for i := range s.shards {
		for k, v := range s.shards[i].m {
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
	}
	return nil
}

type record struct {
	key, value []byte
}

type snapshot struct {
	recs []record
}

func (sn *snapshot) Get(key []byte) ([]byte, bool, error) {
	i, ok := slices.BinarySearchFunc(sn.recs, key, func(r record, k []byte) int {
		return bytes.Compare(r.key, k)
	})
	if !ok {
		return nil, false, nil
	}
	return sn.recs[i].value, true, nil
}

// Scan supports only the unbounded range.
func (sn *snapshot) Scan(r flavor.Range, fn func(key, value []byte) error) error {
	if r.Bounded() {
		return flavor.ErrNotSupported
	}
	for _, rec := range sn.recs {
		if err := fn(rec.key, rec.value); err != nil {
			return err
		}
	}
	return nil
}

func (sn *snapshot) NewCursor() (flavor.Cursor, error) {
	return nil, flavor.ErrNotSupported
}

func (sn *snapshot) Release() {}
