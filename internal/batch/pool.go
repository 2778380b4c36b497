package batch

import (
	"sync"
	"sync/atomic"
)

// DefaultMaxBatchSize is the largest batch returned to a pool; bigger ones
// are left to the GC.
const DefaultMaxBatchSize = 4 << 20

// WriteBatchPool recycles batches on the single-record write path.
//
//	wb := pool.Get()
//	defer pool.Put(wb)
//	wb.Put(key, value)
type WriteBatchPool struct {
	pool sync.Pool

	gets      atomic.Uint64
	misses    atomic.Uint64
	puts      atomic.Uint64
	discarded atomic.Uint64
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Gets      uint64
	Hits      uint64
	Misses    uint64
	Puts      uint64
	Discarded uint64
}

// NewWriteBatchPool creates an empty pool.
func NewWriteBatchPool() *WriteBatchPool {
	p := &WriteBatchPool{}
	p.pool.New = func() any {
		p.misses.Add(1)
		return New()
	}
	return p
}

// Get returns a cleared batch.
func (p *WriteBatchPool) Get() *WriteBatch {
	p.gets.Add(1)
	wb := p.pool.Get().(*WriteBatch)
	wb.Clear()
	return wb
}

// Put returns wb to the pool. wb must not be used afterwards.
func (p *WriteBatchPool) Put(wb *WriteBatch) {
	if wb == nil {
		return
	}
	p.puts.Add(1)
	if cap(wb.data) > DefaultMaxBatchSize {
		p.discarded.Add(1)
		return
	}
	wb.Clear()
	p.pool.Put(wb)
}

// Stats returns the pool counters.
func (p *WriteBatchPool) Stats() PoolStats {
	gets, misses := p.gets.Load(), p.misses.Load()
	return PoolStats{
		Gets:      gets,
		Hits:      gets - min(gets, misses),
		Misses:    misses,
		Puts:      p.puts.Load(),
		Discarded: p.discarded.Load(),
	}
}

// HitRate returns the fraction of Gets served from the pool.
func (s PoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Gets)
}
