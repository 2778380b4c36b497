package flavor

import (
	"sync/atomic"

	"github.com/aalhour/poolkv/internal/batch"
)

// Op is one decoded batch record. Key and Value alias the batch.
type Op struct {
	Delete bool
	Key    []byte
	Value  []byte
}

type opCollector struct {
	ops []Op
}

func (c *opCollector) Put(key, value []byte) error {
	c.ops = append(c.ops, Op{Key: key, Value: value})
	return nil
}

func (c *opCollector) Delete(key []byte) error {
	c.ops = append(c.ops, Op{Delete: true, Key: key})
	return nil
}

// Ops decodes a whole batch up front, so a malformed batch is rejected
// before any of it is applied.
func Ops(b *batch.WriteBatch) ([]Op, error) {
	c := &opCollector{ops: make([]Op, 0, b.Count())}
	if err := b.Iterate(c); err != nil {
		return nil, err
	}
	return c.ops, nil
}

// Counter tracks Usage as records come and go.
type Counter struct {
	records atomic.Int64
	bytes   atomic.Int64
}

// Put accounts for key being set to value, replacing old if existed.
func (c *Counter) Put(key, value, old []byte, existed bool) {
	if existed {
		c.bytes.Add(int64(len(value) - len(old)))
		return
	}
	c.records.Add(1)
	c.bytes.Add(int64(len(key) + len(value)))
}

// Delete accounts for the removal of key holding old.
func (c *Counter) Delete(key, old []byte) {
	c.records.Add(-1)
	c.bytes.Add(-int64(len(key) + len(old)))
}

// Reset zeroes the counter.
func (c *Counter) Reset() {
	c.records.Store(0)
	c.bytes.Store(0)
}

// Usage returns the current totals.
func (c *Counter) Usage() Usage {
	return Usage{Records: c.records.Load(), Bytes: c.bytes.Load()}
}

// Clone copies b.
func Clone(b []byte) []byte {
	return append(make([]byte, 0, len(b)), b...)
}

// Add folds u into the counter.
func (c *Counter) Add(u Usage) {
	c.records.Add(u.Records)
	c.bytes.Add(u.Bytes)
}
