package db

import (
	"errors"
	"iter"

	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/status"
)

// Range selects keys. Bounds are exclusive.
type Range = flavor.Range

// All selects every key.
func All() Range { return flavor.All() }

// Above selects keys > k.
func Above(k []byte) Range { return flavor.Above(k) }

// Below selects keys < k.
func Below(k []byte) Range { return flavor.Below(k) }

// Between selects keys > lower and < upper. It is empty when lower >= upper.
func Between(lower, upper []byte) Range { return flavor.Between(lower, upper) }

// Visitor receives one record per call, in ascending key order. The slices
// are valid only during the call. Returning false stops the traversal,
// which then reports STOPPED_BY_CB.
type Visitor func(key, value []byte) bool

// KeyVisitor is a Visitor for keys-only traversals.
type KeyVisitor func(key []byte) bool

// Record is an owned key-value pair.
type Record struct {
	Key   []byte
	Value []byte
}

var errStop = errors.New("db: stopped by visitor")

func (e *Engine) scan(r Range, op string, fn func(key, value []byte) error) error {
	if err := e.check(); err != nil {
		return err
	}
	if r.Bounded() && !e.caps.BoundedRanges {
		return status.Errorf(status.NotSupported, "%s: engine %q has no ordered ranges", op, e.name)
	}
	if r.Empty() {
		return nil
	}
	sn, err := e.store.Snapshot()
	if err != nil {
		return toStatus(err, op)
	}
	defer sn.Release()
	return sn.Scan(r, fn)
}

func (e *Engine) visit(r Range, op string, fn Visitor) error {
	err := e.scan(r, op, func(key, value []byte) error {
		if !fn(key, value) {
			return errStop
		}
		return nil
	})
	if errors.Is(err, errStop) {
		return status.New(status.StoppedByCallback, op)
	}
	return toStatus(err, op)
}

func keysOnly(fn KeyVisitor) Visitor {
	return func(key, _ []byte) bool { return fn(key) }
}

// GetAll visits every record.
func (e *Engine) GetAll(fn Visitor) error { return e.visit(All(), "get_all", fn) }

// GetAbove visits records with keys > key.
func (e *Engine) GetAbove(key []byte, fn Visitor) error {
	return e.visit(Above(key), "get_above", fn)
}

// GetBelow visits records with keys < key.
func (e *Engine) GetBelow(key []byte, fn Visitor) error {
	return e.visit(Below(key), "get_below", fn)
}

// GetBetween visits records with lower < key < upper.
func (e *Engine) GetBetween(lower, upper []byte, fn Visitor) error {
	return e.visit(Between(lower, upper), "get_between", fn)
}

// GetKeys visits every key.
func (e *Engine) GetKeys(fn KeyVisitor) error {
	return e.visit(All(), "get_keys", keysOnly(fn))
}

// GetKeysAbove visits keys > key.
func (e *Engine) GetKeysAbove(key []byte, fn KeyVisitor) error {
	return e.visit(Above(key), "get_keys_above", keysOnly(fn))
}

// GetKeysBelow visits keys < key.
func (e *Engine) GetKeysBelow(key []byte, fn KeyVisitor) error {
	return e.visit(Below(key), "get_keys_below", keysOnly(fn))
}

// GetKeysBetween visits lower < key < upper.
func (e *Engine) GetKeysBetween(lower, upper []byte, fn KeyVisitor) error {
	return e.visit(Between(lower, upper), "get_keys_between", keysOnly(fn))
}

// Scan yields copies of the records in r. Breaking out of the loop stops
// the traversal; a failure is yielded once with a zero Record.
func (e *Engine) Scan(r Range) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		err := e.visit(r, "scan", func(key, value []byte) bool {
			return yield(Record{Key: flavor.Clone(key), Value: flavor.Clone(value)}, nil)
		})
		if err != nil && !errors.Is(err, status.ErrStoppedByCallback) {
			yield(Record{}, err)
		}
	}
}

func (e *Engine) count(r Range, op string) (int, error) {
	n := 0
	err := e.scan(r, op, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, toStatus(err, op)
}

// CountAll returns the number of records.
func (e *Engine) CountAll() (int, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	return int(e.store.Usage().Records), nil
}

// CountAbove returns the number of keys > key.
func (e *Engine) CountAbove(key []byte) (int, error) { return e.count(Above(key), "count_above") }

// CountBelow returns the number of keys < key.
func (e *Engine) CountBelow(key []byte) (int, error) { return e.count(Below(key), "count_below") }

// CountBetween returns the number of keys strictly between lower and upper.
func (e *Engine) CountBetween(lower, upper []byte) (int, error) {
	return e.count(Between(lower, upper), "count_between")
}
