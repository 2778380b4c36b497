package db

import (
	"bytes"

	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/status"
)

// position is where an iterator stands.
type position uint8

const (
	// unset: never positioned, or the last exact seek missed.
	unset position = iota
	positioned
	// beforeBegin: a backward move ran off the first record. Next resumes
	// at the first record.
	beforeBegin
	// pastEnd: a forward move ran off the last record. Prev resumes at the
	// last record.
	pastEnd
	// removed: the record under a write iterator was removed. Next and Prev
	// step from the removed key.
	removed
)

func (p position) String() string {
	switch p {
	case unset:
		return "unset"
	case positioned:
		return "positioned"
	case beforeBegin:
		return "before-begin"
	case pastEnd:
		return "past-end"
	case removed:
		return "removed"
	}
	return "invalid"
}

// cursor is the positioning state machine shared by both iterator kinds.
// Seek and step operations return nil or NOT_FOUND; any other error comes
// from the store.
type cursor struct {
	e      *Engine
	c      flavor.Cursor
	pos    position
	gap    []byte // key of the removed record, when pos == removed
	closed bool
}

func (it *cursor) live() error {
	if it.closed {
		return status.New(status.InvalidArgument, "iterator closed")
	}
	return it.e.check()
}

// settle records the outcome of a cursor move. miss is the state taken
// when the move found nothing.
func (it *cursor) settle(miss position) error {
	if err := it.c.Err(); err != nil {
		it.pos = unset
		return toStatus(err, "iterator")
	}
	if it.c.Valid() {
		it.pos = positioned
		return nil
	}
	it.pos = miss
	return status.ErrNotFound
}

// Seek positions at key. A miss leaves the iterator unset.
func (it *cursor) Seek(key []byte) error {
	if err := it.live(); err != nil {
		return err
	}
	it.c.SeekGE(key)
	if err := it.settle(unset); err != nil {
		return err
	}
	if !bytes.Equal(it.c.Key(), key) {
		it.pos = unset
		return status.ErrNotFound
	}
	return nil
}

// SeekLower positions at the greatest key < key.
func (it *cursor) SeekLower(key []byte) error {
	if err := it.live(); err != nil {
		return err
	}
	it.c.SeekLT(key)
	return it.settle(beforeBegin)
}

// SeekLowerEq positions at the greatest key <= key.
func (it *cursor) SeekLowerEq(key []byte) error {
	if err := it.live(); err != nil {
		return err
	}
	it.c.SeekLE(key)
	return it.settle(beforeBegin)
}

// SeekHigher positions at the smallest key > key.
func (it *cursor) SeekHigher(key []byte) error {
	if err := it.live(); err != nil {
		return err
	}
	it.c.SeekGT(key)
	return it.settle(pastEnd)
}

// SeekHigherEq positions at the smallest key >= key.
func (it *cursor) SeekHigherEq(key []byte) error {
	if err := it.live(); err != nil {
		return err
	}
	it.c.SeekGE(key)
	return it.settle(pastEnd)
}

// SeekToFirst positions at the first record.
func (it *cursor) SeekToFirst() error {
	if err := it.live(); err != nil {
		return err
	}
	it.c.First()
	return it.settle(unset)
}

// SeekToLast positions at the last record.
func (it *cursor) SeekToLast() error {
	if err := it.live(); err != nil {
		return err
	}
	it.c.Last()
	return it.settle(unset)
}

// Next steps forward. From before-begin it moves to the first record.
func (it *cursor) Next() error {
	if err := it.live(); err != nil {
		return err
	}
	switch it.pos {
	case positioned:
		it.c.Next()
	case beforeBegin:
		it.c.First()
	case removed:
		it.c.SeekGT(it.gap)
	default:
		return status.ErrNotFound
	}
	return it.settle(pastEnd)
}

// Prev steps backward. From past-end it moves to the last record.
func (it *cursor) Prev() error {
	if err := it.live(); err != nil {
		return err
	}
	switch it.pos {
	case positioned:
		it.c.Prev()
	case pastEnd:
		it.c.Last()
	case removed:
		it.c.SeekLT(it.gap)
	default:
		return status.ErrNotFound
	}
	return it.settle(beforeBegin)
}

// IsNext reports whether Next would find a record. It does not move the
// iterator.
func (it *cursor) IsNext() (bool, error) {
	if err := it.live(); err != nil {
		return false, err
	}
	var ok bool
	switch it.pos {
	case positioned:
		key := flavor.Clone(it.c.Key())
		it.c.Next()
		ok = it.c.Valid()
		it.c.SeekGE(key)
	case beforeBegin:
		it.c.First()
		ok = it.c.Valid()
	case removed:
		it.c.SeekGT(it.gap)
		ok = it.c.Valid()
	}
	if err := it.c.Err(); err != nil {
		return false, toStatus(err, "iterator")
	}
	return ok, nil
}

// Key returns the current key. The slice is valid until the iterator
// moves and must not be modified.
func (it *cursor) Key() ([]byte, error) {
	if err := it.live(); err != nil {
		return nil, err
	}
	if it.pos != positioned {
		return nil, status.ErrNotFound
	}
	return it.c.Key(), nil
}

// Value returns the current value, with the lifetime of Key.
func (it *cursor) Value() ([]byte, error) {
	if err := it.live(); err != nil {
		return nil, err
	}
	if it.pos != positioned {
		return nil, status.ErrNotFound
	}
	return it.c.Value(), nil
}

// ReadRange returns n bytes of the current value starting at pos. n is
// clipped to the end of the value.
func (it *cursor) ReadRange(pos, n int) ([]byte, error) {
	v, err := it.Value()
	if err != nil {
		return nil, err
	}
	return window(v, pos, n)
}

func window(v []byte, pos, n int) ([]byte, error) {
	if pos < 0 || n < 0 || pos > len(v) {
		return nil, status.Errorf(status.InvalidArgument, "range [%d, +%d) outside value of %d bytes", pos, n, len(v))
	}
	end := len(v)
	if n < end-pos {
		end = pos + n
	}
	return v[pos:end:end], nil
}

// restore re-establishes the position on a new cursor over the same keys.
// A positioned iterator whose key is gone becomes unset.
func (it *cursor) restore(key []byte) {
	if it.pos != positioned {
		return
	}
	it.c.SeekGE(key)
	if !it.c.Valid() || !bytes.Equal(it.c.Key(), key) {
		it.pos = unset
	}
}
