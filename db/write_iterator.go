package db

import (
	"bytes"

	"github.com/google/btree"

	"github.com/aalhour/poolkv/internal/batch"
	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/status"
)

// WriteIterator is a ReadIterator that can change the records it visits.
//
// Changes are staged privately and become visible to the engine only on
// Commit, as one atomic durable write. Reads through the iterator see its
// own staged changes. Abort, or Close without Commit, discards them.
//
// A transaction scope opens when the iterator is created and after Commit
// or Abort reopens with the next mutation. Commit and Abort close it.
//
// Only one WriteIterator may be open per engine. While it is open, Put and
// Remove on the engine fail with TRANSACTION_SCOPE_ERROR.
type WriteIterator struct {
	cursor
	sn     flavor.Snapshot
	view   *mergedView
	staged *btree.BTreeG[stagedRecord]
	dirty  bool
	scoped bool
}

type stagedRecord struct {
	key     []byte
	value   []byte
	deleted bool
}

func stagedLess(a, b stagedRecord) bool { return bytes.Compare(a.key, b.key) < 0 }

// NewWriteIterator opens the engine's write iterator. A second one fails
// with TRANSACTION_SCOPE_ERROR until the first is closed.
func (e *Engine) NewWriteIterator() (*WriteIterator, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if !e.caps.Iterators {
		return nil, status.Errorf(status.NotSupported, "engine %q has no iterators", e.name)
	}
	e.mu.Lock()
	if e.writer.Load() {
		e.mu.Unlock()
		return nil, status.New(status.TransactionScopeError, "a write iterator is already open")
	}
	e.writer.Store(true)
	e.mu.Unlock()

	w := &WriteIterator{
		cursor: cursor{e: e},
		staged: btree.NewG(8, stagedLess),
		scoped: true,
	}
	if err := w.attach(); err != nil {
		e.writer.Store(false)
		return nil, err
	}
	return w, nil
}

// attach points the iterator at a fresh snapshot. The new view starts with
// no error.
func (w *WriteIterator) attach() error {
	sn, base, err := w.e.openCursor()
	if err != nil {
		return err
	}
	w.sn = sn
	w.view = &mergedView{base: base, staged: w.staged}
	w.c = &mergedCursor{Cursor: flavor.NewSeekCursor(w.view), view: w.view}
	return nil
}

func (w *WriteIterator) release() {
	if err := w.view.base.Close(); err != nil {
		w.e.logger.Warnf(logging.NSIter+"close cursor: %v", err)
	}
	w.sn.Release()
}

func (w *WriteIterator) current() (key, value []byte, err error) {
	if err := w.live(); err != nil {
		return nil, nil, err
	}
	if w.pos != positioned {
		return nil, nil, status.ErrNotFound
	}
	return flavor.Clone(w.c.Key()), w.c.Value(), nil
}

// WriteRange returns a writable window of n bytes of the current value
// starting at pos, clipped to the end of the value. Bytes written into it
// are staged. The window stays valid until the next SetValue, Commit or
// Abort; the value's length never changes through it.
func (w *WriteIterator) WriteRange(pos, n int) ([]byte, error) {
	key, value, err := w.current()
	if err != nil {
		return nil, err
	}
	if _, err := window(value, pos, n); err != nil {
		return nil, err
	}
	r, ok := w.staged.Get(stagedRecord{key: key})
	if !ok {
		r = stagedRecord{key: key, value: flavor.Clone(value)}
		w.staged.ReplaceOrInsert(r)
		w.c.SeekGE(key)
	}
	w.dirty, w.scoped = true, true
	return window(r.value, pos, n)
}

// SetValue stages a new value for the current record. The value may be
// longer or shorter than the old one.
func (w *WriteIterator) SetValue(value []byte) error {
	key, _, err := w.current()
	if err != nil {
		return err
	}
	w.staged.ReplaceOrInsert(stagedRecord{key: key, value: flavor.Clone(value)})
	w.dirty, w.scoped = true, true
	w.c.SeekGE(key)
	return nil
}

// Remove stages removal of the current record. The iterator is left
// between the neighbours of the removed key: Next and Prev step to them.
func (w *WriteIterator) Remove() error {
	key, _, err := w.current()
	if err != nil {
		return err
	}
	w.staged.ReplaceOrInsert(stagedRecord{key: key, deleted: true})
	w.dirty, w.scoped = true, true
	w.pos = removed
	w.gap = key
	return nil
}

// Commit writes every staged change as one atomic, durable batch and moves
// the iterator to a snapshot that includes it. Commit outside a scope, for
// example twice in a row, fails with TRANSACTION_SCOPE_ERROR. An empty scope
// commits nothing and succeeds. On OUT_OF_MEMORY nothing is written and the
// changes stay staged.
func (w *WriteIterator) Commit() error {
	if err := w.live(); err != nil {
		return err
	}
	if !w.scoped {
		return status.New(status.TransactionScopeError, "commit outside a transaction scope")
	}
	if !w.dirty {
		w.scoped = false
		return nil
	}
	if err := w.e.apply(w.staged); err != nil {
		return err
	}
	w.e.logger.Debugf(logging.NSIter+"committed %d staged records", w.staged.Len())
	w.staged.Clear(false)
	w.dirty, w.scoped = false, false
	return w.reattach()
}

// apply writes staged changes under the capacity check.
func (e *Engine) apply(changes *btree.BTreeG[stagedRecord]) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}

	wb := batch.New()
	var delta int64
	var err error
	changes.Ascend(func(r stagedRecord) bool {
		old, existed, gerr := e.store.Get(r.key)
		if gerr != nil {
			err = toStatus(gerr, "commit")
			return false
		}
		switch {
		case r.deleted && existed:
			wb.Delete(r.key)
			delta -= recordSize(r.key, old)
		case r.deleted:
		case existed:
			wb.Put(r.key, r.value)
			delta += int64(len(r.value) - len(old))
		default:
			wb.Put(r.key, r.value)
			delta += recordSize(r.key, r.value)
		}
		return true
	})
	if err != nil {
		return err
	}
	if wb.Count() == 0 {
		return nil
	}
	if err := e.reserve(delta); err != nil {
		return err
	}
	return toStatus(e.store.Write(wb), "commit")
}

// reattach swaps in a new snapshot, keeping the position.
func (w *WriteIterator) reattach() error {
	var key []byte
	if w.pos == positioned {
		key = flavor.Clone(w.c.Key())
	}
	old, oldView := w.sn, w.view
	if err := w.attach(); err != nil {
		return err
	}
	if err := oldView.base.Close(); err != nil {
		w.e.logger.Warnf(logging.NSIter+"close cursor: %v", err)
	}
	old.Release()
	w.restore(key)
	return nil
}

// Abort discards staged changes. The position is kept; an iterator left
// on a removed record returns to that record. Abort closes the scope even
// when nothing was staged.
func (w *WriteIterator) Abort() error {
	if err := w.live(); err != nil {
		return err
	}
	w.discard()
	w.scoped = false
	return nil
}

func (w *WriteIterator) discard() {
	if !w.dirty {
		return
	}
	w.e.logger.Debugf(logging.NSIter+"discarding %d staged records", w.staged.Len())
	w.staged.Clear(false)
	w.dirty = false
	switch w.pos {
	case positioned:
		w.restore(flavor.Clone(w.c.Key()))
	case removed:
		w.pos = positioned
		w.restore(w.gap)
		w.gap = nil
	}
}

// Close discards uncommitted changes and releases the engine's write
// slot. Later calls are no-ops.
func (w *WriteIterator) Close() error {
	if w.closed {
		return nil
	}
	w.discard()
	w.closed = true
	w.release()
	w.e.writer.Store(false)
	return nil
}

// mergedView overlays staged changes on a snapshot cursor.
type mergedView struct {
	base   flavor.Cursor
	staged *btree.BTreeG[stagedRecord]
	err    error
}

type seekMode uint8

const (
	seekFirst seekMode = iota
	seekLast
	seekGE
	seekGT
	seekLE
	seekLT
)

func (m seekMode) forward() bool {
	return m == seekFirst || m == seekGE || m == seekGT
}

func (v *mergedView) fromBase(mode seekMode, target []byte) (key, value []byte, ok bool) {
	switch mode {
	case seekFirst:
		v.base.First()
	case seekLast:
		v.base.Last()
	case seekGE:
		v.base.SeekGE(target)
	case seekGT:
		v.base.SeekGT(target)
	case seekLE:
		v.base.SeekLE(target)
	case seekLT:
		v.base.SeekLT(target)
	}
	if err := v.base.Err(); err != nil {
		v.err = err
		return nil, nil, false
	}
	if !v.base.Valid() {
		return nil, nil, false
	}
	return flavor.Clone(v.base.Key()), flavor.Clone(v.base.Value()), true
}

func (v *mergedView) fromStaged(mode seekMode, target []byte) (stagedRecord, bool) {
	var out stagedRecord
	var found bool
	strict := mode == seekGT || mode == seekLT
	pick := func(r stagedRecord) bool {
		if strict && bytes.Equal(r.key, target) {
			return true
		}
		out, found = r, true
		return false
	}
	pivot := stagedRecord{key: target}
	switch mode {
	case seekFirst:
		v.staged.Ascend(pick)
	case seekLast:
		v.staged.Descend(pick)
	case seekGE, seekGT:
		v.staged.AscendGreaterOrEqual(pivot, pick)
	case seekLE, seekLT:
		v.staged.DescendLessOrEqual(pivot, pick)
	}
	return out, found
}

// seek returns the record the merged view holds at mode/target. A staged
// record shadows the snapshot record with the same key; staged removals
// are skipped.
func (v *mergedView) seek(mode seekMode, target []byte) (key, value []byte, ok bool) {
	v.err = nil
	forward := mode.forward()
	for {
		bk, bv, bok := v.fromBase(mode, target)
		if v.err != nil {
			return nil, nil, false
		}
		r, sok := v.fromStaged(mode, target)
		if !sok {
			return bk, bv, bok
		}
		if bok {
			c := bytes.Compare(bk, r.key)
			if (forward && c < 0) || (!forward && c > 0) {
				return bk, bv, true
			}
		}
		if !r.deleted {
			return r.key, r.value, true
		}
		target = r.key
		if forward {
			mode = seekGT
		} else {
			mode = seekLT
		}
	}
}

func (v *mergedView) First() ([]byte, []byte, bool)          { return v.seek(seekFirst, nil) }
func (v *mergedView) Last() ([]byte, []byte, bool)           { return v.seek(seekLast, nil) }
func (v *mergedView) SeekGE(t []byte) ([]byte, []byte, bool) { return v.seek(seekGE, t) }
func (v *mergedView) SeekGT(t []byte) ([]byte, []byte, bool) { return v.seek(seekGT, t) }
func (v *mergedView) SeekLE(t []byte) ([]byte, []byte, bool) { return v.seek(seekLE, t) }
func (v *mergedView) SeekLT(t []byte) ([]byte, []byte, bool) { return v.seek(seekLT, t) }

// mergedCursor reports errors from the snapshot cursor under the view.
type mergedCursor struct {
	flavor.Cursor
	view *mergedView
}

func (c *mergedCursor) Err() error { return c.view.err }
