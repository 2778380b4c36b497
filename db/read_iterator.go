package db

import (
	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/status"
)

// ReadIterator is a positional cursor over a snapshot taken when it was
// created. Writes made afterwards, including write iterator commits, are
// not observed until Refresh.
//
// A ReadIterator is not safe for concurrent use. Any number may be open
// at once, alongside one WriteIterator.
type ReadIterator struct {
	cursor
	sn flavor.Snapshot
}

// NewReadIterator opens a read iterator. It fails with NOT_SUPPORTED on
// unordered engines.
func (e *Engine) NewReadIterator() (*ReadIterator, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if !e.caps.Iterators {
		return nil, status.Errorf(status.NotSupported, "engine %q has no iterators", e.name)
	}
	sn, c, err := e.openCursor()
	if err != nil {
		return nil, err
	}
	return &ReadIterator{cursor: cursor{e: e, c: c}, sn: sn}, nil
}

func (e *Engine) openCursor() (flavor.Snapshot, flavor.Cursor, error) {
	sn, err := e.store.Snapshot()
	if err != nil {
		return nil, nil, toStatus(err, "snapshot")
	}
	c, err := sn.NewCursor()
	if err != nil {
		sn.Release()
		return nil, nil, toStatus(err, "cursor")
	}
	return sn, c, nil
}

// Refresh moves the iterator to a new snapshot of the engine. A positioned
// iterator stays on its key, or becomes unset if the key was removed.
func (it *ReadIterator) Refresh() error {
	if err := it.live(); err != nil {
		return err
	}
	sn, c, err := it.e.openCursor()
	if err != nil {
		return err
	}
	var key []byte
	if it.pos == positioned {
		key = flavor.Clone(it.c.Key())
	}
	it.release()
	it.sn, it.c = sn, c
	it.restore(key)
	return nil
}

func (it *ReadIterator) release() {
	if err := it.c.Close(); err != nil {
		it.e.logger.Warnf(logging.NSIter+"close cursor: %v", err)
	}
	it.sn.Release()
}

// Close releases the snapshot. Later calls are no-ops.
func (it *ReadIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.release()
	return nil
}
