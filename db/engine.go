package db

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aalhour/poolkv/config"
	"github.com/aalhour/poolkv/internal/batch"
	"github.com/aalhour/poolkv/internal/compression"
	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/internal/pool"
	"github.com/aalhour/poolkv/status"
)

// Engine is an open key-value store. All methods are safe for concurrent
// use. Writes are serialized; reads never wait for them.
type Engine struct {
	name     string
	store    flavor.Store
	caps     flavor.Capabilities
	logger   logging.Logger
	capacity int64

	// mu serializes Put, Remove and write iterator commits, so the capacity
	// check and the write it guards see the same state.
	mu      sync.Mutex
	writer  atomic.Bool
	closed  atomic.Bool
	batches *batch.WriteBatchPool

	// fatal is set once the pool reports an unrecoverable write failure.
	fatal atomic.Pointer[error]
}

// Stats describes an open engine.
type Stats struct {
	Engine             string
	Records            int64
	UsedBytes          int64
	Capacity           int64
	WALBytes           int64
	LastSequence       uint64
	CheckpointSequence uint64
	Detail             string
}

// Open opens the named engine with the options in cfg. Open takes
// ownership of cfg: whatever the outcome, cfg can not be used again. A nil
// cfg selects every default.
func Open(name string, cfg *config.Config, opts *Options) (*Engine, error) {
	if cfg == nil {
		cfg = config.New()
	}
	own, err := cfg.Take()
	if err != nil {
		return nil, err
	}
	info, ok := flavors[name]
	if !ok {
		return nil, status.Errorf(status.WrongEngineName, "unknown engine %q", name)
	}
	s, err := parseSettings(own, info, opts)
	if err != nil {
		return nil, err
	}

	store, err := info.open(s.flavor)
	if err != nil {
		s.logger.Errorf(logging.NSDB+"open %s failed: %v", name, err)
		return nil, toStatus(err, "open "+name)
	}
	e := &Engine{
		name:     name,
		store:    store,
		caps:     store.Capabilities(),
		logger:   s.logger,
		capacity: s.flavor.Capacity,
		batches:  batch.NewWriteBatchPool(),
	}
	if c := store.Stats().Capacity; c > 0 {
		e.capacity = c
	}
	if dl, ok := s.logger.(*logging.DefaultLogger); ok {
		dl.SetFatalHandler(func(msg string) {
			err := status.Wrap(status.UnknownError, fmt.Errorf("%w: %s", logging.ErrFatal, msg), "engine is read-only")
			e.fatal.CompareAndSwap(nil, &err)
		})
	}
	u := store.Usage()
	e.logger.Infof(logging.NSDB+"opened %s (%s): %d records, %d bytes", name, s, u.Records, u.Bytes)
	return e, nil
}

// OpenResult is Open returning a Result.
func OpenResult(name string, cfg *config.Config, opts *Options) status.Result[*Engine] {
	e, err := Open(name, cfg, opts)
	return status.From(e, err)
}

// Name returns the engine name passed to Open.
func (e *Engine) Name() string { return e.name }

// Capabilities describes what an engine's flavor supports.
type Capabilities = flavor.Capabilities

// Capabilities reports what the underlying flavor supports.
func (e *Engine) Capabilities() Capabilities { return e.caps }

var errStopped = status.New(status.InvalidArgument, "engine stopped")

// writable returns the error that made the engine read-only, if any.
func (e *Engine) writable() error {
	if p := e.fatal.Load(); p != nil {
		return *p
	}
	return nil
}

// ReadOnly reports whether a fatal write failure has stopped writes. Reads
// keep working.
func (e *Engine) ReadOnly() bool { return e.fatal.Load() != nil }

func (e *Engine) check() error {
	if e.closed.Load() {
		return errStopped
	}
	return nil
}

// toStatus converts an internal error into a *status.Error.
func toStatus(err error, op string) error {
	if err == nil {
		return nil
	}
	var se *status.Error
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, flavor.ErrNotSupported):
		return status.Wrap(status.NotSupported, err, op)
	case errors.Is(err, flavor.ErrClosed), errors.Is(err, pool.ErrClosed):
		return status.Wrap(status.InvalidArgument, err, op)
	case errors.Is(err, pool.ErrInUse),
		errors.Is(err, pool.ErrNotExist),
		errors.Is(err, pool.ErrExist),
		errors.Is(err, pool.ErrFlavorMismatch),
		errors.Is(err, compression.ErrUnsupported):
		return status.Wrap(status.InvalidArgument, err, op)
	}
	return status.Wrap(status.UnknownError, err, op)
}

func recordSize(key, value []byte) int64 {
	return int64(len(key)+len(value)) + RecordOverhead
}

func (e *Engine) used() int64 {
	u := e.store.Usage()
	return u.Bytes + u.Records*RecordOverhead
}

// reserve fails with OUT_OF_MEMORY if growing by delta would exceed the
// pool size. REQUIRES: e.mu held.
func (e *Engine) reserve(delta int64) error {
	if e.capacity <= 0 || delta <= 0 {
		return nil
	}
	if used := e.used(); used+delta > e.capacity {
		return status.Errorf(status.OutOfMemory, "pool full: %d of %d bytes used, write needs %d", used, e.capacity, delta)
	}
	return nil
}

// Put sets key to value. The write is durable when Put returns, unless the
// engine was opened with durability "none".
func (e *Engine) Put(key, value []byte) error {
	if err := e.check(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}
	if e.writer.Load() {
		return status.New(status.TransactionScopeError, "put while a write iterator is open")
	}

	old, existed, err := e.store.Get(key)
	if err != nil {
		return toStatus(err, "put")
	}
	delta := recordSize(key, value)
	if existed {
		delta = int64(len(value) - len(old))
	}
	if err := e.reserve(delta); err != nil {
		return err
	}

	wb := e.batches.Get()
	defer e.batches.Put(wb)
	wb.Put(key, value)
	return toStatus(e.store.Write(wb), "put")
}

// Remove deletes key. It returns NOT_FOUND if key is absent.
func (e *Engine) Remove(key []byte) error {
	if err := e.check(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}
	if e.writer.Load() {
		return status.New(status.TransactionScopeError, "remove while a write iterator is open")
	}

	_, existed, err := e.store.Get(key)
	if err != nil {
		return toStatus(err, "remove")
	}
	if !existed {
		return status.ErrNotFound
	}
	wb := e.batches.Get()
	defer e.batches.Put(wb)
	wb.Delete(key)
	return toStatus(e.store.Write(wb), "remove")
}

// Get calls fn with the value of key. The slice is valid only during fn
// and must not be modified. Get returns NOT_FOUND if key is absent.
func (e *Engine) Get(key []byte, fn func(value []byte)) error {
	if err := e.check(); err != nil {
		return err
	}
	v, ok, err := e.store.Get(key)
	if err != nil {
		return toStatus(err, "get")
	}
	if !ok {
		return status.ErrNotFound
	}
	if fn != nil {
		fn(v)
	}
	return nil
}

// GetCopy returns a copy of the value of key.
func (e *Engine) GetCopy(key []byte) ([]byte, error) {
	var out []byte
	err := e.Get(key, func(v []byte) { out = flavor.Clone(v) })
	return out, err
}

// Exists returns nil if key is present and NOT_FOUND otherwise.
func (e *Engine) Exists(key []byte) error {
	return e.Get(key, nil)
}

// MultiGet looks up keys against one consistent view.
func (e *Engine) MultiGet(keys [][]byte) []status.Result[[]byte] {
	out := make([]status.Result[[]byte], len(keys))
	fail := func(err error) []status.Result[[]byte] {
		for i := range out {
			out[i] = status.Fail[[]byte](err)
		}
		return out
	}
	if err := e.check(); err != nil {
		return fail(err)
	}
	sn, err := e.store.Snapshot()
	if err != nil {
		return fail(toStatus(err, "multiget"))
	}
	defer sn.Release()
	for i, k := range keys {
		v, ok, err := sn.Get(k)
		switch {
		case err != nil:
			out[i] = status.Fail[[]byte](toStatus(err, "multiget"))
		case !ok:
			out[i] = status.Fail[[]byte](status.ErrNotFound)
		default:
			out[i] = status.Ok(flavor.Clone(v))
		}
	}
	return out
}

// Defrag compacts the slice of the flavor's structures selected by
// startPercent and amountPercent. Persistent flavors also checkpoint.
func (e *Engine) Defrag(startPercent, amountPercent int) error {
	if err := e.check(); err != nil {
		return err
	}
	if startPercent < 0 || amountPercent < 0 || startPercent+amountPercent > 100 {
		return status.Errorf(status.InvalidArgument, "defrag range [%d%%, +%d%%) out of bounds", startPercent, amountPercent)
	}
	if err := e.store.Defrag(startPercent, amountPercent); err != nil {
		e.logger.Errorf(logging.NSDB+"defrag failed: %v", err)
		return status.Wrap(status.DefragError, err, "defrag")
	}
	return nil
}

// Stats returns record and pool statistics.
func (e *Engine) Stats() (Stats, error) {
	if err := e.check(); err != nil {
		return Stats{}, err
	}
	fs := e.store.Stats()
	return Stats{
		Engine:             e.name,
		Records:            fs.Records,
		UsedBytes:          fs.Bytes + fs.Records*RecordOverhead,
		Capacity:           e.capacity,
		WALBytes:           fs.WALBytes,
		LastSequence:       fs.LastSequence,
		CheckpointSequence: fs.CheckpointSequence,
		Detail:             fs.Detail,
	}, nil
}

// Stopped reports whether Close has been called.
func (e *Engine) Stopped() bool { return e.closed.Load() }

// Close flushes and releases the pool. Later calls are no-ops. Iterators
// still open fail with INVALID_ARGUMENT afterwards.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Close(); err != nil {
		e.logger.Errorf(logging.NSDB+"close %s: %v", e.name, err)
		return toStatus(err, "close")
	}
	e.logger.Infof(logging.NSDB+"closed %s", e.name)
	return nil
}
