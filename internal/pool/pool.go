// Package pool owns a pool directory: the single-owner lock, the POOL
// metadata file, the write-ahead log and the checkpoints a flavor's index is
// rebuilt from.
//
// Every write is logged before it reaches the index:
//
//	batch -> WAL append -> fsync (durability "sync") -> Index.Apply
//
// When the live WAL grows past the size limit the index is dumped to a new
// checkpoint and older logs and checkpoints are retired. Recovery loads the
// newest checkpoint and replays the logs written after it.
package pool

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/aalhour/poolkv/internal/batch"
	"github.com/aalhour/poolkv/internal/compression"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/internal/testutil"
	"github.com/aalhour/poolkv/internal/vfs"
	"github.com/aalhour/poolkv/internal/wal"
)

// DefaultWALSizeLimit is the WAL size that triggers a checkpoint.
const DefaultWALSizeLimit = 4 << 20

var (
	// ErrInUse is returned when another owner holds the pool lock.
	ErrInUse = errors.New("pool: pool in use")

	// ErrNotExist is returned when the pool is absent and creation was not
	// requested.
	ErrNotExist = errors.New("pool: pool does not exist")

	// ErrExist is returned when creation was requested exclusively and the
	// pool already exists.
	ErrExist = errors.New("pool: pool already exists")

	// ErrFlavorMismatch is returned when a pool is reopened under another
	// flavor.
	ErrFlavorMismatch = errors.New("pool: pool was created by another flavor")

	// ErrCorruption is returned for damaged pool files.
	ErrCorruption = errors.New("pool: corruption")

	// ErrClosed is returned by operations on a closed pool.
	ErrClosed = errors.New("pool: closed")
)

// Index is the in-memory structure a pool persists.
type Index interface {
	// Load receives one checkpoint record during recovery, before any
	// replay. Key and value alias a read buffer.
	Load(key, value []byte) error

	// Apply applies a logged batch. Record i carries b.Sequence()+i.
	Apply(b *batch.WriteBatch) error

	// Dump passes every live record to fn in any order. The pool calls it
	// with writes excluded.
	Dump(fn func(key, value []byte) error) error
}

// Options configures a pool.
type Options struct {
	FS     vfs.FS
	Dir    string
	Flavor string

	// Capacity is recorded in the metadata. Zero keeps the stored value.
	Capacity int64

	CreateIfMissing bool
	ErrorIfExists   bool

	// Sync fsyncs the WAL after every write.
	Sync bool

	Compression    compression.Type
	WALSizeLimit   int64
	ParanoidChecks bool

	Logger logging.Logger
}

// Stats describes the pool's persistent state.
type Stats struct {
	LastSequence       uint64
	CheckpointSequence uint64
	LogNumber          uint64
	WALBytes           int64
	CheckpointsWritten int
	Capacity           int64
	RecoveredRecords   uint64
}

// Pool is an open pool directory.
type Pool struct {
	opts   Options
	fs     vfs.FS
	logger logging.Logger
	lock   io.Closer
	index  Index

	mu            sync.Mutex
	logFile       vfs.WritableFile
	log           *wal.Writer
	logNumber     uint64
	lastSeq       uint64
	checkpointSeq uint64
	walBytes      int64
	checkpoints   int
	recovered     uint64
	capacity      int64
	bgErr         error
	closed        bool
}

// Open locks, creates or recovers the pool in opts.Dir and rebuilds index
// from it.
func Open(opts Options, index Index) (*Pool, error) {
	if opts.Dir == "" {
		return nil, errors.New("pool: empty directory")
	}
	if opts.FS == nil {
		opts.FS = vfs.Default()
	}
	if opts.WALSizeLimit <= 0 {
		opts.WALSizeLimit = DefaultWALSizeLimit
	}
	p := &Pool{
		opts:   opts,
		fs:     opts.FS,
		logger: logging.OrDefault(opts.Logger),
		index:  index,
	}

	mustExist := !opts.CreateIfMissing && !opts.ErrorIfExists
	lock, exists, err := LockDir(p.fs, opts.Dir, lockFileName, mustExist)
	if err != nil {
		return nil, err
	}
	p.lock = lock
	if exists && opts.ErrorIfExists {
		_ = p.lock.Close()
		return nil, fmt.Errorf("%w: %s", ErrExist, opts.Dir)
	}

	if err := p.open(exists); err != nil {
		_ = p.lock.Close()
		return nil, err
	}
	return p, nil
}

// LockDir takes the exclusive owner lock name in dir and then reports
// whether dir already holds a pool. The directory is created unless
// mustExist is set, in which case a missing pool is ErrNotExist. A lock held
// elsewhere is ErrInUse.
func LockDir(fs vfs.FS, dir, name string, mustExist bool) (lock io.Closer, exists bool, err error) {
	if mustExist && !MetaExists(fs, dir) {
		return nil, false, fmt.Errorf("%w: %s", ErrNotExist, dir)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("pool: create directory: %w", err)
	}
	lock, err = fs.Lock(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, vfs.ErrLocked) {
			return nil, false, fmt.Errorf("%w: %s", ErrInUse, dir)
		}
		return nil, false, fmt.Errorf("pool: lock: %w", err)
	}
	// Read under the lock so a concurrent creator is seen.
	exists = MetaExists(fs, dir)
	if mustExist && !exists {
		_ = lock.Close()
		return nil, false, fmt.Errorf("%w: %s", ErrNotExist, dir)
	}
	return lock, exists, nil
}

func (p *Pool) open(exists bool) error {
	if exists {
		meta, err := ReadMeta(p.fs, p.opts.Dir)
		if err != nil {
			return err
		}
		if meta.Flavor != p.opts.Flavor {
			return fmt.Errorf("%w: created by %q, opened as %q", ErrFlavorMismatch, meta.Flavor, p.opts.Flavor)
		}
		p.capacity = meta.Capacity
		if p.opts.Capacity > 0 && p.opts.Capacity != meta.Capacity {
			meta.Capacity = p.opts.Capacity
			if err := WriteMeta(p.fs, p.opts.Dir, meta); err != nil {
				return err
			}
			p.capacity = meta.Capacity
		}
	} else {
		if err := p.removeLeftovers(); err != nil {
			return err
		}
		meta := NewMeta(p.opts.Flavor, p.opts.Capacity)
		if err := WriteMeta(p.fs, p.opts.Dir, meta); err != nil {
			return err
		}
		p.capacity = meta.Capacity
		p.logger.Infof(logging.NSPool+"created %s pool in %s", p.opts.Flavor, p.opts.Dir)
	}

	if err := p.recover(); err != nil {
		return err
	}
	if err := p.newLog(p.logNumber + 1); err != nil {
		return err
	}
	if p.walBytes > p.opts.WALSizeLimit {
		if err := p.checkpointLocked(); err != nil {
			p.logger.Warnf(logging.NSCheckpoint+"checkpoint after recovery failed: %v", err)
		}
	}
	return nil
}

// removeLeftovers deletes files of a pool whose creation never completed.
func (p *Pool) removeLeftovers() error {
	pf, err := listPoolFiles(p.fs, p.opts.Dir)
	if err != nil {
		return err
	}
	var names []string
	for _, n := range pf.logs {
		names = append(names, logFileName(n))
	}
	for _, s := range pf.checkpoints {
		names = append(names, checkpointFileName(s))
	}
	names = append(names, pf.temps...)
	for _, name := range names {
		p.logger.Warnf(logging.NSPool+"removing leftover %s", name)
		if err := p.fs.Remove(p.path(name)); err != nil {
			return fmt.Errorf("pool: remove leftover %s: %w", name, err)
		}
	}
	return nil
}

func (p *Pool) newLog(number uint64) error {
	f, err := p.fs.Create(p.path(logFileName(number)))
	if err != nil {
		return fmt.Errorf("pool: create log: %w", err)
	}
	if err := syncDir(p.fs, p.opts.Dir); err != nil {
		_ = f.Close()
		return err
	}
	p.logFile = f
	p.log = wal.NewWriter(f, number)
	p.logNumber = number
	return nil
}

// Write logs b and applies it to the index. b's sequence is assigned here.
// After a log or index failure the pool refuses further writes.
func (p *Pool) Write(b *batch.WriteBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.bgErr != nil {
		return p.bgErr
	}
	if b.Count() == 0 {
		return nil
	}

	b.SetSequence(p.lastSeq + 1)
	n, err := p.log.AddRecord(b.Data())
	p.walBytes += int64(n)
	if err != nil {
		return p.fail(fmt.Errorf("pool: wal append: %w", err))
	}
	if p.opts.Sync {
		if err := p.log.Sync(); err != nil {
			return p.fail(fmt.Errorf("pool: wal sync: %w", err))
		}
	}

	testutil.MaybeKill(testutil.KPIndexApply0)
	if err := p.index.Apply(b); err != nil {
		return p.fail(fmt.Errorf("pool: apply: %w", err))
	}
	p.lastSeq = b.LastSequence()

	if p.walBytes > p.opts.WALSizeLimit {
		if err := p.checkpointLocked(); err != nil {
			p.logger.Warnf(logging.NSCheckpoint+"checkpoint at seq %d failed: %v", p.lastSeq, err)
		}
	}
	return nil
}

// fail makes err sticky: every later write and checkpoint returns it. The
// logger's fatal handler is told so the owner can stop accepting writes.
// REQUIRES: p.mu held.
func (p *Pool) fail(err error) error {
	p.bgErr = err
	p.logger.Fatalf(logging.NSPool+"%v; refusing further writes", err)
	return err
}

// Err returns the sticky error that stopped writes, or nil.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bgErr
}

// Exclusive runs fn with writes excluded.
func (p *Pool) Exclusive(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return fn()
}

// Checkpoint dumps the index to a new checkpoint and retires the logs and
// checkpoints it supersedes.
func (p *Pool) Checkpoint() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.bgErr != nil {
		return p.bgErr
	}
	return p.checkpointLocked()
}

// REQUIRES: p.mu held.
func (p *Pool) checkpointLocked() error {
	seq := p.lastSeq

	// Records after seq go to a fresh log. Without a live log the pool
	// can not take writes, so either failure is sticky.
	if err := p.closeLog(); err != nil {
		return p.fail(err)
	}
	if err := p.newLog(p.logNumber + 1); err != nil {
		return p.fail(err)
	}
	p.walBytes = 0

	size, records, err := writeCheckpoint(p.fs, p.opts.Dir, seq, p.opts.Compression, p.index.Dump)
	if err != nil {
		return fmt.Errorf("pool: checkpoint: %w", err)
	}
	p.checkpointSeq = seq
	p.checkpoints++
	p.logger.Infof(logging.NSCheckpoint+"seq %d: %d records, %d bytes", seq, records, size)

	testutil.MaybeKill(testutil.KPCheckpointRetire0)
	p.retire(seq)
	return nil
}

// retire removes checkpoints older than seq and logs older than the live
// one. Failures leave garbage that the next retire picks up.
func (p *Pool) retire(seq uint64) {
	pf, err := listPoolFiles(p.fs, p.opts.Dir)
	if err != nil {
		p.logger.Warnf(logging.NSCheckpoint+"list for retire: %v", err)
		return
	}
	for _, s := range pf.checkpoints {
		if s < seq {
			p.removeFile(checkpointFileName(s))
		}
	}
	for _, n := range pf.logs {
		if n < p.logNumber {
			p.removeFile(logFileName(n))
		}
	}
}

func (p *Pool) removeFile(name string) {
	if err := p.fs.Remove(p.path(name)); err != nil {
		p.logger.Warnf(logging.NSPool+"remove %s: %v", name, err)
		return
	}
	p.logger.Debugf(logging.NSPool+"removed %s", name)
}

func (p *Pool) closeLog() error {
	if p.logFile == nil {
		return nil
	}
	err := p.logFile.Sync()
	if cerr := p.logFile.Close(); err == nil {
		err = cerr
	}
	p.logFile, p.log = nil, nil
	if err != nil {
		return fmt.Errorf("pool: close log: %w", err)
	}
	return nil
}

// LastSequence returns the sequence of the last applied record.
func (p *Pool) LastSequence() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq
}

// Capacity returns the capacity stored in the pool metadata.
func (p *Pool) Capacity() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		LastSequence:       p.lastSeq,
		CheckpointSequence: p.checkpointSeq,
		LogNumber:          p.logNumber,
		WALBytes:           p.walBytes,
		CheckpointsWritten: p.checkpoints,
		Capacity:           p.capacity,
		RecoveredRecords:   p.recovered,
	}
}

// Close syncs the log and releases the pool lock. It is safe to call more
// than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	err := p.closeLog()
	if lerr := p.lock.Close(); err == nil && lerr != nil {
		err = fmt.Errorf("pool: unlock: %w", lerr)
	}
	return err
}
