package pool

import (
	"errors"
	"fmt"
	"io"

	"github.com/aalhour/poolkv/internal/batch"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/internal/wal"
)

// corruptionReporter remembers the first fragment the log reader skipped.
type corruptionReporter struct {
	err error
}

func (r *corruptionReporter) Corruption(bytes int, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%d bytes dropped: %w", bytes, err)
	}
}

// recover rebuilds the index from the newest checkpoint and the logs.
func (p *Pool) recover() error {
	pf, err := listPoolFiles(p.fs, p.opts.Dir)
	if err != nil {
		return fmt.Errorf("pool: list: %w", err)
	}
	for _, name := range pf.temps {
		p.removeFile(name)
	}

	if err := p.loadCheckpoint(pf.checkpoints); err != nil {
		return err
	}

	for i, number := range pf.logs {
		stop, err := p.replayLog(number)
		if err != nil {
			return err
		}
		if stop {
			// Later logs continue from a point that no longer exists.
			for _, later := range pf.logs[i+1:] {
				p.logger.Warnf(logging.NSRecovery+"dropping log %d after corruption", later)
				p.removeFile(logFileName(later))
			}
			break
		}
	}
	if len(pf.logs) > 0 {
		p.logNumber = pf.logs[len(pf.logs)-1]
	}
	if p.recovered > 0 {
		p.logger.Infof(logging.NSRecovery+"replayed %d records from %d logs, last sequence %d",
			p.recovered, len(pf.logs), p.lastSeq)
	}
	return nil
}

func (p *Pool) loadCheckpoint(seqs []uint64) error {
	for i := len(seqs) - 1; i >= 0; i-- {
		name := checkpointFileName(seqs[i])
		seq, records, err := readCheckpoint(p.fs, p.path(name), p.index.Load)
		if err == nil {
			p.lastSeq, p.checkpointSeq = seq, seq
			p.logger.Infof(logging.NSRecovery+"loaded %s (%d records)", name, records)
			return nil
		}
		if !errors.Is(err, ErrCorruption) || p.opts.ParanoidChecks {
			return err
		}
		p.logger.Warnf(logging.NSRecovery+"skipping damaged %s: %v", name, err)
	}
	return nil
}

// replayLog applies the records of one log above the checkpoint. It
// truncates a torn tail. stop reports that the log was cut at a damaged
// record and later logs must not be replayed.
func (p *Pool) replayLog(number uint64) (stop bool, err error) {
	name := logFileName(number)
	f, err := p.fs.Open(p.path(name))
	if err != nil {
		return false, fmt.Errorf("pool: open %s: %w", name, err)
	}
	reporter := &corruptionReporter{}
	reader := wal.NewReader(f, reporter, true)

	var (
		goodEnd int64
		damage  error
		torn    bool
	)
	for {
		goodEnd = reader.LastRecordEnd()
		record, rerr := reader.ReadRecord()
		if rerr == io.EOF {
			goodEnd = reader.LastRecordEnd()
			break
		}
		if errors.Is(rerr, wal.ErrUnexpectedEOF) {
			torn = true
			break
		}
		if rerr != nil {
			_ = f.Close()
			return false, fmt.Errorf("pool: read %s: %w", name, rerr)
		}
		if reporter.err != nil {
			damage = reporter.err
			break
		}

		wb, berr := batch.NewFromData(record)
		if berr != nil {
			damage = berr
			break
		}
		if wb.Sequence() <= p.lastSeq {
			continue
		}
		if wb.Sequence() != p.lastSeq+1 {
			p.logger.Warnf(logging.NSRecovery+"%s: sequence gap %d -> %d", name, p.lastSeq, wb.Sequence())
		}
		if aerr := p.index.Apply(wb); aerr != nil {
			damage = aerr
			break
		}
		p.lastSeq = wb.LastSequence()
		p.recovered += uint64(wb.Count())
	}
	if damage == nil && reporter.err != nil {
		damage = reporter.err
	}
	_ = f.Close()

	switch {
	case damage != nil:
		if p.opts.ParanoidChecks {
			return false, fmt.Errorf("%w: %s at offset %d: %v", ErrCorruption, name, goodEnd, damage)
		}
		p.logger.Warnf(logging.NSRecovery+"%s damaged at offset %d, truncating: %v", name, goodEnd, damage)
		stop = true
	case torn:
		p.logger.Warnf(logging.NSRecovery+"%s has a torn tail at offset %d, truncating", name, goodEnd)
	}

	if err := p.truncate(name, goodEnd); err != nil {
		return false, err
	}
	p.walBytes += goodEnd
	return stop, nil
}

// truncate cuts name to size unless it already has that size.
func (p *Pool) truncate(name string, size int64) error {
	f, err := p.fs.OpenAppend(p.path(name))
	if err != nil {
		return fmt.Errorf("pool: reopen %s: %w", name, err)
	}
	if cur, err := f.Size(); err == nil && cur == size {
		return f.Close()
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return fmt.Errorf("pool: truncate %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("pool: sync %s: %w", name, err)
	}
	return f.Close()
}
