package pool

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/aalhour/poolkv/internal/checksum"
	"github.com/aalhour/poolkv/internal/compression"
	"github.com/aalhour/poolkv/internal/encoding"
	"github.com/aalhour/poolkv/internal/testutil"
	"github.com/aalhour/poolkv/internal/vfs"
)

// Checkpoint file layout:
//
//	magic (8) | fixed64 sequence | byte compression
//	blocks:  fixed32 stored length | stored bytes
//	trailer: fixed64 record count | fixed64 xxh3 of everything before
//
// A block holds length-prefixed key/value pairs, compressed as a unit.
const (
	checkpointMagic     = "PKVCKPT\x01"
	checkpointBlockSize = 64 << 10
	checkpointHeaderLen = len(checkpointMagic) + 8 + 1
	checkpointTrailer   = 16
)

// checkpointWriter streams records into compressed blocks.
type checkpointWriter struct {
	dst     io.Writer
	digest  *checksum.XXH3Digest
	comp    compression.Type
	block   []byte
	records uint64
	written int64
}

func (w *checkpointWriter) write(p []byte) error {
	if _, err := w.dst.Write(p); err != nil {
		return err
	}
	_, _ = w.digest.Write(p)
	w.written += int64(len(p))
	return nil
}

func (w *checkpointWriter) add(key, value []byte) error {
	w.block = encoding.AppendLengthPrefixedSlice(w.block, key)
	w.block = encoding.AppendLengthPrefixedSlice(w.block, value)
	w.records++
	if len(w.block) >= checkpointBlockSize {
		return w.flush()
	}
	return nil
}

func (w *checkpointWriter) flush() error {
	if len(w.block) == 0 {
		return nil
	}
	stored, err := compression.Compress(w.comp, w.block)
	if err != nil {
		return err
	}
	if err := w.write(encoding.AppendFixed32(nil, uint32(len(stored)))); err != nil {
		return err
	}
	if err := w.write(stored); err != nil {
		return err
	}
	w.block = w.block[:0]
	return nil
}

// writeCheckpoint dumps the index at seq to CHECKPOINT-<seq>. The file only
// becomes visible once fully written and synced.
func writeCheckpoint(fs vfs.FS, dir string, seq uint64, comp compression.Type, dump func(func(key, value []byte) error) error) (int64, uint64, error) {
	testutil.MaybeKill(testutil.KPCheckpointWrite0)

	final := filepath.Join(dir, checkpointFileName(seq))
	tmp := final + tmpSuffix
	f, err := fs.Create(tmp)
	if err != nil {
		return 0, 0, err
	}
	cleanup := func() {
		_ = f.Close()
		_ = fs.Remove(tmp)
	}

	w := &checkpointWriter{dst: f, digest: checksum.NewXXH3Digest(), comp: comp}
	header := append([]byte(checkpointMagic), encoding.AppendFixed64(nil, seq)...)
	header = append(header, byte(comp))
	if err := w.write(header); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := dump(w.add); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := w.flush(); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := w.write(encoding.AppendFixed64(nil, w.records)); err != nil {
		cleanup()
		return 0, 0, err
	}
	if _, err := f.Write(encoding.AppendFixed64(nil, w.digest.Sum64())); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return 0, 0, err
	}
	testutil.MaybeKill(testutil.KPCheckpointSync1)
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return 0, 0, err
	}

	testutil.MaybeKill(testutil.KPCheckpointRename0)
	if err := fs.Rename(tmp, final); err != nil {
		_ = fs.Remove(tmp)
		return 0, 0, err
	}
	testutil.MaybeKill(testutil.KPCheckpointRename1)
	if err := syncDir(fs, dir); err != nil {
		return 0, 0, err
	}
	return w.written + 8, w.records, nil
}

// readCheckpoint verifies a checkpoint file and passes every record to fn.
// Nothing reaches fn unless the whole file checks out.
func readCheckpoint(fs vfs.FS, name string, fn func(key, value []byte) error) (seq, records uint64, err error) {
	data, err := vfs.ReadFile(fs, name)
	if err != nil {
		return 0, 0, err
	}
	if len(data) < checkpointHeaderLen+checkpointTrailer || string(data[:len(checkpointMagic)]) != checkpointMagic {
		return 0, 0, fmt.Errorf("%w: %s: bad checkpoint header", ErrCorruption, name)
	}
	body := data[:len(data)-8]
	if want := encoding.DecodeFixed64(data[len(data)-8:]); checksum.XXH3(body) != want {
		return 0, 0, fmt.Errorf("%w: %s: checkpoint checksum mismatch", ErrCorruption, name)
	}

	seq = encoding.DecodeFixed64(data[len(checkpointMagic):])
	comp := compression.Type(data[len(checkpointMagic)+8])
	want := encoding.DecodeFixed64(body[len(body)-8:])

	d := encoding.NewDecoder(body[checkpointHeaderLen : len(body)-8])
	for d.Remaining() > 0 {
		stored := d.Bytes(int(d.Fixed32()))
		if d.Err() != nil {
			break
		}
		block, err := compression.Decompress(comp, stored)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %s: %v", ErrCorruption, name, err)
		}
		bd := encoding.NewDecoder(block)
		for bd.Remaining() > 0 {
			key := bd.LengthPrefixed()
			value := bd.LengthPrefixed()
			if err := bd.Err(); err != nil {
				return 0, 0, fmt.Errorf("%w: %s: %v", ErrCorruption, name, err)
			}
			if err := fn(key, value); err != nil {
				return 0, 0, err
			}
			records++
		}
	}
	if err := d.Err(); err != nil {
		return 0, 0, fmt.Errorf("%w: %s: %v", ErrCorruption, name, err)
	}
	if records != want {
		return 0, 0, fmt.Errorf("%w: %s: %d records, trailer says %d", ErrCorruption, name, records, want)
	}
	return seq, records, nil
}
