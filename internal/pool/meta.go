package pool

import (
	"fmt"
	"path/filepath"

	"github.com/aalhour/poolkv/internal/checksum"
	"github.com/aalhour/poolkv/internal/encoding"
	"github.com/aalhour/poolkv/internal/testutil"
	"github.com/aalhour/poolkv/internal/vfs"
)

const (
	metaMagic   = "POOLKV\x00\x01"
	metaVersion = 1
)

// Meta is the identity of a pool, stored in the POOL file.
//
// Layout:
//
//	magic (8) | fixed32 version | length-prefixed flavor |
//	fixed64 capacity | fixed64 xxh3 of everything before
type Meta struct {
	Version  uint32
	Flavor   string
	Capacity int64
}

// NewMeta returns the metadata of a new pool.
func NewMeta(flavor string, capacity int64) Meta {
	return Meta{Version: metaVersion, Flavor: flavor, Capacity: capacity}
}

// MetaExists reports whether dir holds a POOL file.
func MetaExists(fs vfs.FS, dir string) bool {
	return fs.Exists(filepath.Join(dir, metaFileName))
}

func encodeMeta(m Meta) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, metaMagic...)
	buf = encoding.AppendFixed32(buf, m.Version)
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(m.Flavor))
	buf = encoding.AppendFixed64(buf, uint64(m.Capacity))
	return encoding.AppendFixed64(buf, checksum.XXH3(buf))
}

func decodeMeta(data []byte) (Meta, error) {
	var m Meta
	if len(data) < len(metaMagic)+8 || string(data[:len(metaMagic)]) != metaMagic {
		return m, fmt.Errorf("%w: bad pool metadata header", ErrCorruption)
	}
	body := data[:len(data)-8]
	if want := encoding.DecodeFixed64(data[len(data)-8:]); checksum.XXH3(body) != want {
		return m, fmt.Errorf("%w: pool metadata checksum mismatch", ErrCorruption)
	}

	d := encoding.NewDecoder(body[len(metaMagic):])
	m.Version = d.Fixed32()
	m.Flavor = string(d.LengthPrefixed())
	m.Capacity = int64(d.Fixed64())
	if err := d.Err(); err != nil {
		return m, fmt.Errorf("%w: pool metadata: %v", ErrCorruption, err)
	}
	if m.Version != metaVersion {
		return m, fmt.Errorf("%w: pool format version %d", ErrCorruption, m.Version)
	}
	return m, nil
}

// ReadMeta reads the POOL file of dir.
func ReadMeta(fs vfs.FS, dir string) (Meta, error) {
	data, err := vfs.ReadFile(fs, filepath.Join(dir, metaFileName))
	if err != nil {
		return Meta{}, err
	}
	return decodeMeta(data)
}

// WriteMeta replaces the POOL file of dir atomically.
func WriteMeta(fs vfs.FS, dir string, m Meta) error {
	final := filepath.Join(dir, metaFileName)
	tmp := final + tmpSuffix
	if err := writeFileSync(fs, tmp, encodeMeta(m)); err != nil {
		return fmt.Errorf("pool: write metadata: %w", err)
	}
	testutil.MaybeKill(testutil.KPPoolMeta0)
	if err := fs.Rename(tmp, final); err != nil {
		return fmt.Errorf("pool: install metadata: %w", err)
	}
	testutil.MaybeKill(testutil.KPPoolMeta1)
	return syncDir(fs, dir)
}

func writeFileSync(fs vfs.FS, name string, data []byte) error {
	f, err := fs.Create(name)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(fs vfs.FS, dir string) error {
	testutil.MaybeKill(testutil.KPDirSync0)
	if err := fs.SyncDir(dir); err != nil {
		return fmt.Errorf("pool: sync dir: %w", err)
	}
	testutil.MaybeKill(testutil.KPDirSync1)
	return nil
}
