package memtable

import (
	"bytes"
	"encoding/binary"
	"sync"
)

// Kind is the type of a versioned entry.
type Kind uint8

const (
	// KindDeletion is a tombstone.
	KindDeletion Kind = 0
	// KindValue is a live value.
	KindValue Kind = 1
)

// MaxSequence is the largest usable sequence number; reads at MaxSequence
// see every committed entry.
const MaxSequence = uint64(1)<<56 - 1

const trailerSize = 8

// MemTable is a multi-version map from user keys to values.
//
// Every write is a new entry tagged with a sequence number. A read at
// sequence s sees, for each key, the newest entry with sequence <= s, so a
// reader that pins s is isolated from every later write.
//
// Internal key: user_key | fixed64(seq<<8 | kind). Entries sort by user
// key ascending, then sequence descending.
type MemTable struct {
	list *SkipList
	mu   sync.Mutex // serializes writers

	lastSeq uint64
}

// New creates an empty MemTable. maxHeight <= 0 selects the default.
func New(maxHeight int) *MemTable {
	return &MemTable{list: NewSkipListWithParams(compareInternal, maxHeight, DefaultBranchingFactor)}
}

func makeInternalKey(userKey []byte, seq uint64, kind Kind) []byte {
	ikey := make([]byte, len(userKey)+trailerSize)
	copy(ikey, userKey)
	binary.LittleEndian.PutUint64(ikey[len(userKey):], seq<<8|uint64(kind))
	return ikey
}

// seekKey sorts before every entry of userKey visible at seq.
func seekKey(userKey []byte, seq uint64) []byte {
	return makeInternalKey(userKey, seq, 0xff)
}

func userKey(ikey []byte) []byte { return ikey[:len(ikey)-trailerSize] }

func trailer(ikey []byte) uint64 {
	return binary.LittleEndian.Uint64(ikey[len(ikey)-trailerSize:])
}

func compareInternal(a, b []byte) int {
	if c := bytes.Compare(userKey(a), userKey(b)); c != 0 {
		return c
	}
	ta, tb := trailer(a), trailer(b)
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	}
	return 0
}

// Add records a write. Sequences must be strictly increasing per key.
// Key and value are copied.
func (m *MemTable) Add(seq uint64, kind Kind, key, value []byte) {
	ikey := makeInternalKey(key, seq, kind)
	var v []byte
	if kind == KindValue {
		v = append(make([]byte, 0, len(value)), value...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.list.Insert(ikey, v)
	if seq > m.lastSeq {
		m.lastSeq = seq
	}
}

// LastSequence returns the highest sequence added.
func (m *MemTable) LastSequence() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq
}

// Get returns the value of key visible at seq. The returned slice must not
// be modified.
func (m *MemTable) Get(key []byte, seq uint64) ([]byte, bool) {
	it := m.list.NewIterator()
	it.Seek(seekKey(key, seq))
	if !it.Valid() || !bytes.Equal(userKey(it.Key()), key) {
		return nil, false
	}
	if Kind(trailer(it.Key())&0xff) != KindValue {
		return nil, false
	}
	return it.Value(), true
}

// Entries returns the number of stored versions, tombstones included.
func (m *MemTable) Entries() int64 { return m.list.Count() }

// ApproximateMemoryUsage returns the bytes held by all versions.
func (m *MemTable) ApproximateMemoryUsage() int64 { return m.list.ApproximateMemoryUsage() }

// Compact returns a new MemTable holding only the entries visible at seq,
// all re-tagged with seq. Readers of m are unaffected.
func (m *MemTable) Compact(seq uint64, maxHeight int) *MemTable {
	out := New(maxHeight)
	it := m.NewIterator(seq)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		out.list.Insert(makeInternalKey(it.Key(), seq, KindValue), it.Value())
	}
	out.lastSeq = seq
	return out
}
