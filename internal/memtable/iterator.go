package memtable

import "bytes"

// SnapshotIterator walks the user keys visible at a fixed sequence, newest
// version only, tombstoned keys skipped. Key and Value alias the index and
// must not be modified.
type SnapshotIterator struct {
	it  *Iterator
	seq uint64
	key []byte
}

// NewIterator returns an unpositioned iterator over the state at seq.
func (m *MemTable) NewIterator(seq uint64) *SnapshotIterator {
	return &SnapshotIterator{it: m.list.NewIterator(), seq: seq}
}

// Valid returns true if positioned at a visible key.
func (s *SnapshotIterator) Valid() bool { return s.key != nil }

// Key returns the current user key.
func (s *SnapshotIterator) Key() []byte { return s.key }

// Value returns the current value.
func (s *SnapshotIterator) Value() []byte { return s.it.Value() }

// SeekToFirst positions at the smallest visible key.
func (s *SnapshotIterator) SeekToFirst() {
	s.it.SeekToFirst()
	s.forward()
}

// SeekToLast positions at the largest visible key.
func (s *SnapshotIterator) SeekToLast() {
	s.it.SeekToLast()
	s.backward()
}

// SeekGE positions at the smallest visible key >= target.
func (s *SnapshotIterator) SeekGE(target []byte) {
	s.it.Seek(seekKey(target, MaxSequence))
	s.forward()
}

// SeekGT positions at the smallest visible key > target.
func (s *SnapshotIterator) SeekGT(target []byte) {
	s.SeekGE(target)
	if s.Valid() && bytes.Equal(s.key, target) {
		s.Next()
	}
}

// SeekLT positions at the largest visible key < target.
func (s *SnapshotIterator) SeekLT(target []byte) {
	s.it.SeekBefore(seekKey(target, MaxSequence))
	s.backward()
}

// SeekLE positions at the largest visible key <= target.
func (s *SnapshotIterator) SeekLE(target []byte) {
	s.SeekGE(target)
	if s.Valid() && bytes.Equal(s.key, target) {
		return
	}
	s.SeekLT(target)
}

// Next advances to the next visible key.
func (s *SnapshotIterator) Next() {
	if s.key == nil {
		return
	}
	cur := s.key
	for s.it.Valid() && bytes.Equal(userKey(s.it.Key()), cur) {
		s.it.Next()
	}
	s.forward()
}

// Prev moves to the previous visible key.
func (s *SnapshotIterator) Prev() {
	if s.key == nil {
		return
	}
	s.SeekLT(s.key)
}

// forward settles on the first visible key at or after the raw position.
func (s *SnapshotIterator) forward() {
	for s.it.Valid() {
		uk := userKey(s.it.Key())
		for s.it.Valid() && bytes.Equal(userKey(s.it.Key()), uk) && trailer(s.it.Key())>>8 > s.seq {
			s.it.Next()
		}
		if !s.it.Valid() {
			break
		}
		if !bytes.Equal(userKey(s.it.Key()), uk) {
			continue
		}
		if Kind(trailer(s.it.Key())&0xff) == KindValue {
			s.key = uk
			return
		}
		for s.it.Valid() && bytes.Equal(userKey(s.it.Key()), uk) {
			s.it.Next()
		}
	}
	s.key = nil
}

// backward settles on the last visible key at or before the user key of
// the raw position.
func (s *SnapshotIterator) backward() {
	for s.it.Valid() {
		uk := userKey(s.it.Key())
		s.it.Seek(seekKey(uk, s.seq))
		if s.it.Valid() && bytes.Equal(userKey(s.it.Key()), uk) && Kind(trailer(s.it.Key())&0xff) == KindValue {
			s.key = uk
			return
		}
		s.it.SeekBefore(seekKey(uk, MaxSequence))
	}
	s.key = nil
}
