package memtable

import (
	"fmt"
	"strings"
	"testing"
)

func collect(it *SnapshotIterator) string {
	var parts []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		parts = append(parts, string(it.Key())+"="+string(it.Value()))
	}
	return strings.Join(parts, ",")
}

func collectReverse(it *SnapshotIterator) string {
	var parts []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		parts = append(parts, string(it.Key())+"="+string(it.Value()))
	}
	return strings.Join(parts, ",")
}

// =============================================================================
// Point reads
// =============================================================================

func TestMemTableGetVersions(t *testing.T) {
	m := New(0)
	m.Add(1, KindValue, []byte("k"), []byte("v1"))
	m.Add(2, KindValue, []byte("k"), []byte("v2"))
	m.Add(3, KindDeletion, []byte("k"), nil)
	m.Add(4, KindValue, []byte("k"), []byte("v4"))

	tests := []struct {
		seq   uint64
		want  string
		found bool
	}{
		{0, "", false},
		{1, "v1", true},
		{2, "v2", true},
		{3, "", false},
		{4, "v4", true},
		{MaxSequence, "v4", true},
	}
	for _, tt := range tests {
		v, ok := m.Get([]byte("k"), tt.seq)
		if ok != tt.found || string(v) != tt.want {
			t.Errorf("Get(k, %d) = (%q, %v), want (%q, %v)", tt.seq, v, ok, tt.want, tt.found)
		}
	}
	if got := m.LastSequence(); got != 4 {
		t.Errorf("LastSequence() = %d, want 4", got)
	}
	if got := m.Entries(); got != 4 {
		t.Errorf("Entries() = %d, want 4", got)
	}
}

func TestMemTableEmptyKeyAndValue(t *testing.T) {
	m := New(0)
	m.Add(1, KindValue, []byte{}, []byte{})
	m.Add(2, KindValue, []byte("a"), []byte("x"))

	v, ok := m.Get(nil, MaxSequence)
	if !ok || len(v) != 0 {
		t.Fatalf("Get(empty) = (%q, %v), want (\"\", true)", v, ok)
	}
	if got := collect(m.NewIterator(MaxSequence)); got != "=,a=x" {
		t.Errorf("iteration = %q", got)
	}
}

func TestMemTableAddCopiesInput(t *testing.T) {
	m := New(0)
	k, v := []byte("key"), []byte("val")
	m.Add(1, KindValue, k, v)
	k[0], v[0] = 'X', 'X'
	got, ok := m.Get([]byte("key"), 1)
	if !ok || string(got) != "val" {
		t.Errorf("Get(key) = (%q, %v), want (val, true)", got, ok)
	}
}

// =============================================================================
// Snapshot iteration
// =============================================================================

func buildHistory() *MemTable {
	m := New(0)
	m.Add(1, KindValue, []byte("a"), []byte("1"))
	m.Add(2, KindValue, []byte("b"), []byte("2"))
	m.Add(3, KindValue, []byte("c"), []byte("3"))
	m.Add(4, KindDeletion, []byte("b"), nil)
	m.Add(5, KindValue, []byte("a"), []byte("5"))
	m.Add(6, KindValue, []byte("d"), []byte("6"))
	m.Add(7, KindDeletion, []byte("d"), nil)
	return m
}

func TestSnapshotIteratorIsolation(t *testing.T) {
	m := buildHistory()
	tests := []struct {
		seq     uint64
		forward string
	}{
		{0, ""},
		{1, "a=1"},
		{3, "a=1,b=2,c=3"},
		{4, "a=1,c=3"},
		{6, "a=5,c=3,d=6"},
		{7, "a=5,c=3"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("seq=%d", tt.seq), func(t *testing.T) {
			if got := collect(m.NewIterator(tt.seq)); got != tt.forward {
				t.Errorf("forward = %q, want %q", got, tt.forward)
			}
			var rev []string
			if tt.forward != "" {
				parts := strings.Split(tt.forward, ",")
				for i := len(parts) - 1; i >= 0; i-- {
					rev = append(rev, parts[i])
				}
			}
			if got := collectReverse(m.NewIterator(tt.seq)); got != strings.Join(rev, ",") {
				t.Errorf("backward = %q, want %q", got, strings.Join(rev, ","))
			}
		})
	}
}

func TestSnapshotIteratorSeeks(t *testing.T) {
	m := buildHistory()
	// Visible at 7: a=5, c=3.
	type seekFn func(*SnapshotIterator, []byte)
	seeks := map[string]seekFn{
		"GE": (*SnapshotIterator).SeekGE,
		"GT": (*SnapshotIterator).SeekGT,
		"LE": (*SnapshotIterator).SeekLE,
		"LT": (*SnapshotIterator).SeekLT,
	}
	tests := []struct {
		op, target, want string
	}{
		{"GE", "", "a"},
		{"GE", "a", "a"},
		{"GE", "b", "c"},
		{"GE", "d", ""},
		{"GT", "a", "c"},
		{"GT", "c", ""},
		{"LE", "b", "a"},
		{"LE", "c", "c"},
		{"LE", "0", ""},
		{"LT", "a", ""},
		{"LT", "c", "a"},
		{"LT", "z", "c"},
	}
	for _, tt := range tests {
		it := m.NewIterator(7)
		seeks[tt.op](it, []byte(tt.target))
		got := ""
		if it.Valid() {
			got = string(it.Key())
		}
		if got != tt.want {
			t.Errorf("Seek%s(%q) = %q, want %q", tt.op, tt.target, got, tt.want)
		}
	}
}

func TestSnapshotIteratorIgnoresLaterWrites(t *testing.T) {
	m := New(0)
	m.Add(1, KindValue, []byte("a"), []byte("1"))
	m.Add(2, KindValue, []byte("c"), []byte("2"))

	it := m.NewIterator(2)
	it.SeekToFirst()
	m.Add(3, KindValue, []byte("b"), []byte("3"))
	m.Add(4, KindDeletion, []byte("c"), nil)

	it.Next()
	if !it.Valid() || string(it.Key()) != "c" {
		t.Fatalf("after Next, want c visible at pinned sequence")
	}
	it.Prev()
	if !it.Valid() || string(it.Key()) != "a" {
		t.Fatalf("after Prev, want a")
	}
}

func TestMemTableCompact(t *testing.T) {
	m := buildHistory()
	c := m.Compact(m.LastSequence(), 0)
	if got := c.Entries(); got != 2 {
		t.Errorf("Entries() after compact = %d, want 2", got)
	}
	if got := collect(c.NewIterator(MaxSequence)); got != "a=5,c=3" {
		t.Errorf("compacted contents = %q", got)
	}
	if got := collect(m.NewIterator(3)); got != "a=1,b=2,c=3" {
		t.Errorf("original history changed: %q", got)
	}
	c.Add(8, KindValue, []byte("e"), []byte("8"))
	if got := collect(c.NewIterator(8)); got != "a=5,c=3,e=8" {
		t.Errorf("compacted after add = %q", got)
	}
}
