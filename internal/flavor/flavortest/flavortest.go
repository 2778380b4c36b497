// Package flavortest is the shared contract suite every flavor runs in its
// own tests.
package flavortest

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aalhour/poolkv/internal/batch"
	"github.com/aalhour/poolkv/internal/flavor"
)

// Opener opens a store over dir. Called again with the same dir after
// Close, it must reopen the same pool.
type Opener func(t *testing.T, dir string) flavor.Store

// Run runs the contract suite against the flavor open creates.
func Run(t *testing.T, open Opener) {
	t.Run("PointOps", func(t *testing.T) { testPointOps(t, open) })
	t.Run("EmptyKeyAndValue", func(t *testing.T) { testEmptyKeyAndValue(t, open) })
	t.Run("SnapshotIsolation", func(t *testing.T) { testSnapshotIsolation(t, open) })
	t.Run("Scan", func(t *testing.T) { testScan(t, open) })
	t.Run("Cursor", func(t *testing.T) { testCursor(t, open) })
	t.Run("Defrag", func(t *testing.T) { testDefrag(t, open) })
	t.Run("Reopen", func(t *testing.T) { testReopen(t, open) })
}

// Write applies alternating key/value pairs as one batch. A value of "-"
// deletes the key.
func Write(t *testing.T, s flavor.Store, kv ...string) {
	t.Helper()
	b := batch.New()
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "-" {
			b.Delete([]byte(kv[i]))
		} else {
			b.Put([]byte(kv[i]), []byte(kv[i+1]))
		}
	}
	if err := s.Write(b); err != nil {
		t.Fatalf("Write error = %v", err)
	}
}

// Dump renders a snapshot scan as "k=v,k=v".
func Dump(t *testing.T, sn flavor.Snapshot, r flavor.Range) string {
	t.Helper()
	var parts []string
	err := sn.Scan(r, func(key, value []byte) error {
		parts = append(parts, string(key)+"="+string(value))
		return nil
	})
	if err != nil {
		t.Fatalf("Scan error = %v", err)
	}
	return strings.Join(parts, ",")
}

func snapshot(t *testing.T, s flavor.Store) flavor.Snapshot {
	t.Helper()
	sn, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot error = %v", err)
	}
	return sn
}

func expectGet(t *testing.T, s flavor.Store, key, want string, found bool) {
	t.Helper()
	v, ok, err := s.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) error = %v", key, err)
	}
	if ok != found || string(v) != want {
		t.Errorf("Get(%q) = (%q, %v), want (%q, %v)", key, v, ok, want, found)
	}
}

func testPointOps(t *testing.T, open Opener) {
	s := open(t, t.TempDir())
	defer s.Close()

	Write(t, s, "a", "1", "b", "2", "c", "3")
	expectGet(t, s, "a", "1", true)
	expectGet(t, s, "b", "2", true)
	expectGet(t, s, "zz", "", false)

	Write(t, s, "b", "22")
	expectGet(t, s, "b", "22", true)

	Write(t, s, "a", "-", "missing", "-")
	expectGet(t, s, "a", "", false)

	u := s.Usage()
	if u.Records != 2 {
		t.Errorf("Usage().Records = %d, want 2", u.Records)
	}
	if want := int64(len("b22") + len("c3")); u.Bytes != want {
		t.Errorf("Usage().Bytes = %d, want %d", u.Bytes, want)
	}

	// Records of one batch apply in order.
	Write(t, s, "x", "1", "x", "2", "y", "1", "y", "-")
	expectGet(t, s, "x", "2", true)
	expectGet(t, s, "y", "", false)
	if got := s.Usage().Records; got != 3 {
		t.Errorf("Usage().Records after batch = %d, want 3", got)
	}
}

func testEmptyKeyAndValue(t *testing.T, open Opener) {
	s := open(t, t.TempDir())
	defer s.Close()

	Write(t, s, "", "empty-key", "k", "")
	expectGet(t, s, "", "empty-key", true)
	expectGet(t, s, "k", "", true)

	sn := snapshot(t, s)
	defer sn.Release()
	if got := Dump(t, sn, flavor.All()); got != "=empty-key,k=" {
		t.Errorf("Scan(all) = %q", got)
	}
}

func testSnapshotIsolation(t *testing.T, open Opener) {
	s := open(t, t.TempDir())
	defer s.Close()

	Write(t, s, "a", "1", "b", "2")
	sn := snapshot(t, s)
	defer sn.Release()

	Write(t, s, "a", "10", "b", "-", "c", "3")

	if got := Dump(t, sn, flavor.All()); got != "a=1,b=2" {
		t.Errorf("snapshot Scan = %q, want a=1,b=2", got)
	}
	v, ok, err := sn.Get([]byte("b"))
	if err != nil || !ok || string(v) != "2" {
		t.Errorf("snapshot Get(b) = (%q, %v, %v)", v, ok, err)
	}

	fresh := snapshot(t, s)
	defer fresh.Release()
	if got := Dump(t, fresh, flavor.All()); got != "a=10,c=3" {
		t.Errorf("fresh Scan = %q, want a=10,c=3", got)
	}
}

func testScan(t *testing.T, open Opener) {
	s := open(t, t.TempDir())
	defer s.Close()
	if !s.Capabilities().BoundedRanges {
		sn := snapshot(t, s)
		defer sn.Release()
		err := sn.Scan(flavor.Above([]byte("a")), func(key, value []byte) error { return nil })
		if !errors.Is(err, flavor.ErrNotSupported) {
			t.Errorf("bounded Scan error = %v, want ErrNotSupported", err)
		}
		return
	}

	Write(t, s, "e", "5", "a", "1", "c", "3", "b", "2", "d", "4")
	sn := snapshot(t, s)
	defer sn.Release()

	tests := []struct {
		name string
		r    flavor.Range
		want string
	}{
		{"all", flavor.All(), "a=1,b=2,c=3,d=4,e=5"},
		{"above", flavor.Above([]byte("c")), "d=4,e=5"},
		{"above absent", flavor.Above([]byte("bb")), "c=3,d=4,e=5"},
		{"above empty key", flavor.Above(nil), "a=1,b=2,c=3,d=4,e=5"},
		{"below", flavor.Below([]byte("c")), "a=1,b=2"},
		{"below first", flavor.Below([]byte("a")), ""},
		{"between", flavor.Between([]byte("a"), []byte("d")), "b=2,c=3"},
		{"between reversed", flavor.Between([]byte("d"), []byte("a")), ""},
		{"between equal", flavor.Between([]byte("c"), []byte("c")), ""},
		{"between empty keys", flavor.Between(nil, nil), ""},
	}
	for _, tt := range tests {
		if got := Dump(t, sn, tt.r); got != tt.want {
			t.Errorf("Scan(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}

	stop := errors.New("stop")
	var seen int
	err := sn.Scan(flavor.All(), func(key, value []byte) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || seen != 2 {
		t.Errorf("stopped Scan = (%v, %d visits), want (stop, 2)", err, seen)
	}
}

func key(c flavor.Cursor) string {
	if !c.Valid() {
		return "<invalid>"
	}
	return string(c.Key())
}

func testCursor(t *testing.T, open Opener) {
	s := open(t, t.TempDir())
	defer s.Close()
	sn := snapshot(t, s)
	defer sn.Release()

	if !s.Capabilities().Iterators {
		if _, err := sn.NewCursor(); !errors.Is(err, flavor.ErrNotSupported) {
			t.Errorf("NewCursor error = %v, want ErrNotSupported", err)
		}
		return
	}

	empty, err := sn.NewCursor()
	if err != nil {
		t.Fatalf("NewCursor error = %v", err)
	}
	empty.First()
	if empty.Valid() {
		t.Error("First on empty store is valid")
	}
	empty.Close()

	Write(t, s, "b", "2", "d", "4", "f", "6")
	sn2 := snapshot(t, s)
	defer sn2.Release()
	c, err := sn2.NewCursor()
	if err != nil {
		t.Fatalf("NewCursor error = %v", err)
	}
	defer c.Close()

	var fwd, back []string
	for c.First(); c.Valid(); c.Next() {
		fwd = append(fwd, string(c.Key())+"="+string(c.Value()))
	}
	for c.Last(); c.Valid(); c.Prev() {
		back = append(back, string(c.Key()))
	}
	if fmt.Sprint(fwd) != "[b=2 d=4 f=6]" || fmt.Sprint(back) != "[f d b]" {
		t.Errorf("forward %v, backward %v", fwd, back)
	}

	tests := []struct {
		op     string
		seek   func([]byte)
		target string
		want   string
	}{
		{"GE", c.SeekGE, "c", "d"},
		{"GE", c.SeekGE, "d", "d"},
		{"GE", c.SeekGE, "g", "<invalid>"},
		{"GT", c.SeekGT, "d", "f"},
		{"GT", c.SeekGT, "a", "b"},
		{"GT", c.SeekGT, "f", "<invalid>"},
		{"LE", c.SeekLE, "e", "d"},
		{"LE", c.SeekLE, "d", "d"},
		{"LE", c.SeekLE, "a", "<invalid>"},
		{"LE", c.SeekLE, "z", "f"},
		{"LT", c.SeekLT, "d", "b"},
		{"LT", c.SeekLT, "b", "<invalid>"},
		{"LT", c.SeekLT, "z", "f"},
	}
	for _, tt := range tests {
		tt.seek([]byte(tt.target))
		if got := key(c); got != tt.want {
			t.Errorf("Seek%s(%q) = %s, want %s", tt.op, tt.target, got, tt.want)
		}
	}

	c.SeekGE([]byte("d"))
	c.Next()
	if got := key(c); got != "f" {
		t.Errorf("Next from d = %s, want f", got)
	}
	c.Prev()
	c.Prev()
	if got := key(c); got != "b" {
		t.Errorf("Prev twice from f = %s, want b", got)
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
}

func testDefrag(t *testing.T, open Opener) {
	s := open(t, t.TempDir())
	defer s.Close()

	for i := range 50 {
		Write(t, s, fmt.Sprintf("k%02d", i%10), fmt.Sprint(i))
	}
	before := s.Usage()
	if err := s.Defrag(0, 100); err != nil {
		t.Fatalf("Defrag error = %v", err)
	}
	if after := s.Usage(); after != before {
		t.Errorf("Usage changed by Defrag: %+v -> %+v", before, after)
	}
	if before.Records == 0 {
		return
	}
	expectGet(t, s, "k03", "43", true)
	Write(t, s, "k03", "new")
	expectGet(t, s, "k03", "new", true)
}

func testReopen(t *testing.T, open Opener) {
	dir := t.TempDir()
	s := open(t, dir)
	if !s.Capabilities().Persistent {
		s.Close()
		return
	}
	Write(t, s, "a", "1", "b", "2", "c", "3")
	Write(t, s, "b", "-")
	if err := s.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}

	s = open(t, dir)
	defer s.Close()
	expectGet(t, s, "a", "1", true)
	expectGet(t, s, "b", "", false)
	if u := s.Usage(); u.Records != 2 || u.Bytes != 4 {
		t.Errorf("Usage after reopen = %+v, want 2 records, 4 bytes", u)
	}
	sn := snapshot(t, s)
	defer sn.Release()
	if got := Dump(t, sn, flavor.All()); got != "a=1,c=3" {
		t.Errorf("Scan after reopen = %q", got)
	}
}
