package db

import (
	"strings"
	"testing"

	"github.com/aalhour/poolkv/config"
	"github.com/aalhour/poolkv/status"
)

func keyOf(t *testing.T, it interface{ Key() ([]byte, error) }) string {
	t.Helper()
	k, err := it.Key()
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	return string(k)
}

func valueOf(t *testing.T, it interface{ Value() ([]byte, error) }) string {
	t.Helper()
	v, err := it.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	return string(v)
}

func newReader(t *testing.T, e *Engine) *ReadIterator {
	t.Helper()
	it, err := e.NewReadIterator()
	if err != nil {
		t.Fatalf("NewReadIterator error = %v", err)
	}
	t.Cleanup(func() { it.Close() })
	return it
}

func newWriter(t *testing.T, e *Engine) *WriteIterator {
	t.Helper()
	w, err := e.NewWriteIterator()
	if err != nil {
		t.Fatalf("NewWriteIterator error = %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestReadIteratorWalk(t *testing.T) {
	for _, name := range sortedEngines {
		t.Run(name, func(t *testing.T) {
			e := openEngine(t, name)
			put(t, e, "c", "3", "a", "1", "b", "2")
			it := newReader(t, e)

			var fwd []string
			for err := it.SeekToFirst(); err == nil; err = it.Next() {
				fwd = append(fwd, keyOf(t, it)+"="+valueOf(t, it))
			}
			if got := strings.Join(fwd, ","); got != visit(t, e.GetAll) {
				t.Errorf("forward walk = %q, GetAll differs", got)
			}
			// The failing Next moved past the end exactly once.
			wantCode(t, it.Next(), status.NotFound)

			var back []string
			for err := it.SeekToLast(); err == nil; err = it.Prev() {
				back = append(back, keyOf(t, it))
			}
			if got := strings.Join(back, ""); got != "cba" {
				t.Errorf("backward walk = %q", got)
			}
		})
	}
}

func TestReadIteratorStates(t *testing.T) {
	for _, name := range sortedEngines {
		t.Run(name, func(t *testing.T) {
			e := openEngine(t, name)
			put(t, e, "b", "2", "d", "4", "f", "6")
			it := newReader(t, e)

			// Unset: nothing to read, nowhere to step.
			_, err := it.Key()
			wantCode(t, err, status.NotFound)
			wantCode(t, it.Next(), status.NotFound)
			wantCode(t, it.Prev(), status.NotFound)
			if ok, err := it.IsNext(); ok || err != nil {
				t.Errorf("IsNext() unset = (%v, %v)", ok, err)
			}

			must(t, it.Seek([]byte("d")))
			if keyOf(t, it) != "d" {
				t.Fatal("Seek(d) landed elsewhere")
			}
			wantCode(t, it.Seek([]byte("c")), status.NotFound)
			_, err = it.Value()
			wantCode(t, err, status.NotFound)

			seeks := []struct {
				name string
				seek func([]byte) error
				at   string
				want string
			}{
				{"lower", it.SeekLower, "d", "b"},
				{"lower between", it.SeekLower, "c", "b"},
				{"lower eq", it.SeekLowerEq, "d", "d"},
				{"higher", it.SeekHigher, "d", "f"},
				{"higher eq", it.SeekHigherEq, "d", "d"},
				{"higher eq between", it.SeekHigherEq, "e", "f"},
			}
			for _, s := range seeks {
				if err := s.seek([]byte(s.at)); err != nil {
					t.Fatalf("%s(%q) error = %v", s.name, s.at, err)
				}
				if got := keyOf(t, it); got != s.want {
					t.Errorf("%s(%q) = %q, want %q", s.name, s.at, got, s.want)
				}
			}

			// Before-begin resumes forward at the first record.
			wantCode(t, it.SeekLower([]byte("b")), status.NotFound)
			wantCode(t, it.Prev(), status.NotFound)
			if ok, _ := it.IsNext(); !ok {
				t.Error("IsNext() before begin = false")
			}
			must(t, it.Next())
			if keyOf(t, it) != "b" {
				t.Errorf("Next from before-begin = %q", keyOf(t, it))
			}

			// Past-end resumes backward at the last record.
			wantCode(t, it.SeekHigher([]byte("f")), status.NotFound)
			if ok, _ := it.IsNext(); ok {
				t.Error("IsNext() past end = true")
			}
			wantCode(t, it.Next(), status.NotFound)
			must(t, it.Prev())
			if keyOf(t, it) != "f" {
				t.Errorf("Prev from past-end = %q", keyOf(t, it))
			}

			// IsNext never moves.
			must(t, it.Seek([]byte("d")))
			if ok, err := it.IsNext(); !ok || err != nil {
				t.Errorf("IsNext() at d = (%v, %v)", ok, err)
			}
			if keyOf(t, it) != "d" {
				t.Error("IsNext moved the iterator")
			}
			must(t, it.SeekToLast())
			if ok, _ := it.IsNext(); ok {
				t.Error("IsNext() at last = true")
			}
		})
	}
}

func TestReadIteratorEmpty(t *testing.T) {
	e := openEngine(t, "vsmap")
	it := newReader(t, e)
	wantCode(t, it.SeekToFirst(), status.NotFound)
	wantCode(t, it.SeekToLast(), status.NotFound)
	wantCode(t, it.Next(), status.NotFound)
	wantCode(t, it.SeekHigherEq(nil), status.NotFound)
}

func TestReadRange(t *testing.T) {
	e := openEngine(t, "stree")
	put(t, e, "k", "0123456789")
	it := newReader(t, e)
	must(t, it.Seek([]byte("k")))

	cases := []struct {
		pos, n int
		want   string
		code   status.Code
	}{
		{0, 10, "0123456789", status.OK},
		{2, 3, "234", status.OK},
		{8, 100, "89", status.OK},
		{10, 1, "", status.OK},
		{11, 1, "", status.InvalidArgument},
		{-1, 1, "", status.InvalidArgument},
		{0, -1, "", status.InvalidArgument},
	}
	for _, c := range cases {
		got, err := it.ReadRange(c.pos, c.n)
		if status.CodeOf(err) != c.code {
			t.Errorf("ReadRange(%d, %d) error = %v, want %s", c.pos, c.n, err, c.code)
			continue
		}
		if err == nil && string(got) != c.want {
			t.Errorf("ReadRange(%d, %d) = %q, want %q", c.pos, c.n, got, c.want)
		}
	}
}

func TestReadIteratorSnapshot(t *testing.T) {
	for _, name := range sortedEngines {
		t.Run(name, func(t *testing.T) {
			e := openEngine(t, name)
			put(t, e, "a", "1", "b", "2")
			it := newReader(t, e)

			put(t, e, "a", "changed", "c", "3")
			must(t, e.Remove([]byte("b")))

			var keys []string
			for err := it.SeekToFirst(); err == nil; err = it.Next() {
				keys = append(keys, keyOf(t, it)+"="+valueOf(t, it))
			}
			if got := strings.Join(keys, ","); got != "a=1,b=2" {
				t.Errorf("snapshot walk = %q", got)
			}

			must(t, it.Seek([]byte("a")))
			must(t, it.Refresh())
			if keyOf(t, it) != "a" || valueOf(t, it) != "changed" {
				t.Errorf("after Refresh at a: %q", valueOf(t, it))
			}
			wantCode(t, it.Seek([]byte("b")), status.NotFound)
			must(t, it.Seek([]byte("c")))
		})
	}
}

func TestWriteIteratorCommitAbort(t *testing.T) {
	for _, name := range sortedEngines {
		t.Run(name, func(t *testing.T) {
			e := openEngine(t, name)
			put(t, e, "a", "aaaa", "b", "bbbb")
			w := newWriter(t, e)

			must(t, w.Seek([]byte("a")))
			win, err := w.WriteRange(1, 2)
			must(t, err)
			copy(win, "XY")
			if got := valueOf(t, w); got != "aXYa" {
				t.Errorf("staged value seen through iterator = %q", got)
			}
			if v, _ := get(t, e, "a"); v != "aaaa" {
				t.Errorf("staged change leaked: %q", v)
			}
			r := newReader(t, e)
			must(t, r.Seek([]byte("a")))
			if valueOf(t, r) != "aaaa" {
				t.Error("reader saw uncommitted change")
			}

			must(t, w.Abort())
			if got := valueOf(t, w); got != "aaaa" {
				t.Errorf("value after Abort = %q", got)
			}
			if keyOf(t, w) != "a" {
				t.Error("Abort lost the position")
			}
			wantCode(t, w.Commit(), status.TransactionScopeError)

			win, err = w.WriteRange(0, 4)
			must(t, err)
			copy(win, "1234")
			must(t, w.Next())
			must(t, w.SetValue([]byte("b-is-longer")))
			must(t, w.Commit())
			wantCode(t, w.Commit(), status.TransactionScopeError)

			if keyOf(t, w) != "b" || valueOf(t, w) != "b-is-longer" {
				t.Errorf("iterator after Commit at %q=%q", keyOf(t, w), valueOf(t, w))
			}
			if v, _ := get(t, e, "a"); v != "1234" {
				t.Errorf("Get(a) after Commit = %q", v)
			}
			fresh := newReader(t, e)
			must(t, fresh.Seek([]byte("b")))
			if valueOf(t, fresh) != "b-is-longer" {
				t.Error("fresh reader misses committed value")
			}
		})
	}
}

func TestWriteIteratorScope(t *testing.T) {
	for _, name := range sortedEngines {
		t.Run(name, func(t *testing.T) {
			e := openEngine(t, name)
			put(t, e, "a", "1")
			w := newWriter(t, e)

			// Creation opens a scope, so an empty Commit succeeds once.
			must(t, w.Commit())
			wantCode(t, w.Commit(), status.TransactionScopeError)

			must(t, w.SeekToFirst())
			must(t, w.SetValue([]byte("2")))
			must(t, w.Abort())
			wantCode(t, w.Commit(), status.TransactionScopeError)

			must(t, w.SetValue([]byte("3")))
			must(t, w.Commit())
			wantCode(t, w.Commit(), status.TransactionScopeError)
			if v, _ := get(t, e, "a"); v != "3" {
				t.Errorf("Get(a) = %q, want 3", v)
			}

			w2 := newWriter(t, e)
			must(t, w2.Abort())
			wantCode(t, w2.Commit(), status.TransactionScopeError)
		})
	}
}

func TestWriteIteratorResize(t *testing.T) {
	e := openEngine(t, "stree")
	put(t, e, "k", "medium")
	w := newWriter(t, e)
	must(t, w.Seek([]byte("k")))

	must(t, w.SetValue([]byte("a much longer value")))
	win, err := w.WriteRange(2, 100)
	must(t, err)
	if len(win) != len("much longer value") {
		t.Errorf("WriteRange window = %d bytes", len(win))
	}
	must(t, w.Commit())
	if v, _ := get(t, e, "k"); v != "a much longer value" {
		t.Errorf("grown value = %q", v)
	}

	must(t, w.SetValue([]byte("s")))
	must(t, w.Commit())
	if v, _ := get(t, e, "k"); v != "s" {
		t.Errorf("shrunk value = %q", v)
	}

	_, err = w.WriteRange(2, 1)
	wantCode(t, err, status.InvalidArgument)
}

func TestWriteIteratorRemove(t *testing.T) {
	for _, name := range sortedEngines {
		t.Run(name, func(t *testing.T) {
			e := openEngine(t, name)
			put(t, e, "a", "1", "b", "2", "c", "3")
			w := newWriter(t, e)

			must(t, w.Seek([]byte("b")))
			must(t, w.Remove())
			_, err := w.Key()
			wantCode(t, err, status.NotFound)
			if ok, _ := w.IsNext(); !ok {
				t.Error("IsNext() after Remove = false")
			}
			must(t, w.Prev())
			if keyOf(t, w) != "a" {
				t.Errorf("Prev after Remove = %q", keyOf(t, w))
			}
			must(t, w.Next())
			if keyOf(t, w) != "c" {
				t.Errorf("Next skips removed key, got %q", keyOf(t, w))
			}
			wantCode(t, w.Seek([]byte("b")), status.NotFound)
			must(t, w.Commit())

			must(t, w.Seek([]byte("a")))
			must(t, w.Remove())
			must(t, w.Abort())
			if keyOf(t, w) != "a" {
				t.Error("Abort did not return to the removed record")
			}
			must(t, w.Remove())
			must(t, w.Commit())
			must(t, w.Next())
			if keyOf(t, w) != "c" {
				t.Errorf("Next after committed Remove = %q", keyOf(t, w))
			}

			must(t, w.Close())
			if got := visit(t, e.GetAll); got != "c=3" {
				t.Errorf("GetAll = %q, want c=3", got)
			}
		})
	}
}

func TestSingleWriter(t *testing.T) {
	e := openEngine(t, "vsmap")
	put(t, e, "a", "1")
	w, err := e.NewWriteIterator()
	must(t, err)

	_, err = e.NewWriteIterator()
	wantCode(t, err, status.TransactionScopeError)
	wantCode(t, e.Put([]byte("b"), []byte("2")), status.TransactionScopeError)
	wantCode(t, e.Remove([]byte("a")), status.TransactionScopeError)

	// Readers are unaffected.
	newReader(t, e)
	if v, _ := get(t, e, "a"); v != "1" {
		t.Error("Get blocked by write iterator")
	}

	must(t, w.Seek([]byte("a")))
	must(t, w.SetValue([]byte("uncommitted")))
	must(t, w.Close())
	must(t, w.Close())
	if v, _ := get(t, e, "a"); v != "1" {
		t.Errorf("Close without Commit leaked %q", v)
	}
	wantCode(t, w.Next(), status.InvalidArgument)

	w2 := newWriter(t, e)
	must(t, w2.Close())
	put(t, e, "b", "2")
}

func TestWriteIteratorCapacity(t *testing.T) {
	e := openEngine(t, "stree", func(c *config.Config) { c.PutSize(2 * (1 + 4 + RecordOverhead)) })
	put(t, e, "a", "1111", "b", "2222")
	w := newWriter(t, e)

	must(t, w.SeekToFirst())
	must(t, w.SetValue([]byte("11111")))
	wantCode(t, w.Commit(), status.OutOfMemory)
	if valueOf(t, w) != "11111" {
		t.Error("failed Commit dropped staged changes")
	}

	// Shrinking b makes room for the longer a.
	must(t, w.Next())
	must(t, w.SetValue([]byte("2")))
	must(t, w.Commit())
	if v, _ := get(t, e, "a"); v != "11111" {
		t.Errorf("Get(a) = %q", v)
	}
}

func TestWriteIteratorPersists(t *testing.T) {
	for _, name := range []string{"stree", "lsm"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			e := openAt(t, name, dir)
			put(t, e, "a", "1", "b", "2")
			w := newWriter(t, e)
			must(t, w.SeekToFirst())
			must(t, w.SetValue([]byte("one")))
			must(t, w.Next())
			must(t, w.Remove())
			must(t, w.Commit())
			must(t, w.Close())
			must(t, e.Close())

			e = openAt(t, name, dir)
			if got := visit(t, e.GetAll); got != "a=one" {
				t.Errorf("after reopen GetAll = %q", got)
			}
		})
	}
}
