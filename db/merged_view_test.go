package db

import (
	"errors"
	"testing"

	"github.com/google/btree"

	"github.com/aalhour/poolkv/internal/flavor"
)

var errTransient = errors.New("transient cursor error")

// flakyCursor fails the next n positioning calls.
type flakyCursor struct {
	flavor.Cursor
	n   int
	err error
}

func (c *flakyCursor) step(move func()) {
	move()
	c.err = nil
	if c.n > 0 {
		c.n--
		c.err = errTransient
	}
}

func (c *flakyCursor) First()          { c.step(c.Cursor.First) }
func (c *flakyCursor) SeekGE(t []byte) { c.step(func() { c.Cursor.SeekGE(t) }) }
func (c *flakyCursor) Err() error      { return c.err }

func TestMergedViewRecoversAfterCursorError(t *testing.T) {
	e := openEngine(t, "vsmap")
	put(t, e, "a", "1", "b", "2")
	sn, base, err := e.openCursor()
	must(t, err)
	defer sn.Release()
	defer base.Close()

	v := &mergedView{base: &flakyCursor{Cursor: base, n: 1}, staged: btree.NewG(8, stagedLess)}
	if _, _, ok := v.First(); ok || !errors.Is(v.err, errTransient) {
		t.Fatalf("First() ok = %v, err = %v; want failure", ok, v.err)
	}

	k, val, ok := v.SeekGE([]byte("b"))
	if v.err != nil {
		t.Fatalf("error from an earlier seek survived: %v", v.err)
	}
	if !ok || string(k) != "b" || string(val) != "2" {
		t.Errorf("SeekGE(b) = %q, %q, %v; want b, 2, true", k, val, ok)
	}
}
