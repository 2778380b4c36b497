package stree

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aalhour/poolkv/internal/compression"
	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/internal/flavor/flavortest"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/internal/pool"
)

func options(dir string) flavor.Options {
	return flavor.Options{
		Dir:             dir,
		CreateIfMissing: true,
		Sync:            true,
		Compression:     compression.SnappyCompression,
		ParanoidChecks:  true,
		Logger:          logging.Discard,
	}
}

func open(t *testing.T, dir string) flavor.Store {
	t.Helper()
	s, err := Open(options(dir))
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	return s
}

func TestContract(t *testing.T) {
	flavortest.Run(t, open)
}

func TestDefragDropsVersions(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(options(dir))
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	for i := range 100 {
		flavortest.Write(t, s, "k", fmt.Sprint(i))
	}
	if got := s.mem.Load().Entries(); got != 100 {
		t.Fatalf("Entries() = %d, want 100 versions", got)
	}
	old, _ := s.Snapshot()

	if err := s.Defrag(0, 100); err != nil {
		t.Fatalf("Defrag error = %v", err)
	}
	if got := s.mem.Load().Entries(); got != 1 {
		t.Errorf("Entries() after Defrag = %d, want 1", got)
	}
	if got := s.Stats().CheckpointSequence; got != 100 {
		t.Errorf("CheckpointSequence = %d, want 100", got)
	}
	if got := flavortest.Dump(t, old, flavor.All()); got != "k=99" {
		t.Errorf("pre-defrag snapshot = %q", got)
	}
	s.Close()

	s, err = Open(options(dir))
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	v, ok, _ := s.Get([]byte("k"))
	if !ok || string(v) != "99" {
		t.Errorf("Get(k) after reopen = (%q, %v)", v, ok)
	}
}

func TestReadersDuringWrites(t *testing.T) {
	s := open(t, t.TempDir())
	defer s.Close()
	flavortest.Write(t, s, "a", "0", "b", "0")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				sn, err := s.Snapshot()
				if err != nil {
					t.Errorf("Snapshot error = %v", err)
					return
				}
				// Both keys are written by one batch, so a snapshot sees
				// them equal.
				va, _, _ := sn.Get([]byte("a"))
				vb, _, _ := sn.Get([]byte("b"))
				if string(va) != string(vb) {
					t.Errorf("torn batch: a=%s b=%s", va, vb)
					return
				}
			}
		}()
	}
	for i := range 200 {
		v := fmt.Sprint(i)
		flavortest.Write(t, s, "a", v, "b", v)
	}
	close(stop)
	wg.Wait()
}

func TestFlavorMismatch(t *testing.T) {
	dir := t.TempDir()
	s := open(t, dir)
	s.Close()

	p, err := pool.Open(pool.Options{Dir: dir, Flavor: "cmap", Logger: logging.Discard}, nil)
	if !errors.Is(err, pool.ErrFlavorMismatch) {
		if p != nil {
			p.Close()
		}
		t.Fatalf("pool.Open error = %v, want ErrFlavorMismatch", err)
	}
}
