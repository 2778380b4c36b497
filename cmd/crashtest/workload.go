package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aalhour/poolkv/config"
	"github.com/aalhour/poolkv/db"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/status"
)

// The workload rewrites a fixed key set once per generation. On engines
// with iterators a generation is one write iterator commit, so after a
// crash every key must carry the same generation. On the others each key
// is a separate Put and keys may straddle two adjacent generations.
//
// After a generation is durable the child records it in the oracle file.
// Recovery may be one generation ahead of the oracle (committed, not yet
// recorded) but never behind it.

const oracleName = "acked_generation"

type workload struct {
	engine  string
	dir     string // pool directory
	state   string // oracle directory, outside the pool
	keys    int
	defrag  int // defrag every n generations, 0 = never
	logger  logging.Logger
	verbose bool
}

func keyOf(i int) []byte { return fmt.Appendf(nil, "key%06d", i) }

func valueOf(gen uint64, i int) []byte { return fmt.Appendf(nil, "%d:%06d", gen, i) }

func parseValue(v []byte) (uint64, error) {
	g, _, ok := strings.Cut(string(v), ":")
	if !ok {
		return 0, fmt.Errorf("malformed value %q", v)
	}
	return strconv.ParseUint(g, 10, 64)
}

func (w *workload) open() (*db.Engine, error) {
	cfg := config.New()
	if err := cfg.PutPath(w.dir); err != nil {
		return nil, err
	}
	if err := cfg.PutCreateIfMissing(true); err != nil {
		return nil, err
	}
	return db.Open(w.engine, cfg, &db.Options{Logger: w.logger})
}

func (w *workload) oraclePath() string { return filepath.Join(w.state, oracleName) }

// readOracle returns the last generation the child recorded, 0 if none.
func (w *workload) readOracle() (uint64, error) {
	data, err := os.ReadFile(w.oraclePath())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func (w *workload) writeOracle(gen uint64) error {
	tmp := w.oraclePath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d\n", gen); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, w.oraclePath())
}

// run opens the pool and drives it. It never closes the engine: the
// process is expected to die.
func (w *workload) run(rounds int) error {
	e, err := w.open()
	if err != nil {
		return err
	}
	return w.drive(e, rounds)
}

// drive writes generations until rounds is reached (0 = forever).
func (w *workload) drive(e *db.Engine, rounds int) error {
	gen, err := w.verify(e)
	if err != nil {
		return err
	}
	for r := 0; rounds == 0 || r < rounds; r++ {
		gen++
		if err := w.writeGeneration(e, gen); err != nil {
			return fmt.Errorf("generation %d: %w", gen, err)
		}
		if err := w.writeOracle(gen); err != nil {
			return err
		}
		if w.verbose {
			fmt.Printf("   generation %d acknowledged\n", gen)
		}
		if w.defrag > 0 && gen%uint64(w.defrag) == 0 {
			if err := e.Defrag(0, 100); err != nil {
				return fmt.Errorf("defrag at generation %d: %w", gen, err)
			}
		}
	}
	return nil
}

func (w *workload) writeGeneration(e *db.Engine, gen uint64) error {
	if !e.Capabilities().Iterators {
		for i := range w.keys {
			if err := e.Put(keyOf(i), valueOf(gen, i)); err != nil {
				return err
			}
		}
		return nil
	}

	it, err := e.NewWriteIterator()
	if err != nil {
		return err
	}
	defer it.Close()
	i := 0
	for err = it.SeekToFirst(); err == nil && i < w.keys; err = it.Next() {
		if err := it.SetValue(valueOf(gen, i)); err != nil {
			return err
		}
		i++
	}
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		return err
	}
	if i < w.keys {
		// First generation: the key set is not complete yet.
		it.Close()
		for i := range w.keys {
			if err := e.Put(keyOf(i), valueOf(gen, i)); err != nil {
				return err
			}
		}
		return nil
	}
	return it.Commit()
}

// verify checks the recovered pool against the oracle and returns the
// generation it holds.
func (w *workload) verify(e *db.Engine) (uint64, error) {
	acked, err := w.readOracle()
	if err != nil {
		return 0, fmt.Errorf("read oracle: %w", err)
	}
	atomic := e.Capabilities().Iterators

	var lo, hi uint64
	present := 0
	for i := range w.keys {
		v, err := e.GetCopy(keyOf(i))
		if errors.Is(err, status.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		g, err := parseValue(v)
		if err != nil {
			return 0, err
		}
		if want := valueOf(g, i); string(v) != string(want) {
			return 0, fmt.Errorf("%s = %q, want %q", keyOf(i), v, want)
		}
		if present == 0 || g < lo {
			lo = g
		}
		if g > hi {
			hi = g
		}
		present++
	}

	switch {
	case present == 0:
		if acked > 0 {
			return 0, fmt.Errorf("generation %d was acknowledged but the pool is empty", acked)
		}
		return 0, nil
	case present < w.keys:
		// Only generation 1 is written key by key into an empty pool.
		if acked > 0 || hi > 1 {
			return 0, fmt.Errorf("%d of %d keys missing at generation %d", w.keys-present, w.keys, hi)
		}
		return 0, nil
	case lo < acked:
		return 0, fmt.Errorf("lost acknowledged generation %d: oldest key holds %d", acked, lo)
	case hi > acked+1:
		return 0, fmt.Errorf("generation %d recovered but only %d acknowledged", hi, acked)
	case atomic && lo != hi:
		return 0, fmt.Errorf("torn commit: generations %d..%d mixed", lo, hi)
	case !atomic && hi-lo > 1:
		return 0, fmt.Errorf("generations %d..%d mixed", lo, hi)
	}
	return hi, nil
}
