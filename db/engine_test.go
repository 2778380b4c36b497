package db

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/aalhour/poolkv/config"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/status"
)

var (
	sortedEngines     = []string{"vsmap", "stree", "lsm"}
	persistentEngines = []string{"stree", "cmap", "lsm"}
)

func testOptions() *Options {
	return &Options{Logger: logging.Discard}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error = %v", err)
	}
}

func wantCode(t *testing.T, err error, code status.Code) {
	t.Helper()
	if got := status.CodeOf(err); got != code {
		t.Fatalf("error = %v, want %s", err, code)
	}
}

func newConfig(t *testing.T, name, dir string, setup ...func(*config.Config)) *config.Config {
	t.Helper()
	cfg := config.New()
	if IsPersistent(name) {
		must(t, cfg.PutPath(dir))
		must(t, cfg.PutCreateIfMissing(true))
	}
	for _, fn := range setup {
		fn(cfg)
	}
	return cfg
}

func openAt(t *testing.T, name, dir string, setup ...func(*config.Config)) *Engine {
	t.Helper()
	e, err := Open(name, newConfig(t, name, dir, setup...), testOptions())
	if err != nil {
		t.Fatalf("Open(%s) error = %v", name, err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func openEngine(t *testing.T, name string, setup ...func(*config.Config)) *Engine {
	t.Helper()
	return openAt(t, name, t.TempDir(), setup...)
}

func put(t *testing.T, e *Engine, kv ...string) {
	t.Helper()
	for i := 0; i < len(kv); i += 2 {
		if err := e.Put([]byte(kv[i]), []byte(kv[i+1])); err != nil {
			t.Fatalf("Put(%q) error = %v", kv[i], err)
		}
	}
}

func get(t *testing.T, e *Engine, key string) (string, bool) {
	t.Helper()
	v, err := e.GetCopy([]byte(key))
	if errors.Is(err, status.ErrNotFound) {
		return "", false
	}
	if err != nil {
		t.Fatalf("GetCopy(%q) error = %v", key, err)
	}
	return string(v), true
}

// visit runs a visitor traversal and renders what it saw as "k=v,...".
func visit(t *testing.T, run func(Visitor) error) string {
	t.Helper()
	var parts []string
	err := run(func(k, v []byte) bool {
		parts = append(parts, string(k)+"="+string(v))
		return true
	})
	if err != nil {
		t.Fatalf("visit error = %v", err)
	}
	return strings.Join(parts, ",")
}

func TestScenario(t *testing.T) {
	for _, name := range sortedEngines {
		t.Run(name, func(t *testing.T) {
			e := openEngine(t, name)
			put(t, e, "a", "1", "b", "2", "c", "3")

			got := visit(t, func(fn Visitor) error { return e.GetBetween([]byte("a"), []byte("c"), fn) })
			if got != "b=2" {
				t.Errorf("GetBetween(a, c) = %q, want b=2", got)
			}
			if n, _ := e.CountAll(); n != 3 {
				t.Errorf("CountAll() = %d, want 3", n)
			}
			must(t, e.Remove([]byte("b")))
			if n, _ := e.CountAll(); n != 2 {
				t.Errorf("CountAll() after Remove = %d, want 2", n)
			}
			wantCode(t, e.Get([]byte("b"), nil), status.NotFound)
		})
	}
}

func TestPointOps(t *testing.T) {
	for _, name := range append(sortedEngines, "cmap") {
		t.Run(name, func(t *testing.T) {
			e := openEngine(t, name)

			wantCode(t, e.Exists([]byte("k")), status.NotFound)
			wantCode(t, e.Remove([]byte("k")), status.NotFound)

			put(t, e, "k", "v1", "k", "v2")
			if v, ok := get(t, e, "k"); !ok || v != "v2" {
				t.Errorf("Get(k) = (%q, %v), want v2", v, ok)
			}
			must(t, e.Exists([]byte("k")))

			var seen string
			must(t, e.Get([]byte("k"), func(v []byte) { seen = string(v) }))
			if seen != "v2" {
				t.Errorf("Get callback saw %q", seen)
			}

			put(t, e, "", "empty-key", "nil-value", "")
			if v, ok := get(t, e, ""); !ok || v != "empty-key" {
				t.Errorf("Get(\"\") = (%q, %v)", v, ok)
			}
			if v, ok := get(t, e, "nil-value"); !ok || v != "" {
				t.Errorf("Get(nil-value) = (%q, %v)", v, ok)
			}

			must(t, e.Remove([]byte("k")))
			wantCode(t, e.Remove([]byte("k")), status.NotFound)
			if _, ok := get(t, e, "k"); ok {
				t.Error("removed key still readable")
			}
		})
	}
}

func TestGetCopyIsOwned(t *testing.T) {
	e := openEngine(t, "vsmap")
	put(t, e, "k", "abc")
	v, err := e.GetCopy([]byte("k"))
	must(t, err)
	v[0] = 'X'
	if got, _ := get(t, e, "k"); got != "abc" {
		t.Errorf("stored value changed to %q", got)
	}
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name   string
		engine string
		setup  func(t *testing.T, c *config.Config, dir string)
		code   status.Code
	}{
		{"unknown engine", "btree", nil, status.WrongEngineName},
		{"persistent without path", "stree", nil, status.InvalidArgument},
		{"volatile with sync durability", "vsmap", func(t *testing.T, c *config.Config, _ string) {
			must(t, c.PutString(config.KeyDurability, DurabilitySync))
		}, status.InvalidArgument},
		{"unknown durability", "vsmap", func(t *testing.T, c *config.Config, _ string) {
			must(t, c.PutString(config.KeyDurability, "eventually"))
		}, status.InvalidArgument},
		{"negative size", "vsmap", func(t *testing.T, c *config.Config, _ string) {
			must(t, c.PutSize(-1))
		}, status.InvalidArgument},
		{"size of wrong type", "vsmap", func(t *testing.T, c *config.Config, _ string) {
			must(t, c.PutString(config.KeySize, "big"))
		}, status.ConfigTypeError},
		{"bad log level", "vsmap", func(t *testing.T, c *config.Config, _ string) {
			must(t, c.PutString(config.KeyLogLevel, "loud"))
		}, status.InvalidArgument},
		{"both create flags", "stree", func(t *testing.T, c *config.Config, dir string) {
			must(t, c.PutPath(dir))
			must(t, c.PutCreateIfMissing(true))
			must(t, c.PutCreateOrErrorIfExists(true))
		}, status.InvalidArgument},
		{"missing pool", "stree", func(t *testing.T, c *config.Config, dir string) {
			must(t, c.PutPath(dir))
		}, status.InvalidArgument},
		{"unknown compression", "stree", func(t *testing.T, c *config.Config, dir string) {
			must(t, c.PutPath(dir))
			must(t, c.PutCreateIfMissing(true))
			must(t, c.PutString(config.KeyCompression, "brotli"))
		}, status.InvalidArgument},
		{"shards not a power of two", "cmap", func(t *testing.T, c *config.Config, dir string) {
			must(t, c.PutPath(dir))
			must(t, c.PutCreateIfMissing(true))
			must(t, c.PutInt(config.KeyShards, 3))
		}, status.InvalidArgument},
		{"lsm options of wrong type", "lsm", func(t *testing.T, c *config.Config, dir string) {
			must(t, c.PutPath(dir))
			must(t, c.PutCreateIfMissing(true))
			must(t, c.PutInt(config.KeyLSM, 1))
		}, status.ConfigTypeError},
		{"stree height out of range", "stree", func(t *testing.T, c *config.Config, dir string) {
			sub := config.New()
			must(t, sub.PutInt("max_height", 99))
			must(t, c.PutPath(dir))
			must(t, c.PutCreateIfMissing(true))
			must(t, c.PutObject(config.KeySTree, sub))
		}, status.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New()
			if tt.setup != nil {
				tt.setup(t, cfg, t.TempDir())
			}
			e, err := Open(tt.engine, cfg, testOptions())
			if err == nil {
				e.Close()
				t.Fatalf("Open succeeded, want %s", tt.code)
			}
			wantCode(t, err, tt.code)
			if !cfg.Consumed() {
				t.Error("config not consumed by a failed Open")
			}
		})
	}
}

func TestOpenConsumesConfig(t *testing.T) {
	cfg := config.New()
	e, err := Open("vsmap", cfg, testOptions())
	must(t, err)
	defer e.Close()

	wantCode(t, cfg.PutInt(config.KeySize, 1), status.InvalidArgument)
	_, err = Open("vsmap", cfg, testOptions())
	wantCode(t, err, status.InvalidArgument)

	r := OpenResult("vsmap", nil, testOptions())
	if !r.OK() {
		t.Fatalf("OpenResult with nil config error = %v", r.Err())
	}
	r.Value().Close()
}

func TestOpenFromJSON(t *testing.T) {
	dir := t.TempDir()
	doc := fmt.Sprintf(`{"path": %q, "create_if_missing": true, "size": 1048576,
		"compression": "zstd", "lsm": {"write_buffer": 65536}}`, dir)
	cfg, err := config.FromJSON([]byte(doc))
	must(t, err)
	e, err := Open("lsm", cfg, testOptions())
	must(t, err)
	defer e.Close()
	st, err := e.Stats()
	must(t, err)
	if st.Capacity != 1<<20 || st.Engine != "lsm" {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestPoolInUse(t *testing.T) {
	for _, name := range persistentEngines {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			openAt(t, name, dir)
			_, err := Open(name, newConfig(t, name, dir), testOptions())
			wantCode(t, err, status.InvalidArgument)
		})
	}
}

func TestFlavorMismatch(t *testing.T) {
	dir := t.TempDir()
	e := openAt(t, "stree", dir)
	put(t, e, "a", "1")
	must(t, e.Close())

	for _, other := range []string{"cmap", "lsm"} {
		_, err := Open(other, newConfig(t, other, dir), testOptions())
		wantCode(t, err, status.InvalidArgument)
	}
	e = openAt(t, "stree", dir)
	if v, ok := get(t, e, "a"); !ok || v != "1" {
		t.Errorf("Get(a) after mismatched opens = (%q, %v)", v, ok)
	}
}

func TestCapacity(t *testing.T) {
	for _, name := range []string{"vsmap", "stree", "cmap", "lsm"} {
		t.Run(name, func(t *testing.T) {
			// Room for two one-byte records.
			e := openEngine(t, name, func(c *config.Config) { c.PutSize(2*(2+RecordOverhead) + 1) })
			put(t, e, "a", "1", "b", "2")
			wantCode(t, e.Put([]byte("c"), []byte("3")), status.OutOfMemory)
			if _, ok := get(t, e, "c"); ok {
				t.Fatal("rejected Put left a record")
			}

			must(t, e.Put([]byte("a"), []byte("12")))
			wantCode(t, e.Put([]byte("a"), []byte("123")), status.OutOfMemory)
			if !status.OutOfMemory.Retryable() {
				t.Error("OUT_OF_MEMORY should be retryable")
			}

			must(t, e.Remove([]byte("b")))
			must(t, e.Put([]byte("c"), []byte("3")))
			st, err := e.Stats()
			must(t, err)
			if st.UsedBytes != 2*(2+RecordOverhead)+1 || st.Records != 2 {
				t.Errorf("Stats() = %+v, want 2 records filling the pool", st)
			}
		})
	}
}

func TestCapacityPersists(t *testing.T) {
	dir := t.TempDir()
	e := openAt(t, "stree", dir, func(c *config.Config) { c.PutSize(4096) })
	must(t, e.Close())

	e = openAt(t, "stree", dir)
	st, err := e.Stats()
	must(t, err)
	if st.Capacity != 4096 {
		t.Errorf("Capacity after reopen = %d, want 4096", st.Capacity)
	}
}

func TestRangeVisitors(t *testing.T) {
	for _, name := range sortedEngines {
		t.Run(name, func(t *testing.T) {
			e := openEngine(t, name)
			put(t, e, "d", "4", "b", "2", "a", "1", "c", "3", "", "0")

			cases := []struct {
				name string
				run  func(Visitor) error
				want string
			}{
				{"all", e.GetAll, "=0,a=1,b=2,c=3,d=4"},
				{"above b", func(fn Visitor) error { return e.GetAbove([]byte("b"), fn) }, "c=3,d=4"},
				{"above empty", func(fn Visitor) error { return e.GetAbove(nil, fn) }, "a=1,b=2,c=3,d=4"},
				{"below c", func(fn Visitor) error { return e.GetBelow([]byte("c"), fn) }, "=0,a=1,b=2"},
				{"between a and d", func(fn Visitor) error { return e.GetBetween([]byte("a"), []byte("d"), fn) }, "b=2,c=3"},
				{"between missing bounds", func(fn Visitor) error { return e.GetBetween([]byte("aa"), []byte("cc"), fn) }, "b=2,c=3"},
				{"between equal", func(fn Visitor) error { return e.GetBetween([]byte("b"), []byte("b"), fn) }, ""},
				{"between inverted", func(fn Visitor) error { return e.GetBetween([]byte("d"), []byte("a"), fn) }, ""},
			}
			for _, tc := range cases {
				if got := visit(t, tc.run); got != tc.want {
					t.Errorf("%s = %q, want %q", tc.name, got, tc.want)
				}
			}

			counts := []struct {
				name string
				run  func() (int, error)
				want int
			}{
				{"all", e.CountAll, 5},
				{"above b", func() (int, error) { return e.CountAbove([]byte("b")) }, 2},
				{"below c", func() (int, error) { return e.CountBelow([]byte("c")) }, 3},
				{"between a and d", func() (int, error) { return e.CountBetween([]byte("a"), []byte("d")) }, 2},
				{"between inverted", func() (int, error) { return e.CountBetween([]byte("d"), []byte("a")) }, 0},
			}
			for _, tc := range counts {
				n, err := tc.run()
				if err != nil || n != tc.want {
					t.Errorf("count %s = (%d, %v), want %d", tc.name, n, err, tc.want)
				}
			}

			var keys []string
			must(t, e.GetKeysBetween([]byte("a"), []byte("d"), func(k []byte) bool {
				keys = append(keys, string(k))
				return true
			}))
			if strings.Join(keys, ",") != "b,c" {
				t.Errorf("GetKeysBetween = %v", keys)
			}
		})
	}
}

func TestVisitorStops(t *testing.T) {
	e := openEngine(t, "stree")
	put(t, e, "a", "1", "b", "2", "c", "3")

	var seen int
	err := e.GetAll(func(_, _ []byte) bool {
		seen++
		return seen < 2
	})
	wantCode(t, err, status.StoppedByCallback)
	if seen != 2 {
		t.Errorf("visitor called %d times, want 2", seen)
	}
	if status.StoppedByCallback.IsMisuse() {
		t.Error("STOPPED_BY_CB is not a misuse")
	}

	err = e.GetKeysAbove([]byte("a"), func([]byte) bool { return false })
	wantCode(t, err, status.StoppedByCallback)
}

func TestScanSequence(t *testing.T) {
	e := openEngine(t, "vsmap")
	put(t, e, "a", "1", "b", "2", "c", "3")

	var got []string
	for rec, err := range e.Scan(Above([]byte("a"))) {
		must(t, err)
		got = append(got, string(rec.Key)+"="+string(rec.Value))
	}
	if strings.Join(got, ",") != "b=2,c=3" {
		t.Errorf("Scan = %v", got)
	}

	got = got[:0]
	for rec := range e.Scan(All()) {
		got = append(got, string(rec.Key))
		break
	}
	if len(got) != 1 {
		t.Errorf("early break saw %d records", len(got))
	}
}

func TestUnorderedEngines(t *testing.T) {
	e := openEngine(t, "cmap")
	for i := 9; i >= 0; i-- {
		put(t, e, fmt.Sprint(i), "v")
	}
	var keys []string
	must(t, e.GetKeys(func(k []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	if strings.Join(keys, "") != "0123456789" {
		t.Errorf("GetKeys on cmap = %v, want ascending", keys)
	}

	wantCode(t, e.GetAbove([]byte("3"), func(_, _ []byte) bool { return true }), status.NotSupported)
	_, err := e.CountBetween([]byte("1"), []byte("5"))
	wantCode(t, err, status.NotSupported)
	_, err = e.NewReadIterator()
	wantCode(t, err, status.NotSupported)
	_, err = e.NewWriteIterator()
	wantCode(t, err, status.NotSupported)

	b := openEngine(t, "blackhole")
	put(t, b, "a", "1")
	wantCode(t, b.Exists([]byte("a")), status.NotFound)
	if n, _ := b.CountAll(); n != 0 {
		t.Errorf("blackhole CountAll() = %d", n)
	}
}

func TestMultiGet(t *testing.T) {
	e := openEngine(t, "stree")
	put(t, e, "a", "1", "c", "3")

	res := e.MultiGet([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	if len(res) != 3 {
		t.Fatalf("MultiGet returned %d results", len(res))
	}
	if !res[0].OK() || string(res[0].Value()) != "1" {
		t.Errorf("res[0] = %v", res[0].Err())
	}
	if res[1].Code() != status.NotFound {
		t.Errorf("res[1].Code() = %s", res[1].Code())
	}
	if string(res[2].ValueOr(nil)) != "3" {
		t.Errorf("res[2] = %q", res[2].ValueOr(nil))
	}
}

func TestDefrag(t *testing.T) {
	for _, name := range []string{"vsmap", "stree", "cmap", "lsm", "blackhole"} {
		t.Run(name, func(t *testing.T) {
			e := openEngine(t, name)
			for i := range 100 {
				put(t, e, fmt.Sprintf("k%02d", i%10), fmt.Sprint(i))
			}
			wantCode(t, e.Defrag(-1, 10), status.InvalidArgument)
			wantCode(t, e.Defrag(60, 50), status.InvalidArgument)
			must(t, e.Defrag(0, 100))
			if name == "blackhole" {
				return
			}
			if v, _ := get(t, e, "k03"); v != "93" {
				t.Errorf("Get(k03) after Defrag = %q, want 93", v)
			}
			if n, _ := e.CountAll(); n != 10 {
				t.Errorf("CountAll() after Defrag = %d", n)
			}
		})
	}
}

func TestReopen(t *testing.T) {
	for _, name := range persistentEngines {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			e := openAt(t, name, dir)
			put(t, e, "a", "1", "b", "2", "c", "3")
			must(t, e.Remove([]byte("b")))
			put(t, e, "a", "10")
			must(t, e.Close())

			e = openAt(t, name, dir)
			got := visit(t, e.GetAll)
			if got != "a=10,c=3" {
				t.Errorf("after reopen GetAll = %q", got)
			}
			if n, _ := e.CountAll(); n != 2 {
				t.Errorf("CountAll() after reopen = %d", n)
			}
		})
	}
}

func TestClose(t *testing.T) {
	e := openEngine(t, "stree")
	put(t, e, "a", "1")
	it, err := e.NewReadIterator()
	must(t, err)

	must(t, e.Close())
	must(t, e.Close())
	if !e.Stopped() {
		t.Error("Stopped() = false after Close")
	}
	wantCode(t, e.Put([]byte("b"), nil), status.InvalidArgument)
	wantCode(t, e.Get([]byte("a"), nil), status.InvalidArgument)
	_, err = e.CountAll()
	wantCode(t, err, status.InvalidArgument)
	wantCode(t, it.SeekToFirst(), status.InvalidArgument)
	must(t, it.Close())
}

func TestConcurrentAccess(t *testing.T) {
	e := openEngine(t, "stree", func(c *config.Config) {
		c.PutString(config.KeyDurability, DurabilityNone)
	})
	const writers, perWriter = 4, 100

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				if err := e.Put([]byte(fmt.Sprintf("w%d-%03d", w, i)), []byte("v")); err != nil {
					t.Errorf("Put error = %v", err)
					return
				}
			}
		}()
	}
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				var prev []byte
				err := e.GetAll(func(k, _ []byte) bool {
					if prev != nil && string(k) <= string(prev) {
						t.Errorf("out of order: %q after %q", k, prev)
						return false
					}
					prev = append(prev[:0], k...)
					return true
				})
				if err != nil {
					t.Errorf("GetAll error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if n, _ := e.CountAll(); n != writers*perWriter {
		t.Errorf("CountAll() = %d, want %d", n, writers*perWriter)
	}
}

func TestEngines(t *testing.T) {
	if got := strings.Join(Engines(), ","); got != "blackhole,cmap,lsm,stree,vsmap" {
		t.Errorf("Engines() = %s", got)
	}
	if IsPersistent("vsmap") || !IsPersistent("lsm") {
		t.Error("IsPersistent wrong")
	}
}
