// Package config holds the typed option mapping consumed by db.Open.
//
// A Config maps option names to integers, strings or nested Config objects.
// Writes are last-write-wins. Once a Config has been passed to db.Open it is
// owned by the engine: every later call on it fails with INVALID_ARGUMENT.
package config

import (
	"sort"
	"sync"

	"github.com/aalhour/poolkv/status"
)

// Well-known option names.
const (
	KeyPath                  = "path"
	KeySize                  = "size"
	KeyCreateIfMissing       = "create_if_missing"
	KeyCreateOrErrorIfExists = "create_or_error_if_exists"
	KeyForceCreate           = "force_create"
	KeyDurability            = "durability"
	KeyCompression           = "compression"
	KeyWALSizeLimit          = "wal_size_limit"
	KeyParanoidChecks        = "paranoid_checks"
	KeyLogLevel              = "log_level"
	KeyShards                = "shards"
	KeyLSM                   = "lsm"
	KeySTree                 = "stree"
)

// Kind is the stored type of an option.
type Kind int

const (
	KindInt Kind = iota + 1
	KindString
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	}
	return "none"
}

type entry struct {
	kind Kind
	i    int64
	s    string
	obj  *Config
}

// Config is safe for concurrent use.
type Config struct {
	mu       sync.Mutex
	entries  map[string]entry
	consumed bool
}

// New returns an empty Config.
func New() *Config {
	return &Config{entries: make(map[string]entry)}
}

func errConsumed() error {
	return status.New(status.InvalidArgument, "config already consumed")
}

func (c *Config) put(name string, e entry) error {
	if c == nil {
		return status.New(status.InvalidArgument, "nil config")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumed {
		return errConsumed()
	}
	c.entries[name] = e
	return nil
}

// PutInt stores an integer option.
func (c *Config) PutInt(name string, v int64) error {
	return c.put(name, entry{kind: KindInt, i: v})
}

// PutString stores a string option.
func (c *Config) PutString(name, v string) error {
	return c.put(name, entry{kind: KindString, s: v})
}

// PutObject stores a nested Config. The nested value is copied, so later
// changes to sub do not affect c.
func (c *Config) PutObject(name string, sub *Config) error {
	if sub == nil {
		return status.New(status.InvalidArgument, "nil object for "+name)
	}
	cp, err := sub.clone(false)
	if err != nil {
		return err
	}
	return c.put(name, entry{kind: KindObject, obj: cp})
}

// PutPath sets the pool directory.
func (c *Config) PutPath(path string) error { return c.PutString(KeyPath, path) }

// PutSize sets the pool capacity in bytes.
func (c *Config) PutSize(size int64) error { return c.PutInt(KeySize, size) }

// PutCreateIfMissing sets whether a missing pool is created.
func (c *Config) PutCreateIfMissing(v bool) error { return c.PutInt(KeyCreateIfMissing, boolInt(v)) }

// PutCreateOrErrorIfExists sets whether open must create a fresh pool.
func (c *Config) PutCreateOrErrorIfExists(v bool) error {
	return c.PutInt(KeyCreateOrErrorIfExists, boolInt(v))
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func (c *Config) get(name string, want Kind) (entry, error) {
	if c == nil {
		return entry{}, status.New(status.InvalidArgument, "nil config")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumed {
		return entry{}, errConsumed()
	}
	e, ok := c.entries[name]
	if !ok {
		return entry{}, status.Errorf(status.NotFound, "option %q not set", name)
	}
	if e.kind != want {
		return entry{}, status.Errorf(status.ConfigTypeError, "option %q is %s, not %s", name, e.kind, want)
	}
	return e, nil
}

// GetInt returns an integer option. NOT_FOUND if unset, CONFIG_TYPE_ERROR
// if it holds another type.
func (c *Config) GetInt(name string) (int64, error) {
	e, err := c.get(name, KindInt)
	return e.i, err
}

// GetString returns a string option.
func (c *Config) GetString(name string) (string, error) {
	e, err := c.get(name, KindString)
	return e.s, err
}

// GetObject returns a copy of a nested object option.
func (c *Config) GetObject(name string) (*Config, error) {
	e, err := c.get(name, KindObject)
	if err != nil {
		return nil, err
	}
	return e.obj.clone(false)
}

// KindOf returns the stored type of an option, or 0 if unset.
func (c *Config) KindOf(name string) Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[name].kind
}

// Keys returns the option names in sorted order.
func (c *Config) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Delete drops every option and invalidates c.
func (c *Config) Delete() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.consumed = true
}

// Consumed reports whether ownership of c has been transferred.
func (c *Config) Consumed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumed
}

// Take transfers ownership: it returns a private copy of the options and
// marks c consumed. A second Take fails with INVALID_ARGUMENT.
func (c *Config) Take() (*Config, error) {
	if c == nil {
		return nil, status.New(status.InvalidArgument, "nil config")
	}
	return c.clone(true)
}

func (c *Config) clone(consume bool) (*Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumed {
		return nil, errConsumed()
	}
	cp := New()
	for k, e := range c.entries {
		if e.kind == KindObject {
			sub, err := e.obj.clone(false)
			if err != nil {
				return nil, err
			}
			e.obj = sub
		}
		cp.entries[k] = e
	}
	if consume {
		c.consumed = true
	}
	return cp, nil
}
