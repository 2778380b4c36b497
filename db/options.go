package db

import (
	"errors"
	"fmt"

	"github.com/aalhour/poolkv/config"
	"github.com/aalhour/poolkv/internal/compression"
	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/internal/pool"
	"github.com/aalhour/poolkv/internal/vfs"
	"github.com/aalhour/poolkv/status"
)

// Durability settings accepted by the "durability" option.
const (
	DurabilitySync = "sync"
	DurabilityNone = "none"
)

// RecordOverhead is the per-record cost charged against the pool size on
// top of the key and value bytes.
const RecordOverhead = 32

// Options carries settings that have no place in a Config.
type Options struct {
	// Logger receives engine logs. When nil, a stderr logger at the
	// configured log_level is used.
	Logger logging.Logger

	// FS is the filesystem for pool flavors. Nil selects the OS.
	FS vfs.FS
}

// settings is a validated Config.
type settings struct {
	flavor     flavor.Options
	durability string
	explicit   bool // durability was set by the caller
	logger     logging.Logger
}

// optInt reads an integer option, returning def when it is unset.
func optInt(cfg *config.Config, name string, def int64) (int64, error) {
	v, err := cfg.GetInt(name)
	if errors.Is(err, status.ErrNotFound) {
		return def, nil
	}
	return v, err
}

func optBool(cfg *config.Config, name string, def bool) (bool, error) {
	d := int64(0)
	if def {
		d = 1
	}
	v, err := optInt(cfg, name, d)
	return v != 0, err
}

func optString(cfg *config.Config, name, def string) (string, bool, error) {
	v, err := cfg.GetString(name)
	if errors.Is(err, status.ErrNotFound) {
		return def, false, nil
	}
	return v, err == nil, err
}

// parseSettings validates cfg for a flavor. cfg must be a private copy.
func parseSettings(cfg *config.Config, info flavorInfo, opts *Options) (*settings, error) {
	s := &settings{}
	fo := &s.flavor

	var err error
	if fo.Dir, _, err = optString(cfg, config.KeyPath, ""); err != nil {
		return nil, err
	}
	if info.persistent && fo.Dir == "" {
		return nil, status.Errorf(status.InvalidArgument, "flavor %q requires option %q", info.name, config.KeyPath)
	}

	if fo.Capacity, err = optInt(cfg, config.KeySize, 0); err != nil {
		return nil, err
	}
	if fo.Capacity < 0 {
		return nil, status.Errorf(status.InvalidArgument, "option %q must not be negative", config.KeySize)
	}

	if fo.CreateIfMissing, err = optBool(cfg, config.KeyCreateIfMissing, false); err != nil {
		return nil, err
	}
	exclusive, err := optBool(cfg, config.KeyCreateOrErrorIfExists, false)
	if err != nil {
		return nil, err
	}
	force, err := optBool(cfg, config.KeyForceCreate, false)
	if err != nil {
		return nil, err
	}
	if exclusive || force {
		if fo.CreateIfMissing {
			return nil, status.Errorf(status.InvalidArgument, "options %q and %q are mutually exclusive",
				config.KeyCreateIfMissing, config.KeyCreateOrErrorIfExists)
		}
		fo.CreateIfMissing = true
		fo.ErrorIfExists = true
	}

	if s.durability, s.explicit, err = optString(cfg, config.KeyDurability, DurabilitySync); err != nil {
		return nil, err
	}
	switch s.durability {
	case DurabilitySync:
		fo.Sync = true
		if s.explicit && !info.persistent {
			return nil, status.Errorf(status.InvalidArgument, "flavor %q can not satisfy durability %q", info.name, DurabilitySync)
		}
	case DurabilityNone:
	default:
		return nil, status.Errorf(status.InvalidArgument, "unknown durability %q", s.durability)
	}

	codec, _, err := optString(cfg, config.KeyCompression, compression.SnappyCompression.String())
	if err != nil {
		return nil, err
	}
	if fo.Compression, err = compression.Parse(codec); err != nil {
		return nil, status.Wrap(status.InvalidArgument, err, "option "+config.KeyCompression)
	}

	if fo.WALSizeLimit, err = optInt(cfg, config.KeyWALSizeLimit, pool.DefaultWALSizeLimit); err != nil {
		return nil, err
	}
	if fo.WALSizeLimit <= 0 {
		return nil, status.Errorf(status.InvalidArgument, "option %q must be positive", config.KeyWALSizeLimit)
	}

	if fo.ParanoidChecks, err = optBool(cfg, config.KeyParanoidChecks, true); err != nil {
		return nil, err
	}

	shards, err := optInt(cfg, config.KeyShards, 0)
	if err != nil {
		return nil, err
	}
	if shards < 0 || shards&(shards-1) != 0 {
		return nil, status.Errorf(status.InvalidArgument, "option %q must be a power of two", config.KeyShards)
	}
	fo.Shards = int(shards)

	if err := parseLSM(cfg, fo); err != nil {
		return nil, err
	}
	if err := parseSTree(cfg, fo); err != nil {
		return nil, err
	}

	level, _, err := optString(cfg, config.KeyLogLevel, logging.LevelWarn.String())
	if err != nil {
		return nil, err
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, status.Wrap(status.InvalidArgument, err, "option "+config.KeyLogLevel)
	}
	if opts != nil && !logging.IsNil(opts.Logger) {
		s.logger = opts.Logger
	} else {
		s.logger = logging.NewDefaultLogger(lvl)
	}
	fo.Logger = s.logger
	if opts != nil {
		fo.FS = opts.FS
	}

	for _, name := range cfg.Keys() {
		if !knownOptions[name] {
			s.logger.Debugf(logging.NSDB+"ignoring unknown option %q", name)
		}
	}
	return s, nil
}

var knownOptions = map[string]bool{
	config.KeyPath:                  true,
	config.KeySize:                  true,
	config.KeyCreateIfMissing:       true,
	config.KeyCreateOrErrorIfExists: true,
	config.KeyForceCreate:           true,
	config.KeyDurability:            true,
	config.KeyCompression:           true,
	config.KeyWALSizeLimit:          true,
	config.KeyParanoidChecks:        true,
	config.KeyLogLevel:              true,
	config.KeyShards:                true,
	config.KeyLSM:                   true,
	config.KeySTree:                 true,
}

func subObject(cfg *config.Config, name string) (*config.Config, error) {
	sub, err := cfg.GetObject(name)
	if errors.Is(err, status.ErrNotFound) {
		return nil, nil
	}
	return sub, err
}

func parseLSM(cfg *config.Config, fo *flavor.Options) error {
	sub, err := subObject(cfg, config.KeyLSM)
	if sub == nil || err != nil {
		return err
	}
	cache, err := optInt(sub, "block_cache_capacity", 0)
	if err != nil {
		return err
	}
	buf, err := optInt(sub, "write_buffer", 0)
	if err != nil {
		return err
	}
	if cache < 0 || buf < 0 {
		return status.Errorf(status.InvalidArgument, "option %q: sizes must not be negative", config.KeyLSM)
	}
	fo.BlockCacheCapacity = int(cache)
	fo.WriteBuffer = int(buf)
	return nil
}

func parseSTree(cfg *config.Config, fo *flavor.Options) error {
	sub, err := subObject(cfg, config.KeySTree)
	if sub == nil || err != nil {
		return err
	}
	h, err := optInt(sub, "max_height", 0)
	if err != nil {
		return err
	}
	if h < 0 || h > 32 {
		return status.Errorf(status.InvalidArgument, "option %s.max_height out of range: %d", config.KeySTree, h)
	}
	fo.MaxHeight = int(h)
	return nil
}

func (s *settings) String() string {
	fo := s.flavor
	return fmt.Sprintf("dir=%q size=%d durability=%s compression=%s wal_size_limit=%d paranoid=%v",
		fo.Dir, fo.Capacity, s.durability, fo.Compression, fo.WALSizeLimit, fo.ParanoidChecks)
}
