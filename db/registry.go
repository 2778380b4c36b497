package db

import (
	"sort"

	"github.com/aalhour/poolkv/internal/flavor"
	"github.com/aalhour/poolkv/internal/flavor/blackhole"
	"github.com/aalhour/poolkv/internal/flavor/cmap"
	"github.com/aalhour/poolkv/internal/flavor/lsm"
	"github.com/aalhour/poolkv/internal/flavor/stree"
	"github.com/aalhour/poolkv/internal/flavor/vsmap"
)

type flavorInfo struct {
	name       string
	persistent bool
	open       func(flavor.Options) (flavor.Store, error)
}

var flavors = map[string]flavorInfo{
	vsmap.Name: {
		name: vsmap.Name,
		open: func(o flavor.Options) (flavor.Store, error) { return vsmap.Open(o) },
	},
	stree.Name: {
		name:       stree.Name,
		persistent: true,
		open:       func(o flavor.Options) (flavor.Store, error) { return stree.Open(o) },
	},
	cmap.Name: {
		name:       cmap.Name,
		persistent: true,
		open:       func(o flavor.Options) (flavor.Store, error) { return cmap.Open(o) },
	},
	lsm.Name: {
		name:       lsm.Name,
		persistent: true,
		open:       func(o flavor.Options) (flavor.Store, error) { return lsm.Open(o) },
	},
	blackhole.Name: {
		name: blackhole.Name,
		open: func(o flavor.Options) (flavor.Store, error) { return blackhole.Open(o) },
	},
}

// Engines returns the names accepted by Open, sorted.
func Engines() []string {
	names := make([]string, 0, len(flavors))
	for name := range flavors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsPersistent reports whether the named engine keeps records across
// Close. Unknown names report false.
func IsPersistent(name string) bool {
	return flavors[name].persistent
}
