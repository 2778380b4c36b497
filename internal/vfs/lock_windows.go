//go:build windows

package vfs

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Windows has no flock; locks are tracked per process.
var (
	heldMu sync.Mutex
	held   = map[string]bool{}
)

type fileLock struct {
	f    *os.File
	name string
}

func lockFile(name string) (io.Closer, error) {
	heldMu.Lock()
	defer heldMu.Unlock()
	if held[name] {
		return nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	held[name] = true
	return &fileLock{f: f, name: name}, nil
}

func (l *fileLock) Close() error {
	heldMu.Lock()
	delete(held, l.name)
	heldMu.Unlock()
	return l.f.Close()
}
