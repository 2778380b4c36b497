package vfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrInjectedReadError is returned when a read error is injected.
	ErrInjectedReadError = errors.New("vfs: injected read error")

	// ErrInjectedWriteError is returned when a write error is injected.
	ErrInjectedWriteError = errors.New("vfs: injected write error")

	// ErrInjectedSyncError is returned when a sync error is injected.
	ErrInjectedSyncError = errors.New("vfs: injected sync error")
)

// FaultInjectionFS wraps an FS, injects errors, and tracks unsynced data
// per file so that a crash can be simulated with DropUnsyncedData.
type FaultInjectionFS struct {
	base FS

	mu        sync.RWMutex
	fileState map[string]*fileState

	injectReadError  bool
	injectWriteError bool
	injectSyncError  bool
	readErrorPath    string
	writeErrorPath   string
	writesLeft       int // -1 = unlimited

	filesystemActive bool
}

type fileState struct {
	pos       int64
	syncedPos int64
	dirSynced bool
}

// NewFaultInjectionFS creates a fault-injecting wrapper around base.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return &FaultInjectionFS{
		base:             base,
		fileState:        make(map[string]*fileState),
		filesystemActive: true,
		writesLeft:       -1,
	}
}

// SetFilesystemActive enables or disables the filesystem. While inactive
// every mutation fails, as after a power cut.
func (fs *FaultInjectionFS) SetFilesystemActive(active bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.filesystemActive = active
}

// InjectReadError fails opens of path, or of every file if path is "".
func (fs *FaultInjectionFS) InjectReadError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectReadError = true
	fs.readErrorPath = abs(path)
}

// InjectWriteError fails creates and writes of path, or of every file if
// path is "".
func (fs *FaultInjectionFS) InjectWriteError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectWriteError = true
	fs.writeErrorPath = abs(path)
}

// FailWritesAfter lets n more writes succeed, then fails every write.
func (fs *FaultInjectionFS) FailWritesAfter(n int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.writesLeft = n
}

// InjectSyncError fails every Sync.
func (fs *FaultInjectionFS) InjectSyncError() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectSyncError = true
}

// ClearErrors clears all error injection.
func (fs *FaultInjectionFS) ClearErrors() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectReadError = false
	fs.injectWriteError = false
	fs.injectSyncError = false
	fs.readErrorPath = ""
	fs.writeErrorPath = ""
	fs.writesLeft = -1
}

func abs(path string) string {
	if path == "" {
		return ""
	}
	a, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return a
}

func (fs *FaultInjectionFS) writeBlocked(path string) bool {
	if !fs.filesystemActive {
		return true
	}
	return fs.injectWriteError && (fs.writeErrorPath == "" || fs.writeErrorPath == path)
}

// DropUnsyncedData truncates every tracked file to its last synced size.
func (fs *FaultInjectionFS) DropUnsyncedData() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for path, state := range fs.fileState {
		if state.syncedPos >= state.pos {
			continue
		}
		if err := os.Truncate(path, state.syncedPos); err != nil && !os.IsNotExist(err) {
			return err
		}
		state.pos = state.syncedPos
	}
	return nil
}

// DeleteUnsyncedFiles removes files whose directory entry was never synced.
func (fs *FaultInjectionFS) DeleteUnsyncedFiles() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for path, state := range fs.fileState {
		if !state.dirSynced {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			delete(fs.fileState, path)
		}
	}
	return nil
}

// FileState returns the tracked synced and current sizes of path.
func (fs *FaultInjectionFS) FileState(path string) (syncedPos, currentPos int64, ok bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	state, exists := fs.fileState[abs(path)]
	if !exists {
		return 0, 0, false
	}
	return state.syncedPos, state.pos, true
}

// Create creates a new writable file with fault injection.
func (fs *FaultInjectionFS) Create(name string) (WritableFile, error) {
	path := abs(name)
	fs.mu.RLock()
	blocked := fs.writeBlocked(path)
	fs.mu.RUnlock()
	if blocked {
		return nil, ErrInjectedWriteError
	}

	f, err := fs.base.Create(name)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	fs.fileState[path] = &fileState{}
	fs.mu.Unlock()
	return &faultWritableFile{base: f, fs: fs, path: path}, nil
}

// OpenAppend opens an existing file for appending. The existing contents
// count as synced.
func (fs *FaultInjectionFS) OpenAppend(name string) (WritableFile, error) {
	path := abs(name)
	fs.mu.RLock()
	blocked := fs.writeBlocked(path)
	fs.mu.RUnlock()
	if blocked {
		return nil, ErrInjectedWriteError
	}

	f, err := fs.base.OpenAppend(name)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	fs.mu.Lock()
	fs.fileState[path] = &fileState{pos: size, syncedPos: size, dirSynced: true}
	fs.mu.Unlock()
	return &faultWritableFile{base: f, fs: fs, path: path}, nil
}

// Open opens an existing file for sequential reading.
func (fs *FaultInjectionFS) Open(name string) (SequentialFile, error) {
	fs.mu.RLock()
	failed := fs.injectReadError && (fs.readErrorPath == "" || fs.readErrorPath == abs(name))
	fs.mu.RUnlock()
	if failed {
		return nil, ErrInjectedReadError
	}
	return fs.base.Open(name)
}

// Rename renames a file. The new entry is not durable until SyncDir.
func (fs *FaultInjectionFS) Rename(oldname, newname string) error {
	fs.mu.RLock()
	active := fs.filesystemActive
	fs.mu.RUnlock()
	if !active {
		return ErrInjectedWriteError
	}

	if err := fs.base.Rename(oldname, newname); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	absOld, absNew := abs(oldname), abs(newname)
	if state, ok := fs.fileState[absOld]; ok {
		state.dirSynced = false
		fs.fileState[absNew] = state
		delete(fs.fileState, absOld)
	}
	return nil
}

// Remove deletes a file.
func (fs *FaultInjectionFS) Remove(name string) error {
	if err := fs.base.Remove(name); err != nil {
		return err
	}
	fs.mu.Lock()
	delete(fs.fileState, abs(name))
	fs.mu.Unlock()
	return nil
}

// MkdirAll creates a directory and all parent directories.
func (fs *FaultInjectionFS) MkdirAll(path string, perm os.FileMode) error {
	fs.mu.RLock()
	active := fs.filesystemActive
	fs.mu.RUnlock()
	if !active {
		return ErrInjectedWriteError
	}
	return fs.base.MkdirAll(path, perm)
}

// Exists returns true if the file exists.
func (fs *FaultInjectionFS) Exists(name string) bool {
	return fs.base.Exists(name)
}

// ListDir lists files in a directory.
func (fs *FaultInjectionFS) ListDir(path string) ([]string, error) {
	return fs.base.ListDir(path)
}

// Lock acquires an exclusive lock on a file.
func (fs *FaultInjectionFS) Lock(name string) (io.Closer, error) {
	return fs.base.Lock(name)
}

// SyncDir marks every tracked file in path as durably linked.
func (fs *FaultInjectionFS) SyncDir(path string) error {
	if err := fs.base.SyncDir(path); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir := abs(path)
	for filePath, state := range fs.fileState {
		if filepath.Dir(filePath) == dir {
			state.dirSynced = true
		}
	}
	return nil
}

type faultWritableFile struct {
	base WritableFile
	fs   *FaultInjectionFS
	path string
}

func (f *faultWritableFile) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	blocked := f.fs.writeBlocked(f.path)
	if !blocked && f.fs.writesLeft == 0 {
		blocked = true
	}
	if !blocked && f.fs.writesLeft > 0 {
		f.fs.writesLeft--
	}
	f.fs.mu.Unlock()
	if blocked {
		return 0, ErrInjectedWriteError
	}

	n, err := f.base.Write(p)
	f.fs.mu.Lock()
	if state, ok := f.fs.fileState[f.path]; ok {
		state.pos += int64(n)
	}
	f.fs.mu.Unlock()
	return n, err
}

func (f *faultWritableFile) Close() error {
	return f.base.Close()
}

func (f *faultWritableFile) Sync() error {
	f.fs.mu.RLock()
	failed := f.fs.injectSyncError || !f.fs.filesystemActive
	f.fs.mu.RUnlock()
	if failed {
		return ErrInjectedSyncError
	}

	if err := f.base.Sync(); err != nil {
		return err
	}
	f.fs.mu.Lock()
	if state, ok := f.fs.fileState[f.path]; ok {
		state.syncedPos = state.pos
	}
	f.fs.mu.Unlock()
	return nil
}

func (f *faultWritableFile) Truncate(size int64) error {
	f.fs.mu.RLock()
	active := f.fs.filesystemActive
	f.fs.mu.RUnlock()
	if !active {
		return ErrInjectedWriteError
	}

	if err := f.base.Truncate(size); err != nil {
		return err
	}
	f.fs.mu.Lock()
	if state, ok := f.fs.fileState[f.path]; ok {
		state.syncedPos = min(state.syncedPos, size)
		state.pos = size
	}
	f.fs.mu.Unlock()
	return nil
}

func (f *faultWritableFile) Size() (int64, error) {
	return f.base.Size()
}
