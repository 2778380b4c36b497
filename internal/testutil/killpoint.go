//go:build crashtest

// Package testutil provides kill points for whitebox crash testing.
//
// A kill point terminates the process at a named code location so that a
// parent test can reopen the pool and check what survived. Production
// builds compile every call to a no-op.
//
// Usage:
//
//	// In engine code:
//	testutil.MaybeKill(testutil.KPCheckpointRename0)
//
//	// In the child process of a crash test:
//	POOLKV_KILL_POINT=Checkpoint.Rename:0 go test -tags crashtest ...
package testutil

import (
	"os"
	"sync"
	"sync/atomic"
)

type killPointState struct {
	target atomic.Value // string
	armed  atomic.Bool

	mu        sync.Mutex
	hitCounts map[string]int64
	skip      map[string]int64
}

var globalKillPoint = &killPointState{
	hitCounts: make(map[string]int64),
	skip:      make(map[string]int64),
}

func init() {
	if target := os.Getenv(KillPointEnvVar); target != "" {
		SetKillPoint(target)
	}
}

// SetKillPoint arms the kill point name.
func SetKillPoint(name string) {
	globalKillPoint.target.Store(name)
	globalKillPoint.armed.Store(true)
}

// SetKillPointAfter arms name but lets the first n hits pass.
func SetKillPointAfter(name string, n int64) {
	globalKillPoint.mu.Lock()
	globalKillPoint.skip[name] = n
	globalKillPoint.mu.Unlock()
	SetKillPoint(name)
}

// ClearKillPoint disarms and clears the target.
func ClearKillPoint() {
	globalKillPoint.target.Store("")
	globalKillPoint.armed.Store(false)
}

// IsKillPointArmed returns whether a kill point is armed.
func IsKillPointArmed() bool {
	return globalKillPoint.armed.Load()
}

// GetKillPointTarget returns the current kill point target.
func GetKillPointTarget() string {
	if v, ok := globalKillPoint.target.Load().(string); ok {
		return v
	}
	return ""
}

// GetKillPointHitCount returns how many times a kill point was reached while
// armed.
func GetKillPointHitCount(name string) int64 {
	globalKillPoint.mu.Lock()
	defer globalKillPoint.mu.Unlock()
	return globalKillPoint.hitCounts[name]
}

// ResetKillPointCounts resets all hit counts.
func ResetKillPointCounts() {
	globalKillPoint.mu.Lock()
	defer globalKillPoint.mu.Unlock()
	globalKillPoint.hitCounts = make(map[string]int64)
}

// MaybeKill exits the process with status 0 when name is the armed target.
func MaybeKill(name string) {
	if !globalKillPoint.armed.Load() {
		return
	}

	globalKillPoint.mu.Lock()
	globalKillPoint.hitCounts[name]++
	hits := globalKillPoint.hitCounts[name]
	skip := globalKillPoint.skip[name]
	globalKillPoint.mu.Unlock()

	if target, _ := globalKillPoint.target.Load().(string); target == name && hits > skip {
		os.Exit(0)
	}
}
