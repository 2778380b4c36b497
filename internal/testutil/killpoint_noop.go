//go:build !crashtest

package testutil

// SetKillPoint is a no-op in production builds.
func SetKillPoint(_ string) {}

// SetKillPointAfter is a no-op in production builds.
func SetKillPointAfter(_ string, _ int64) {}

// ClearKillPoint is a no-op in production builds.
func ClearKillPoint() {}

// IsKillPointArmed always returns false in production builds.
func IsKillPointArmed() bool { return false }

// GetKillPointTarget always returns "" in production builds.
func GetKillPointTarget() string { return "" }

// GetKillPointHitCount always returns 0 in production builds.
func GetKillPointHitCount(_ string) int64 { return 0 }

// ResetKillPointCounts is a no-op in production builds.
func ResetKillPointCounts() {}

// MaybeKill is a no-op in production builds.
func MaybeKill(_ string) {}
