//go:build !linux

package sysmem

// totalSystemMemory reports detection as unavailable so Total falls back to
// DefaultMemoryBytes on platforms without a sysinfo equivalent wired up.
func totalSystemMemory() (uint64, bool) {
	return 0, false
}
