// Package syslimit holds the boot-time system limits sysinfo reports:
// configured memory and CPU count, both derived from the device tree at
// boot.
package syslimit

// Syslimit_t is the boot-time configuration sysinfo reads from.
type Syslimit_t struct {
	MaxMem   uint64 // bytes, from fdt's summed /memory@X regions
	CPUCount int    // from fdt's /cpus/cpu@N node count
}

// New builds a Syslimit_t from the values the boot path extracted from the
// device tree (or cross-checked against fw_cfg).
func New(maxMem uint64, cpuCount int) *Syslimit_t {
	return &Syslimit_t{MaxMem: maxMem, CPUCount: cpuCount}
}
